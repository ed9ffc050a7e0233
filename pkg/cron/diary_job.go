package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/diary"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/logger"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/session"
)

// ActiveUsers lists users and the messages they exchanged today.
type ActiveUsers interface {
	Users() ([]string, error)
	TodayMessages(userID string) ([]session.Message, error)
}

type Composer interface {
	Compose(ctx context.Context, userID string) (string, error)
}

// DiaryReport summarizes one nightly pass.
type DiaryReport struct {
	Composed []string
	Skipped  int
	Failed   map[string]error
}

// NightlyDiary composes a diary entry for every user who talked today.
// Each user is handled independently so one failure does not block the rest.
func NightlyDiary(users ActiveUsers, composer Composer) Job {
	return func(ctx context.Context, at time.Time) error {
		report, err := ComposeDiaries(ctx, users, composer)
		if err != nil {
			return err
		}
		logger.InfoCF("cron", "Nightly diary pass complete", map[string]interface{}{
			"at":       at.Format(time.RFC3339),
			"composed": len(report.Composed),
			"skipped":  report.Skipped,
			"failed":   len(report.Failed),
		})
		if len(report.Failed) > 0 {
			return fmt.Errorf("diary composition failed for %d user(s)", len(report.Failed))
		}
		return nil
	}
}

func ComposeDiaries(ctx context.Context, users ActiveUsers, composer Composer) (DiaryReport, error) {
	report := DiaryReport{Failed: map[string]error{}}
	ids, err := users.Users()
	if err != nil {
		return report, fmt.Errorf("list users: %w", err)
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		msgs, err := users.TodayMessages(id)
		if err != nil {
			report.Failed[id] = err
			continue
		}
		if len(msgs) == 0 {
			report.Skipped++
			continue
		}
		if _, err := composer.Compose(ctx, id); err != nil {
			if errors.Is(err, diary.ErrNoConversation) {
				report.Skipped++
				continue
			}
			logger.WarnCF("cron", "Diary composition failed", map[string]interface{}{
				"user_id": id,
				"error":   err.Error(),
			})
			report.Failed[id] = err
			continue
		}
		report.Composed = append(report.Composed, id)
	}
	return report, nil
}
