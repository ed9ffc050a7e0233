package diary

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/logger"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/providers"
)

// NothingToSummarize is shown instead of a diary when the user has not
// talked today.
const NothingToSummarize = "오늘 나눈 대화가 없어 다이어리를 생성할 수 없습니다."

var ErrNoConversation = errors.New("no conversation today")

// Transcripts yields today's rendered conversation for a user.
type Transcripts interface {
	ExportTodayHistory(userID string) (string, error)
	Today() string
}

const writerSystemPrompt = "당신은 에세이 작가입니다."

const newEntryPrompt = `당신은 사용자의 하루를 따뜻하게 기록해주는 '회고록 작가'입니다.
아래 대화 기록을 바탕으로, 사용자의 기분과 있었던 일을 3~5문장의 '오늘의 다이어리' 형식으로 작성해주세요.
사용자의 입장에서 1인칭으로, 담담하고 따뜻한 문체로 씁니다.

[오늘의 대화]
%s`

const mergeEntryPrompt = `당신은 사용자의 하루를 따뜻하게 기록해주는 '회고록 작가'입니다.
오늘 이미 작성된 다이어리가 있습니다. 이전 다이어리와 오늘 추가로 나눈 대화를 하나의 자연스러운 '오늘의 다이어리'로 통합해주세요.
이미 적힌 내용을 반복하지 말고, 새로 나온 이야기만 덧붙여 3~6문장으로 정리합니다.
사용자의 입장에서 1인칭으로, 담담하고 따뜻한 문체로 씁니다.

[이전 다이어리]
%s

[오늘 추가로 나눈 대화]
%s`

// Composer turns today's transcript, plus any entry already saved today,
// into a single diary entry.
type Composer struct {
	transcripts Transcripts
	store       *Store
	provider    providers.LLMProvider
	model       string
	options     map[string]interface{}
}

func NewComposer(transcripts Transcripts, store *Store, provider providers.LLMProvider, model string, options map[string]interface{}) *Composer {
	return &Composer{
		transcripts: transcripts,
		store:       store,
		provider:    provider,
		model:       model,
		options:     options,
	}
}

// Compose writes today's entry for userID and returns its text. With no
// conversation today it returns NothingToSummarize and ErrNoConversation
// without calling the model or touching the store.
func (c *Composer) Compose(ctx context.Context, userID string) (string, error) {
	transcript, err := c.transcripts.ExportTodayHistory(userID)
	if err != nil {
		return "", fmt.Errorf("load transcript: %w", err)
	}
	if strings.TrimSpace(transcript) == "" {
		return NothingToSummarize, ErrNoConversation
	}

	date := c.transcripts.Today()
	prompt := fmt.Sprintf(newEntryPrompt, transcript)
	previous, err := c.store.Get(userID, date)
	switch {
	case err == nil && previous.Text != "":
		prompt = fmt.Sprintf(mergeEntryPrompt, previous.Text, transcript)
	case err != nil && !errors.Is(err, ErrNotFound):
		return "", err
	}

	resp, err := c.provider.Chat(ctx, []providers.Message{
		{Role: "system", Content: writerSystemPrompt},
		{Role: "user", Content: prompt},
	}, nil, c.model, c.options)
	if err != nil {
		return "", fmt.Errorf("compose diary: %w", err)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", fmt.Errorf("compose diary: empty completion")
	}

	if err := c.store.Save(userID, date, text); err != nil {
		return "", err
	}
	logger.InfoCF("diary", "Diary entry saved", map[string]interface{}{
		"user_id": userID,
		"date":    date,
		"merged":  previous.Text != "",
	})
	return text, nil
}
