// Package diary keeps one narrative entry per user per day and composes it
// from that day's conversation.
package diary

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/utils"
)

const dateLayout = "2006-01-02"

var (
	ErrNotFound    = errors.New("diary entry not found")
	ErrInvalidDate = errors.New("invalid diary date")
)

// Entry is one day's diary. Text excludes the "[YYYY-MM-DD]" header line.
type Entry struct {
	UserID string
	Date   string
	Text   string
}

// Store lays entries out as <dir>/<user>/<date>.txt.
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create diary dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func validDate(date string) error {
	if _, err := time.Parse(dateLayout, date); err != nil {
		return fmt.Errorf("%w %q: want YYYY-MM-DD", ErrInvalidDate, date)
	}
	return nil
}

func (s *Store) userDir(userID string) string {
	return filepath.Join(s.dir, utils.SanitizeFileComponent(userID))
}

func (s *Store) path(userID, date string) string {
	return filepath.Join(s.userDir(userID), date+".txt")
}

// Get returns the entry for (userID, date) or ErrNotFound.
func (s *Store) Get(userID, date string) (Entry, error) {
	if err := validDate(date); err != nil {
		return Entry{}, err
	}
	data, err := os.ReadFile(s.path(userID, date))
	if errors.Is(err, os.ErrNotExist) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("read diary %s/%s: %w", userID, date, err)
	}
	return Entry{UserID: userID, Date: date, Text: stripHeader(string(data), date)}, nil
}

// Save replaces the entry for (userID, date).
func (s *Store) Save(userID, date, text string) error {
	if err := validDate(date); err != nil {
		return err
	}
	if err := os.MkdirAll(s.userDir(userID), 0o755); err != nil {
		return fmt.Errorf("create diary dir: %w", err)
	}
	body := fmt.Sprintf("[%s]\n%s\n", date, strings.TrimSpace(text))
	tmp := s.path(userID, date) + ".tmp"
	if err := os.WriteFile(tmp, []byte(body), 0o644); err != nil {
		return fmt.Errorf("write diary: %w", err)
	}
	if err := os.Rename(tmp, s.path(userID, date)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write diary: %w", err)
	}
	return nil
}

func (s *Store) Delete(userID, date string) error {
	if err := validDate(date); err != nil {
		return err
	}
	err := os.Remove(s.path(userID, date))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete diary %s/%s: %w", userID, date, err)
	}
	return nil
}

// List returns the dates with an entry for userID, newest first.
func (s *Store) List(userID string) ([]string, error) {
	entries, err := os.ReadDir(s.userDir(userID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list diaries: %w", err)
	}
	var dates []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".txt") {
			continue
		}
		date := strings.TrimSuffix(name, ".txt")
		if validDate(date) != nil {
			continue
		}
		dates = append(dates, date)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates, nil
}

func stripHeader(content, date string) string {
	content = strings.TrimPrefix(content, "\ufeff")
	first, rest, found := strings.Cut(content, "\n")
	if strings.TrimSpace(first) == "["+date+"]" {
		if !found {
			return ""
		}
		content = rest
	}
	return strings.TrimSpace(content)
}
