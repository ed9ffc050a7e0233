package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/logger"
	"github.com/SKN19-3rd-4th-Project/Well-dying/pkg/utils"
)

// Store keeps one <user>.json per user under dir. Mutations are
// load-modify-save under a per-user lock; writes go through a temp file and
// rename so a crash never leaves a half-written document.
type Store struct {
	dir   string
	now   func() time.Time
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type Option func(*Store)

// WithClock overrides time.Now, for tests and replays.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	s := &Store{dir: dir, now: time.Now, locks: map[string]*sync.Mutex{}}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Now is the store's clock.
func (s *Store) Now() time.Time { return s.now() }

// Today is the store clock's calendar date, YYYY-MM-DD.
func (s *Store) Today() string { return s.now().Format("2006-01-02") }

func (s *Store) path(userID string) string {
	return filepath.Join(s.dir, utils.SanitizeFileComponent(userID)+".json")
}

func (s *Store) lock(userID string) func() {
	s.mu.Lock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Load returns the user's session or a fresh default one. A file that
// cannot be parsed is logged at WARN and replaced by the default on the
// next save.
func (s *Store) Load(userID string) (*Session, error) {
	defer s.lock(userID)()
	return s.load(userID)
}

func (s *Store) load(userID string) (*Session, error) {
	path := s.path(userID)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return newSession(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", path, err)
	}

	var doc rawSession
	if err := json.Unmarshal(data, &doc); err != nil {
		logger.WarnCF("session", "Malformed session file, starting fresh", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
		return newSession(userID), nil
	}
	return doc.toSession(userID), nil
}

// Save writes sess atomically.
func (s *Store) Save(sess *Session) error {
	if sess == nil || strings.TrimSpace(sess.UserID) == "" {
		return fmt.Errorf("session user id is required")
	}
	defer s.lock(sess.UserID)()
	return s.save(sess)
}

func (s *Store) save(sess *Session) error {
	if sess.History == nil {
		sess.History = []Message{}
	}
	data, err := json.MarshalIndent(toRaw(sess), "", "    ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return writeFileAtomic(s.path(sess.UserID), data)
}

// Update applies fn to the stored session and saves the result.
func (s *Store) Update(userID string, fn func(*Session)) (*Session, error) {
	defer s.lock(userID)()
	sess, err := s.load(userID)
	if err != nil {
		return nil, err
	}
	fn(sess)
	if err := s.save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// AppendMessage adds one timestamped line to the transcript.
func (s *Store) AppendMessage(userID, role, content string) error {
	ts := s.now().Format(time.RFC3339)
	_, err := s.Update(userID, func(sess *Session) {
		sess.History = append(sess.History, Message{Timestamp: ts, Role: role, Content: content})
	})
	return err
}

func (s *Store) UpdateLastVisit(userID string) error {
	now := s.now()
	_, err := s.Update(userID, func(sess *Session) { sess.LastVisit = &now })
	return err
}

// TodayMessages returns the transcript lines dated today.
func (s *Store) TodayMessages(userID string) ([]Message, error) {
	sess, err := s.Load(userID)
	if err != nil {
		return nil, err
	}
	return sess.On(s.Today()), nil
}

// ExportTodayHistory renders today's transcript; "" when there is none.
func (s *Store) ExportTodayHistory(userID string) (string, error) {
	msgs, err := s.TodayMessages(userID)
	if err != nil {
		return "", err
	}
	return FormatTranscript(msgs), nil
}

// WelcomeMessage greets userID based on their stored last visit.
func (s *Store) WelcomeMessage(userID string) (string, error) {
	sess, err := s.Load(userID)
	if err != nil {
		return "", err
	}
	return Welcome(sess.Profile, sess.LastVisit, s.now()), nil
}

// Users lists every user with a session file, sorted.
func (s *Store) Users() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		out = append(out, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(out)
	return out, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// rawSession mirrors the on-disk layout. last_visit is kept as a string so
// timestamps written without a zone still load.
type rawSession struct {
	UserID    string    `json:"user_id"`
	LastVisit *string   `json:"last_visit"`
	Profile   *Profile  `json:"user_profile"`
	History   []Message `json:"conversation_history"`
}

var visitLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"}

func (r rawSession) toSession(userID string) *Session {
	sess := newSession(userID)
	if r.Profile != nil {
		sess.Profile = *r.Profile
	}
	if r.History != nil {
		sess.History = r.History
	}
	if r.LastVisit != nil && *r.LastVisit != "" {
		for _, layout := range visitLayouts {
			if t, err := time.ParseInLocation(layout, *r.LastVisit, time.Local); err == nil {
				sess.LastVisit = &t
				break
			}
		}
	}
	return sess
}

func toRaw(sess *Session) rawSession {
	r := rawSession{UserID: sess.UserID, Profile: &sess.Profile, History: sess.History}
	if sess.LastVisit != nil {
		v := sess.LastVisit.Format(time.RFC3339)
		r.LastVisit = &v
	}
	return r
}
