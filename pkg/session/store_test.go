package session

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newTestStore(t *testing.T, start time.Time) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: start}
	s, err := NewStore(t.TempDir(), WithClock(clock.Now))
	require.NoError(t, err)
	return s, clock
}

func TestStore_LoadMissingReturnsDefault(t *testing.T) {
	s, _ := newTestStore(t, time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))

	sess, err := s.Load("u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", sess.UserID)
	assert.Nil(t, sess.LastVisit)
	assert.Equal(t, DefaultProfile(), sess.Profile)
	assert.Empty(t, sess.History)
}

func TestStore_AppendAndExportToday(t *testing.T) {
	s, clock := newTestStore(t, time.Date(2025, 3, 1, 22, 10, 0, 0, time.UTC))

	require.NoError(t, s.AppendMessage("u1", RoleUser, "어제 이야기"))
	clock.Set(time.Date(2025, 3, 2, 9, 5, 0, 0, time.UTC))
	require.NoError(t, s.AppendMessage("u1", RoleUser, "오늘은 산책을 했어요"))
	require.NoError(t, s.AppendMessage("u1", RoleAssistant, "좋은 시간이었겠어요."))

	today, err := s.TodayMessages("u1")
	require.NoError(t, err)
	require.Len(t, today, 2)

	out, err := s.ExportTodayHistory("u1")
	require.NoError(t, err)
	want := "[2025-03-02 09:05] 나: 오늘은 산책을 했어요\n[2025-03-02 09:05] AI: 좋은 시간이었겠어요."
	assert.Equal(t, want, out)
}

func TestStore_ExportTodayEmpty(t *testing.T) {
	s, _ := newTestStore(t, time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	out, err := s.ExportTodayHistory("nobody")
	require.NoError(t, err)
	assert.Equal(t, "", out)
}

func TestStore_MalformedFileFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "u1.json"), []byte("{not json"), 0o644))

	s, err := NewStore(dir)
	require.NoError(t, err)
	sess, err := s.Load("u1")
	require.NoError(t, err)
	assert.Equal(t, DefaultName, sess.Profile.Name)

	require.NoError(t, s.AppendMessage("u1", RoleUser, "안녕"))
	sess, err = s.Load("u1")
	require.NoError(t, err)
	assert.Len(t, sess.History, 1)
}

func TestStore_LoadsNaiveLastVisit(t *testing.T) {
	dir := t.TempDir()
	doc := `{"user_id":"u1","last_visit":"2025-02-27T08:30:00.123456","user_profile":{"name":"영희","age":"미상","mobility":"거동 가능","family":"정보 없음"},"conversation_history":[]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "u1.json"), []byte(doc), 0o644))

	s, err := NewStore(dir)
	require.NoError(t, err)
	sess, err := s.Load("u1")
	require.NoError(t, err)
	require.NotNil(t, sess.LastVisit)
	assert.Equal(t, 27, sess.LastVisit.Day())
	assert.Equal(t, "영희", sess.Profile.Name)
}

func TestStore_UpdateProfileAndLastVisitRoundTrip(t *testing.T) {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	s, _ := newTestStore(t, start)

	_, err := s.Update("u1", func(sess *Session) {
		sess.Profile.Name = "철수"
		sess.Profile.Emotion = "불안"
	})
	require.NoError(t, err)
	require.NoError(t, s.UpdateLastVisit("u1"))

	sess, err := s.Load("u1")
	require.NoError(t, err)
	assert.Equal(t, "철수", sess.Profile.Name)
	assert.Equal(t, "불안", sess.Profile.Emotion)
	require.NotNil(t, sess.LastVisit)
	assert.True(t, sess.LastVisit.Equal(start))
}

func TestStore_SaveRequiresUserID(t *testing.T) {
	s, _ := newTestStore(t, time.Now())
	assert.Error(t, s.Save(&Session{}))
}

func TestStore_UsersSanitizesIDs(t *testing.T) {
	s, _ := newTestStore(t, time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	require.NoError(t, s.AppendMessage("b", RoleUser, "x"))
	require.NoError(t, s.AppendMessage("discord:a/1", RoleUser, "y"))

	users, err := s.Users()
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "discord_a_1"}, users)

	entries, err := os.ReadDir(s.dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), ".tmp-"), "temp file left behind: %s", e.Name())
	}
}

func TestStore_ConcurrentAppendsAreSerialized(t *testing.T) {
	s, _ := newTestStore(t, time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.AppendMessage("u1", RoleUser, "hi"))
		}()
	}
	wg.Wait()

	sess, err := s.Load("u1")
	require.NoError(t, err)
	assert.Len(t, sess.History, 20)
}
