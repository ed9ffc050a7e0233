package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap/zapcore"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Sync() error { return nil }

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

var _ zapcore.WriteSyncer = (*syncBuffer)(nil)

func TestLogger_ComponentAndFields(t *testing.T) {
	out := &syncBuffer{}
	SetOutput(out)
	SetLevel(INFO)
	t.Cleanup(func() { Configure("console", INFO) })

	InfoCF("retrieval", "search done", map[string]interface{}{"hits": 3, "namespace": "ordinance"})

	line := strings.TrimSpace(out.String())
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", line, err)
	}
	if entry["component"] != "retrieval" {
		t.Fatalf("expected component retrieval, got %v", entry["component"])
	}
	if entry["msg"] != "search done" {
		t.Fatalf("unexpected message: %v", entry["msg"])
	}
	if entry["hits"] != float64(3) {
		t.Fatalf("expected hits field 3, got %v", entry["hits"])
	}
}

func TestLogger_LevelFiltersDebug(t *testing.T) {
	out := &syncBuffer{}
	SetOutput(out)
	SetLevel(INFO)
	t.Cleanup(func() { Configure("console", INFO) })

	DebugC("agent", "hidden")
	if out.String() != "" {
		t.Fatalf("expected debug to be filtered at info level, got %q", out.String())
	}

	SetLevel(DEBUG)
	DebugC("agent", "visible")
	if !strings.Contains(out.String(), "visible") {
		t.Fatalf("expected debug output after SetLevel(DEBUG), got %q", out.String())
	}
	if GetLevel() != DEBUG {
		t.Fatalf("expected level DEBUG, got %v", GetLevel())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   DEBUG,
		"WARNING": WARN,
		"error":   ERROR,
		"":        INFO,
		"bogus":   INFO,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
