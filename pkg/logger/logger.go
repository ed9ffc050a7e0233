package logger

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[LogLevel]string{
	DEBUG: "debug",
	INFO:  "info",
	WARN:  "warn",
	ERROR: "error",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "info"
}

// ParseLevel maps a config string to a level, falling back to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

var (
	mu      sync.RWMutex
	level   = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	base    *zap.Logger
	current = INFO
)

func init() {
	base = build("console", os.Stderr)
}

func build(format string, out zapcore.WriteSyncer) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if format == "json" {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	return zap.New(zapcore.NewCore(enc, out, level))
}

// Configure swaps the output format ("console" or "json") and level.
func Configure(format string, lvl LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	_ = base.Sync()
	base = build(strings.ToLower(strings.TrimSpace(format)), os.Stderr)
	setLevelLocked(lvl)
}

// SetOutput redirects log output, mostly for tests.
func SetOutput(ws zapcore.WriteSyncer) {
	mu.Lock()
	defer mu.Unlock()
	base = build("json", ws)
}

func SetLevel(lvl LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	setLevelLocked(lvl)
}

func setLevelLocked(lvl LogLevel) {
	current = lvl
	switch lvl {
	case DEBUG:
		level.SetLevel(zapcore.DebugLevel)
	case WARN:
		level.SetLevel(zapcore.WarnLevel)
	case ERROR:
		level.SetLevel(zapcore.ErrorLevel)
	default:
		level.SetLevel(zapcore.InfoLevel)
	}
}

func GetLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = base.Sync()
}

func logMessage(lvl LogLevel, component string, message string, fields map[string]interface{}) {
	mu.RLock()
	l := base
	mu.RUnlock()

	zfields := make([]zap.Field, 0, len(fields)+1)
	if component != "" {
		zfields = append(zfields, zap.String("component", component))
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		zfields = append(zfields, toField(k, fields[k]))
	}

	switch lvl {
	case DEBUG:
		l.Debug(message, zfields...)
	case WARN:
		l.Warn(message, zfields...)
	case ERROR:
		l.Error(message, zfields...)
	default:
		l.Info(message, zfields...)
	}
}

func toField(key string, value interface{}) zap.Field {
	switch v := value.(type) {
	case error:
		return zap.NamedError(key, v)
	case fmt.Stringer:
		return zap.Stringer(key, v)
	default:
		return zap.Any(key, v)
	}
}

func Debug(message string) { logMessage(DEBUG, "", message, nil) }

func DebugC(component string, message string) { logMessage(DEBUG, component, message, nil) }

func DebugF(message string, fields map[string]interface{}) { logMessage(DEBUG, "", message, fields) }

func DebugCF(component string, message string, fields map[string]interface{}) {
	logMessage(DEBUG, component, message, fields)
}

func Info(message string) { logMessage(INFO, "", message, nil) }

func InfoC(component string, message string) { logMessage(INFO, component, message, nil) }

func InfoF(message string, fields map[string]interface{}) { logMessage(INFO, "", message, fields) }

func InfoCF(component string, message string, fields map[string]interface{}) {
	logMessage(INFO, component, message, fields)
}

func Warn(message string) { logMessage(WARN, "", message, nil) }

func WarnC(component string, message string) { logMessage(WARN, component, message, nil) }

func WarnF(message string, fields map[string]interface{}) { logMessage(WARN, "", message, fields) }

func WarnCF(component string, message string, fields map[string]interface{}) {
	logMessage(WARN, component, message, fields)
}

func Error(message string) { logMessage(ERROR, "", message, nil) }

func ErrorC(component string, message string) { logMessage(ERROR, component, message, nil) }

func ErrorF(message string, fields map[string]interface{}) { logMessage(ERROR, "", message, fields) }

func ErrorCF(component string, message string, fields map[string]interface{}) {
	logMessage(ERROR, component, message, fields)
}
