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

var (
	mu      sync.RWMutex
	base    *zap.Logger
	atomLvl = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

func init() {
	base = newZap("console", os.Stderr)
}

func newZap(format string, out zapcore.WriteSyncer) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if strings.EqualFold(format, "json") {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	return zap.New(zapcore.NewCore(enc, zapcore.Lock(out), atomLvl))
}

// Init rebuilds the process logger. format is "console" or "json".
func Init(level, format string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	l := newZap(format, os.Stderr)
	mu.Lock()
	base = l
	mu.Unlock()
	SetLevel(lvl)
	return nil
}

// SetLogger replaces the underlying zap logger. Tests pass a logger built on
// zaptest/observer to capture entries.
func SetLogger(l *zap.Logger) {
	if l == nil {
		return
	}
	mu.Lock()
	base = l
	mu.Unlock()
}

func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "", "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("unknown log level %q", s)
	}
}

func SetLevel(level LogLevel) {
	atomLvl.SetLevel(level.zapLevel())
}

func GetLevel() LogLevel {
	switch atomLvl.Level() {
	case zapcore.DebugLevel:
		return DEBUG
	case zapcore.WarnLevel:
		return WARN
	case zapcore.ErrorLevel:
		return ERROR
	default:
		return INFO
	}
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func Sync() {
	mu.RLock()
	l := base
	mu.RUnlock()
	_ = l.Sync()
}

func logCF(level zapcore.Level, component, message string, fields map[string]interface{}) {
	mu.RLock()
	l := base
	mu.RUnlock()

	ce := l.Check(level, message)
	if ce == nil {
		return
	}
	zf := make([]zap.Field, 0, len(fields)+1)
	if component != "" {
		zf = append(zf, zap.String("component", component))
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		zf = append(zf, zap.Any(k, fields[k]))
	}
	ce.Write(zf...)
}

func DebugCF(component, message string, fields map[string]interface{}) {
	logCF(zapcore.DebugLevel, component, message, fields)
}

func InfoCF(component, message string, fields map[string]interface{}) {
	logCF(zapcore.InfoLevel, component, message, fields)
}

func WarnCF(component, message string, fields map[string]interface{}) {
	logCF(zapcore.WarnLevel, component, message, fields)
}

func ErrorCF(component, message string, fields map[string]interface{}) {
	logCF(zapcore.ErrorLevel, component, message, fields)
}

func DebugC(component, message string) { DebugCF(component, message, nil) }
func InfoC(component, message string)  { InfoCF(component, message, nil) }
func WarnC(component, message string)  { WarnCF(component, message, nil) }
func ErrorC(component, message string) { ErrorCF(component, message, nil) }
