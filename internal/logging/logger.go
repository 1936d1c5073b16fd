package logging

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

type ctxKey struct{}

// WithCorrelationID attaches a correlation identifier to the context so every
// log line emitted downstream can be tied back to the originating request.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// CorrelationID returns the correlation identifier from ctx, or "".
func CorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKey{}).(string); ok {
		return v
	}
	return ""
}

type entry struct {
	Timestamp     time.Time      `json:"timestamp"`
	Level         string         `json:"level"`
	Service       string         `json:"service"`
	Message       string         `json:"message"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Fields        map[string]any `json:"fields,omitempty"`
}

// Logger writes one JSON object per line to the process log.
type Logger struct {
	service string
	level   Level
}

func New(service string) *Logger {
	l := &Logger{service: service, level: LevelInfo}
	if os.Getenv("LOG_LEVEL") == "debug" {
		l.level = LevelDebug
	}
	return l
}

func (l *Logger) Debug(ctx context.Context, msg string, fields ...map[string]any) {
	l.write(ctx, LevelDebug, msg, fields)
}

func (l *Logger) Info(ctx context.Context, msg string, fields ...map[string]any) {
	l.write(ctx, LevelInfo, msg, fields)
}

func (l *Logger) Warn(ctx context.Context, msg string, fields ...map[string]any) {
	l.write(ctx, LevelWarn, msg, fields)
}

func (l *Logger) Error(ctx context.Context, msg string, fields ...map[string]any) {
	l.write(ctx, LevelError, msg, fields)
}

func (l *Logger) write(ctx context.Context, level Level, msg string, fields []map[string]any) {
	if level < l.level {
		return
	}
	e := entry{
		Timestamp:     time.Now().UTC(),
		Level:         level.String(),
		Service:       l.service,
		Message:       msg,
		CorrelationID: CorrelationID(ctx),
	}
	if len(fields) > 0 {
		e.Fields = map[string]any{}
		for _, f := range fields {
			for k, v := range f {
				e.Fields[k] = v
			}
		}
	}
	b, err := json.Marshal(e)
	if err != nil {
		log.Printf("logging: marshal entry: %v", err)
		return
	}
	log.Println(string(b))
}
