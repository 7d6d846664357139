// Package logger provides the structured logger used across the CLI and
// the engine. Output is either human-readable lines or one JSON object
// per line, selected at construction.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
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

type Logger struct {
	mu    sync.Mutex
	out   io.Writer
	json  bool
	level Level
}

func New(jsonOutput bool) *Logger {
	return &Logger{out: os.Stdout, json: jsonOutput, level: LevelInfo}
}

// NewWriter is New with an explicit destination, used by tests to capture
// output.
func NewWriter(w io.Writer, jsonOutput bool) *Logger {
	return &Logger{out: w, json: jsonOutput, level: LevelInfo}
}

func (l *Logger) SetLevel(level Level) { l.level = level }

// JSONEnabled reports whether this logger emits JSON lines.
func (l *Logger) JSONEnabled() bool { return l.json }

func (l *Logger) log(level Level, msg string, fields map[string]any) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.json {
		if len(fields) > 0 {
			b, _ := json.Marshal(fields)
			fmt.Fprintf(l.out, "[%s] %s %s\n", level, msg, string(b))
		} else {
			fmt.Fprintf(l.out, "[%s] %s\n", level, msg)
		}
		return
	}
	payload := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"level": level.String(),
		"msg":   msg,
	}
	for k, v := range fields {
		payload[k] = v
	}
	enc := json.NewEncoder(l.out)
	_ = enc.Encode(payload)
}

func (l *Logger) Debug(msg string, fields map[string]any) { l.log(LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields map[string]any)  { l.log(LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields map[string]any)  { l.log(LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields map[string]any) { l.log(LevelError, msg, fields) }
