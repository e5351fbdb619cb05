package cache

import (
	"encoding/json"
	"log"
	"time"
)

// Logger is a simple structured logger interface.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// StdLogger implements Logger using the standard log package with JSON output.
type StdLogger struct{}

func (l *StdLogger) Info(msg string, fields map[string]interface{}) {
	l.emit("info", msg, fields)
}

func (l *StdLogger) Error(msg string, fields map[string]interface{}) {
	l.emit("error", msg, fields)
}

// emit copies the fields before annotating them, so callers can pass nil or
// reuse their maps.
func (l *StdLogger) emit(level, msg string, fields map[string]interface{}) {
	entry := make(map[string]interface{}, len(fields)+3)
	for k, v := range fields {
		entry[k] = v
	}
	entry["level"] = level
	entry["msg"] = msg
	entry["ts"] = time.Now().Format(time.RFC3339)
	b, _ := json.Marshal(entry)
	log.Println(string(b))
}
