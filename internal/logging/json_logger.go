package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"sync"
	"time"
)

// JSONLogger writes one JSON object per line.
type JSONLogger struct {
	mu  sync.Mutex
	out io.Writer
}

func NewJSONLogger(out io.Writer) *JSONLogger {
	if out == nil {
		out = os.Stdout
	}
	return &JSONLogger{out: out}
}

func (l *JSONLogger) log(level, msg string, fields map[string]any) {
	entry := map[string]any{
		"level": level,
		"msg":   msg,
		"time":  time.Now().UTC().Format(time.RFC3339),
	}
	maps.Copy(entry, fields)

	b, _ := json.Marshal(entry)

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.out, string(b))
}

func (l *JSONLogger) Info(msg string, fields map[string]any) {
	l.log("INFO", msg, fields)
}

func (l *JSONLogger) Error(msg string, fields map[string]any) {
	l.log("ERROR", msg, fields)
}
