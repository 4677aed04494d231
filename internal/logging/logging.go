// Package logging provides named loggers over a single process-wide
// handler, so every component (peer connection, tracker client, scheduler,
// storage writer) tags its output with its own name without threading a
// logger instance through every constructor.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cenkalti/log"
)

var handler log.Handler

func init() {
	SetHandler(log.NewFileHandler(os.Stderr))
}

// SetHandler replaces the global logging handler.
func SetHandler(h log.Handler) {
	handler = h
	handler.SetFormatter(formatter{})
}

// SetLevel sets the logging level on the global handler.
func SetLevel(l log.Level) {
	handler.SetLevel(l)
}

// Logger logs messages tagged with a component name.
type Logger log.Logger

// New returns a Logger named name, forwarding to the global handler.
func New(name string) Logger {
	l := log.NewLogger(name)
	l.SetLevel(log.DEBUG)
	l.SetHandler(handler)
	return l
}

type formatter struct{}

// Format renders a record as "2014-02-28 18:15:57 INFO     [peer] conn.go:42  message".
func (formatter) Format(rec *log.Record) string {
	return fmt.Sprintf("%s %-8s [%s] %-20s %s",
		fmt.Sprint(rec.Time)[:19],
		rec.Level,
		rec.LoggerName,
		filepath.Base(rec.Filename)+":"+strconv.Itoa(rec.Line),
		rec.Message)
}
