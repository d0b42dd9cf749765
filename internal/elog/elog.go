// Package elog is the structured logger used throughout the core, wrapping
// multiple io.Writer destinations behind a leveled API and rendering each
// line as an RFC 5424 syslog message.
//
// Grounded on the teacher's ingest/log/logging.go Logger: a mutex-guarded
// set of writers, a level filter, and an RFC 5424-formatted line builder
// via github.com/crewjam/rfc5424.
package elog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/crewjam/rfc5424"
)

// Level is the logger's severity filter (spec.md §10 ambient stack:
// logging is carried regardless of any feature Non-goal).
type Level int

const (
	Off Level = iota
	Debug
	Info
	Warn
	Error
	Critical
)

// DefaultProcID mirrors the teacher's DefaultID constant; every line
// carries it in the syslog MSGID field.
const DefaultProcID = "et@1"

// Logger writes leveled, RFC 5424-formatted lines to one or more writers.
type Logger struct {
	mu       sync.Mutex
	writers  []io.Writer
	level    Level
	hostname string
	appname  string
	procID   string
}

// New returns a logger at level Info writing to w, matching the teacher's
// New(wtr) default.
func New(w io.Writer) *Logger {
	host, _ := os.Hostname()
	return &Logger{
		writers:  []io.Writer{w},
		level:    Info,
		hostname: host,
		appname:  "etd",
		procID:   DefaultProcID,
	}
}

// NewFile opens f in append mode and returns a logger writing to it,
// mirroring the teacher's NewFile helper.
func NewFile(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0660)
	if err != nil {
		return nil, err
	}
	return New(f), nil
}

// NewDiscard returns a logger that drops every line, for tests and
// components that want the interface without the output.
func NewDiscard() *Logger { return New(io.Discard) }

// SetLevel changes the minimum level that is actually written.
func (l *Logger) SetLevel(lvl Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = lvl
}

// AddWriter fans output out to an additional destination.
func (l *Logger) AddWriter(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writers = append(l.writers, w)
}

// SetAppname overrides the syslog APP-NAME field (default "etd").
func (l *Logger) SetAppname(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appname = name
}

func (l *Logger) Debugf(f string, args ...interface{}) { l.outputf(Debug, f, args...) }
func (l *Logger) Infof(f string, args ...interface{})  { l.outputf(Info, f, args...) }
func (l *Logger) Warnf(f string, args ...interface{})  { l.outputf(Warn, f, args...) }
func (l *Logger) Errorf(f string, args ...interface{}) { l.outputf(Error, f, args...) }

func priority(lvl Level) rfc5424.Priority {
	switch lvl {
	case Debug:
		return rfc5424.User | rfc5424.Debug
	case Info:
		return rfc5424.User | rfc5424.Info
	case Warn:
		return rfc5424.User | rfc5424.Warning
	case Error:
		return rfc5424.User | rfc5424.Error
	case Critical:
		return rfc5424.User | rfc5424.Crit
	default:
		return rfc5424.User | rfc5424.Info
	}
}

func (l *Logger) outputf(lvl Level, f string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level == Off || lvl < l.level {
		return
	}
	msg := rfc5424.Message{
		Priority:  priority(lvl),
		Timestamp: time.Now(),
		Hostname:  l.hostname,
		AppName:   l.appname,
		MessageID: l.procID,
		Message:   []byte(fmt.Sprintf(f, args...)),
	}
	line, err := msg.MarshalBinary()
	if err != nil {
		return
	}
	for _, w := range l.writers {
		_, _ = w.Write(line)
		_, _ = w.Write([]byte("\n"))
	}
}
