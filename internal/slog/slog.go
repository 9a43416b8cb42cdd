/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package slog is the ambient leveled logger shared by every component
// of sessiontrace (reader, upload, webchannel, credentials): a small
// wrapper around RFC5424 structured syslog records, adapted from the
// teacher's own ingest/log package rather than reaching for logrus/zap.
package slog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/crewjam/rfc5424"
)

// Level is the closed set of severities a Logger can emit at.
type Level int

const (
	OFF Level = iota
	DEBUG
	INFO
	WARN
	ERROR
	CRITICAL
)

func (l Level) String() string {
	switch l {
	case OFF:
		return "OFF"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case CRITICAL:
		return "CRITICAL"
	}
	return "UNKNOWN"
}

func (l Level) priority() rfc5424.Priority {
	switch l {
	case DEBUG:
		return rfc5424.User | rfc5424.Debug
	case INFO:
		return rfc5424.User | rfc5424.Info
	case WARN:
		return rfc5424.User | rfc5424.Warning
	case ERROR:
		return rfc5424.User | rfc5424.Error
	case CRITICAL:
		return rfc5424.User | rfc5424.Crit
	}
	return rfc5424.User | rfc5424.Debug
}

const defaultMsgID = "sessiontrace"

// Logger writes leveled, RFC5424-structured log lines to an io.Writer.
// Every sessiontrace component takes one of these at construction time
// instead of reaching for a package-global (spec.md's ambient stack).
type Logger struct {
	mtx      sync.Mutex
	out      io.Writer
	lvl      Level
	hostname string
	appname  string
}

// New returns a Logger at lvl, writing to out, tagged with appname.
func New(out io.Writer, lvl Level, appname string) *Logger {
	host, _ := os.Hostname()
	return &Logger{out: out, lvl: lvl, hostname: host, appname: trim(appname, 48)}
}

// Nop returns a Logger that discards everything, for callers that don't
// want output.
func Nop() *Logger {
	return New(io.Discard, OFF, "")
}

func trim(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func (l *Logger) log(lvl Level, msgID, format string, args ...any) {
	if l == nil || l.lvl == OFF || lvl < l.lvl {
		return
	}
	msg := fmt.Sprintf(format, args...)
	m := rfc5424.Message{
		Priority:  lvl.priority(),
		Timestamp: time.Now(),
		Hostname:  trim(l.hostname, 255),
		AppName:   l.appname,
		MessageID: trim(msgID, 32),
		Message:   []byte(msg),
	}
	b, err := m.MarshalBinary()
	if err != nil {
		return
	}
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.out.Write(b)
	io.WriteString(l.out, "\n")
}

func (l *Logger) Debugf(format string, args ...any)    { l.log(DEBUG, defaultMsgID, format, args...) }
func (l *Logger) Infof(format string, args ...any)     { l.log(INFO, defaultMsgID, format, args...) }
func (l *Logger) Warnf(format string, args ...any)     { l.log(WARN, defaultMsgID, format, args...) }
func (l *Logger) Errorf(format string, args ...any)    { l.log(ERROR, defaultMsgID, format, args...) }
func (l *Logger) Criticalf(format string, args ...any) { l.log(CRITICAL, defaultMsgID, format, args...) }

// WithMsgID returns a logger facade that tags every record with msgID
// instead of the package default, mirroring the teacher's per-call-site
// message id convention.
func (l *Logger) WithMsgID(msgID string) *Tagged {
	return &Tagged{l: l, msgID: msgID}
}

// Tagged is a Logger bound to a fixed RFC5424 MSGID, handed to one
// component instance so its log lines are attributable at a glance.
type Tagged struct {
	l     *Logger
	msgID string
}

func (t *Tagged) Debugf(format string, args ...any)    { t.l.log(DEBUG, t.msgID, format, args...) }
func (t *Tagged) Infof(format string, args ...any)     { t.l.log(INFO, t.msgID, format, args...) }
func (t *Tagged) Warnf(format string, args ...any)     { t.l.log(WARN, t.msgID, format, args...) }
func (t *Tagged) Errorf(format string, args ...any)    { t.l.log(ERROR, t.msgID, format, args...) }
func (t *Tagged) Criticalf(format string, args ...any) { t.l.log(CRITICAL, t.msgID, format, args...) }
