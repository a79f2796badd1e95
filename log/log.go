// Copyright 2024 PlayCanvas Ltd. All rights reserved.
// Use of this source code is governed by the MIT
// license that can be found in the LICENSE file.

// Package log provides a minimal leveled, key/value logging facade with a
// pluggable backend. Library types accept a Logger through their options and
// never log through a global by default.
package log

import (
	"fmt"
	"io"
	"log"
	"sync"
)

// Logger is a logger interface.
type Logger interface {
	Log(level Level, keyvals ...interface{}) error
}

type stdLogger struct {
	log  *log.Logger
	pool *sync.Pool
}

// NewStdLogger returns a new logger writing plain text to w.
func NewStdLogger(w io.Writer) Logger {
	return &stdLogger{
		log: log.New(w, "", 0),
		pool: &sync.Pool{
			New: func() interface{} {
				return new(bytes)
			},
		},
	}
}

type bytes []byte

// Log prints the kv pairs to the logger's writer.
func (l *stdLogger) Log(level Level, keyvals ...interface{}) error {
	if len(keyvals) == 0 {
		return nil
	}
	if (len(keyvals) & 1) == 1 {
		keyvals = append(keyvals, "KEYVALS UNPAIRED")
	}
	buf := l.pool.Get().(*bytes)
	defer l.pool.Put(buf)
	*buf = (*buf)[:0]
	*buf = append(*buf, level.String()...)
	for i := 0; i < len(keyvals); i += 2 {
		*buf = append(*buf, fmt.Sprintf(" %s=%v", keyvals[i], keyvals[i+1])...)
	}
	l.log.Output(4, string(*buf)) //nolint:errcheck
	return nil
}
