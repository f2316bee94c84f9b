// GOMailSync
// Copyright (C) 2014 Simone Gotti <simone.gotti@gmail.com>
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, write to the Free Software Foundation, Inc.,
// 51 Franklin Street, Fifth Floor, Boston, MA 02110-1301 USA.

package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	sinkMu sync.Mutex
	sink   io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
)

// SetOutput replaces the destination of all loggers created afterwards.
func SetOutput(w io.Writer) {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	sink = w
}

type Logger struct {
	zl zerolog.Logger
}

func GetLogger(prefix string, loglevel string) *Logger {
	pri, err := LogLevelToPriority(loglevel)
	if err != nil {
		pri = zerolog.InfoLevel
	}
	sinkMu.Lock()
	w := sink
	sinkMu.Unlock()
	zl := zerolog.New(w).Level(pri).With().Timestamp().Str("prefix", prefix).Logger()
	return &Logger{zl: zl}
}

// With returns a child logger carrying an extra key/value field.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{zl: l.zl.With().Str(key, value).Logger()}
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.zl.Debug().Msgf(format, args...)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.zl.Info().Msgf(format, args...)
}

func (l *Logger) Warningf(format string, args ...interface{}) {
	l.zl.Warn().Msgf(format, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.zl.Error().Msgf(format, args...)
}

func (l *Logger) Debug(args ...interface{}) {
	l.zl.Debug().Msg(fmt.Sprint(args...))
}

func (l *Logger) Info(args ...interface{}) {
	l.zl.Info().Msg(fmt.Sprint(args...))
}

func (l *Logger) Error(args ...interface{}) {
	l.zl.Error().Msg(fmt.Sprint(args...))
}

// Println logs at info level, like the standard library logger.
func (l *Logger) Println(args ...interface{}) {
	l.zl.Info().Msg(fmt.Sprintln(args...))
}

var (
	LogLevelMap = map[string]zerolog.Level{
		"error": zerolog.ErrorLevel,
		"info":  zerolog.InfoLevel,
		"debug": zerolog.DebugLevel,
	}
)

func LogLevelToPriority(loglevel string) (zerolog.Level, error) {
	if l, ok := LogLevelMap[loglevel]; ok {
		return l, nil
	}
	err := fmt.Errorf("Wrong log level: %s", loglevel)
	return zerolog.NoLevel, err
}
