// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package logger provides logging wrappers
//
// These wrappers allow us to standardize logging while still using a third-party
// logging package.
//
// This package is currently implemented on top of the sirupsen/logrus package:
//   https://github.com/sirupsen/logrus
//
// The APIs here add package and calling function to all logs. Logs issued via
// a RankLogger additionally carry the rank of the worker issuing them so that
// interleaved output from co-located ranks can be separated.
//
// Trace logs are only emitted when enabled via [Logging]TraceEnabled.
package logger

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/NVIDIA/sfbench/utils"
)

type Level int

// Our logging levels - These are the different logging levels supported by this package.
//
// When we do our logging we need to map from our levels to the logrus ones
// before calling logrus APIs.
const (
	// FatalLevel corresponds to logrus.FatalLevel; Logrus will log and then calls `os.Exit(1)`.
	FatalLevel Level = iota
	// ErrorLevel corresponds to logrus.ErrorLevel
	ErrorLevel
	// WarnLevel corresponds to logrus.WarnLevel
	WarnLevel
	// InfoLevel corresponds to logrus.InfoLevel
	InfoLevel
	// TraceLevel is used for operational logs that trace success path through the application.
	// When enabled, these are logged at logrus.InfoLevel.
	TraceLevel
)

// Log fields supported by logger:
const packageKey string = "package"
const functionKey string = "function"
const errorKey string = "error"
const gidKey string = "goroutine"
const pidKey string = "pid"
const rankKey string = "rank"

var backtraceOneLevel int = 1

func logEnabled(level Level) bool {
	if (TraceLevel == level) && !globals.traceEnabled {
		return false
	}
	return true
}

// newLogEntry creates a logrus entry carrying the calling function and
// package (level frames above our caller) plus any extra fields.
func newLogEntry(level int, fields log.Fields) *log.Entry {
	fn, pkg, gid := utils.GetFuncPackage(level + 1)

	if nil == fields {
		fields = make(log.Fields)
	}
	fields[functionKey] = fn
	fields[packageKey] = pkg
	fields[gidKey] = gid
	fields[pidKey] = globals.pid

	return log.WithFields(fields)
}

// emit is the common low-level logging function used internal to this package.
func emit(entry *log.Entry, level Level, logString string) {
	switch level {
	case FatalLevel:
		entry.Fatal(logString)
	case ErrorLevel:
		entry.Error(logString)
	case WarnLevel:
		entry.Warn(logString)
	case InfoLevel, TraceLevel:
		entry.Info(logString)
	}
}

func logf(level Level, fields log.Fields, format string, args ...interface{}) {
	if !logEnabled(level) {
		return
	}
	// Skip logf() and the exported wrapper
	emit(newLogEntry(backtraceOneLevel+1, fields), level, fmt.Sprintf(format, args...))
}

func Errorf(format string, args ...interface{}) {
	logf(ErrorLevel, nil, format, args...)
}

func Fatalf(format string, args ...interface{}) {
	logf(FatalLevel, nil, format, args...)
}

func Infof(format string, args ...interface{}) {
	logf(InfoLevel, nil, format, args...)
}

func Tracef(format string, args ...interface{}) {
	logf(TraceLevel, nil, format, args...)
}

func Warnf(format string, args ...interface{}) {
	logf(WarnLevel, nil, format, args...)
}

func ErrorfWithError(err error, format string, args ...interface{}) {
	logf(ErrorLevel, log.Fields{errorKey: err}, format, args...)
}

func FatalfWithError(err error, format string, args ...interface{}) {
	logf(FatalLevel, log.Fields{errorKey: err}, format, args...)
}

func WarnfWithError(err error, format string, args ...interface{}) {
	logf(WarnLevel, log.Fields{errorKey: err}, format, args...)
}

// RankLogger stamps every log with the rank of the worker issuing it.
type RankLogger struct {
	rank int
}

// WithRank returns a RankLogger for the given rank.
func WithRank(rank int) *RankLogger {
	return &RankLogger{rank: rank}
}

func (rankLogger *RankLogger) Rank() int {
	return rankLogger.rank
}

func (rankLogger *RankLogger) Errorf(format string, args ...interface{}) {
	logf(ErrorLevel, log.Fields{rankKey: rankLogger.rank}, format, args...)
}

func (rankLogger *RankLogger) Infof(format string, args ...interface{}) {
	logf(InfoLevel, log.Fields{rankKey: rankLogger.rank}, format, args...)
}

func (rankLogger *RankLogger) Tracef(format string, args ...interface{}) {
	logf(TraceLevel, log.Fields{rankKey: rankLogger.rank}, format, args...)
}

func (rankLogger *RankLogger) Warnf(format string, args ...interface{}) {
	logf(WarnLevel, log.Fields{rankKey: rankLogger.rank}, format, args...)
}

func (rankLogger *RankLogger) ErrorfWithError(err error, format string, args ...interface{}) {
	logf(ErrorLevel, log.Fields{rankKey: rankLogger.rank, errorKey: err}, format, args...)
}

func (rankLogger *RankLogger) WarnfWithError(err error, format string, args ...interface{}) {
	logf(WarnLevel, log.Fields{rankKey: rankLogger.rank, errorKey: err}, format, args...)
}

// AddLogTarget adds another target for log messages to be written to. writer is
// an object with an io.Writer interface that's called once for each log message.
//
// Logger.Up() must be called before this function is used.
func AddLogTarget(writer io.Writer) {
	globals.Lock()
	globals.output.addWriter(writer)
	globals.Unlock()
}

// LogBuffer captures the most recent n lines of log into an array.
// Useful for writing test cases.
type LogBuffer struct {
	LogEntries   []string // most recent log entry is [0]
	TotalEntries int      // count of all entries seen
}

type LogTarget struct {
	LogBuf *LogBuffer
}

// Init initializes a LogTarget to hold upto nEntry log entries.
func (target *LogTarget) Init(nEntry int) {
	target.LogBuf = &LogBuffer{TotalEntries: 0}
	target.LogBuf.LogEntries = make([]string, nEntry)
}

// Write is called by logger for each log entry
func (target LogTarget) Write(p []byte) (n int, err error) {
	var (
		entries = target.LogBuf.LogEntries
	)

	if 0 < len(entries) {
		copy(entries[1:], entries[:len(entries)-1])
		entries[0] = string(p)
	}
	target.LogBuf.TotalEntries++

	n = len(p)
	err = nil
	return
}

func init() {
	globals.pid = fmt.Sprint(os.Getpid())
	globals.output = &multiWriter{}
}
