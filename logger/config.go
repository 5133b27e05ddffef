// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"io"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/NVIDIA/sfbench/conf"
)

type multiWriter struct {
	writers []io.Writer
}

func (mw *multiWriter) addWriter(writer io.Writer) {
	mw.writers = append(mw.writers, writer)
}

// Write fans p out to every writer, reporting the first failure
func (mw *multiWriter) Write(p []byte) (n int, err error) {
	for _, writer := range mw.writers {
		_, writeErr := writer.Write(p)
		if (nil != writeErr) && (nil == err) {
			err = writeErr
		}
	}
	n = len(p)
	return
}

type globalsStruct struct {
	sync.Mutex
	logFile      *os.File
	output       *multiWriter
	traceEnabled bool
	pid          string
}

var globals globalsStruct

// Up configures logging from the [Logging] section of confMap
//
//   LogFilePath  - file to append logs to (default: none)
//   LogToConsole - also log to os.Stderr (default: true)
//   TraceEnabled - emit Tracef() logs (default: false)
func Up(confMap conf.ConfMap) (err error) {
	var (
		logFilePath  string
		logToConsole bool
	)

	globals.Lock()
	defer globals.Unlock()

	log.SetFormatter(&log.TextFormatter{DisableColors: true, FullTimestamp: true})

	globals.output = &multiWriter{}

	logFilePath, err = confMap.FetchOptionValueString("Logging", "LogFilePath")
	if nil != err {
		logFilePath = ""
	}

	if "" != logFilePath {
		globals.logFile, err = os.OpenFile(logFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if nil != err {
			log.Errorf("couldn't open log file: %v", err)
			return
		}
		globals.output.addWriter(globals.logFile)
	}

	logToConsole, err = confMap.FetchOptionValueBool("Logging", "LogToConsole")
	if nil != err {
		logToConsole = true
	}

	if logToConsole {
		globals.output.addWriter(os.Stderr)
	}

	log.SetOutput(globals.output)

	// We always enable max logging in logrus and decide in this package whether to log
	log.SetLevel(log.DebugLevel)

	globals.traceEnabled, err = confMap.FetchOptionValueBool("Logging", "TraceEnabled")
	if nil != err {
		globals.traceEnabled = false
	}

	err = nil
	return
}

// Down closes the log file, if any, and reverts to logging on os.Stderr
func Down() (err error) {
	globals.Lock()
	defer globals.Unlock()

	log.SetOutput(os.Stderr)

	if nil != globals.logFile {
		err = globals.logFile.Close()
		globals.logFile = nil
	}

	globals.output = &multiWriter{}
	globals.traceEnabled = false

	return
}
