package main

import (
	"log"
	"os"
	"syscall"

	"golang.org/x/sys/windows/svc/eventlog"
)

var reloadSignals = []os.Signal{syscall.SIGHUP}

type windowsLogger struct {
	logger *eventlog.Log
}

func (w windowsLogger) Write(b []byte) (int, error) {
	e := w.logger.Info(999, string(b))
	return len(b), e
}

func initLogging(logName string) {
	_ = eventlog.InstallAsEventCreate(logName, eventlog.Error|eventlog.Warning|eventlog.Info)
	l, e := eventlog.Open(logName)
	if e != nil {
		return
	}

	log.SetFlags(0)
	log.SetOutput(windowsLogger{logger: l})
}
