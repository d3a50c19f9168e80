//go:build !windows

package main

import (
	"log"
	"log/syslog"
	"os"
	"syscall"
)

var reloadSignals = []os.Signal{syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGUSR2}

func initLogging(logName string) {
	logwriter, e := syslog.New(syslog.LOG_INFO|syslog.LOG_USER, logName)
	if e == nil {
		log.SetFlags(0)
		log.SetOutput(logwriter)
	}
}
