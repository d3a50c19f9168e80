package main

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const maxOpenFiles = 65536

var rLimit unix.Rlimit

// setRLimit raises the open files limit, as many as the hard limit allows
func setRLimit() {
	if e := unix.Getrlimit(unix.RLIMIT_NOFILE, &rLimit); e != nil {
		return
	}
	rLimit.Cur = maxOpenFiles
	if rLimit.Max < rLimit.Cur {
		rLimit.Cur = rLimit.Max
	}
	_ = unix.Setrlimit(unix.RLIMIT_NOFILE, &rLimit)
}

func showRLimit() {
	fmt.Printf("Max files %d/%d\n", rLimit.Cur, rLimit.Max)
}
