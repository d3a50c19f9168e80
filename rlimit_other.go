//go:build !linux

package main

func setRLimit() {}

func showRLimit() {}
