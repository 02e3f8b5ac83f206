// Windows signal handling. Only Ctrl+C is available; the Go runtime maps
// CTRL_BREAK_EVENT and console close to os.Interrupt. Runtime control goes
// through `psnwatch ctl` instead of signals.

//go:build windows

package main

import (
	"os"

	"tools.zach/dev/psnwatch/internal/notify"
)

func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

func controlSignals() []os.Signal { return nil }

func controlAction(os.Signal) (notify.Toggle, int, bool) {
	return "", 0, false
}
