// POSIX signal handling: SIGINT/SIGTERM stop the daemon, the rest adjust
// notifications and polling at runtime.

//go:build !windows

package main

import (
	"os"

	"golang.org/x/sys/unix"

	"tools.zach/dev/psnwatch/internal/notify"
)

// ///////////////////////////////////////////////
// Signal Handling
// ///////////////////////////////////////////////

// shutdownSignals stop the daemon gracefully.
func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt, unix.SIGTERM}
}

// controlSignals are the runtime control signals.
func controlSignals() []os.Signal {
	return []os.Signal{unix.SIGUSR1, unix.SIGUSR2, unix.SIGCONT, unix.SIGTRAP, unix.SIGABRT}
}

// controlAction maps a control signal to the toggle it flips or the number of
// steps it moves the online poll interval.
func controlAction(sig os.Signal) (toggle notify.Toggle, steps int, ok bool) {
	switch sig {
	case unix.SIGUSR1:
		return notify.ToggleActiveInactive, 0, true
	case unix.SIGUSR2:
		return notify.ToggleGameChange, 0, true
	case unix.SIGCONT:
		return notify.ToggleStatus, 0, true
	case unix.SIGTRAP:
		return "", 1, true
	case unix.SIGABRT:
		return "", -1, true
	}
	return "", 0, false
}
