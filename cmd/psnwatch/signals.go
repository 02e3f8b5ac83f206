package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"tools.zach/dev/psnwatch/internal/humanize"
	"tools.zach/dev/psnwatch/internal/monitor"
	"tools.zach/dev/psnwatch/internal/notify"
)

// watchSignals applies runtime control signals until ctx is done. It is a
// no-op on platforms without control signals.
func watchSignals(ctx context.Context, toggles *notify.Toggles, intervals *monitor.Intervals, logger *slog.Logger) {
	sigs := controlSignals()
	if len(sigs) == 0 {
		return
	}
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, sigs...)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-ch:
			applySignal(sig, toggles, intervals, logger)
		}
	}
}

// applySignal performs the action bound to sig.
func applySignal(sig os.Signal, toggles *notify.Toggles, intervals *monitor.Intervals, logger *slog.Logger) {
	toggle, steps, ok := controlAction(sig)
	if !ok {
		return
	}
	if toggle != "" {
		on := toggles.Flip(toggle)
		logger.Info("notification toggle changed", "signal", sig.String(), "toggle", string(toggle), "enabled", on)
		return
	}
	online := intervals.AdjustOnline(steps)
	logger.Info("online check interval changed", "signal", sig.String(), "interval", humanize.Duration(online, 2))
}
