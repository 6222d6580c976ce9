// Package notifier sends desktop notifications when a run ends
package notifier

import (
	"fmt"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/rlibfactory/rlibfactory/pkg/logger"
	"github.com/rlibfactory/rlibfactory/pkg/summary"
)

// Sender delivers one notification
type Sender interface {
	Notify(title, message string) error
}

// DesktopSender delivers notifications through the platform notification
// service.
type DesktopSender struct {
	// Beep plays the system beep along with failure notifications
	Beep bool
}

// Notify implements Sender
func (d DesktopSender) Notify(title, message string) error {
	return beeep.Notify(title, message, "")
}

func (d DesktopSender) beep() error {
	if !d.Beep {
		return nil
	}
	return beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration)
}

// Config represents notification configuration
type Config struct {
	Enabled bool
	Beep    bool
}

// RunNotifier reports run results to the user
type RunNotifier struct {
	enabled bool
	sender  Sender
	logger  logger.Logger
}

// New creates a notifier backed by desktop notifications
func New(config Config, log logger.Logger) *RunNotifier {
	return NewWithSender(config, DesktopSender{Beep: config.Beep}, log)
}

// NewWithSender creates a notifier with a custom sender
func NewWithSender(config Config, sender Sender, log logger.Logger) *RunNotifier {
	if log == nil {
		log = logger.Nop()
	}
	return &RunNotifier{
		enabled: config.Enabled,
		sender:  sender,
		logger:  log,
	}
}

// NotifyRunFinished reports the final counters of a run
func (n *RunNotifier) NotifyRunFinished(counts summary.Counts, duration time.Duration) {
	if !n.enabled {
		return
	}

	title := "✅ rlib-factory run finished"
	if counts.Fail > 0 {
		title = "❌ rlib-factory run finished with failures"
	}
	message := fmt.Sprintf("%s in %s", counts, formatDuration(duration))

	n.send(title, message)
	if counts.Fail > 0 {
		if d, ok := n.sender.(DesktopSender); ok {
			if err := d.beep(); err != nil {
				n.logger.Debug("Failed to play sound", logger.WithError(err))
			}
		}
	}
}

// NotifyRunInterrupted reports a cancelled run
func (n *RunNotifier) NotifyRunInterrupted(counts summary.Counts) {
	if !n.enabled {
		return
	}
	n.send("⚠️ rlib-factory run interrupted",
		fmt.Sprintf("%s interrupted=%d", counts, counts.Interrupted))
}

func (n *RunNotifier) send(title, message string) {
	if err := n.sender.Notify(title, message); err != nil {
		n.logger.Debug("Failed to send notification", logger.WithError(err))
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
