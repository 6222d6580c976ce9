package notifier_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rlibfactory/rlibfactory/pkg/logger"
	"github.com/rlibfactory/rlibfactory/pkg/mocks"
	"github.com/rlibfactory/rlibfactory/pkg/notifier"
	"github.com/rlibfactory/rlibfactory/pkg/summary"
)

func TestNotifier_RunFinished(t *testing.T) {
	tests := []struct {
		name        string
		counts      summary.Counts
		duration    time.Duration
		wantTitle   string
		wantMessage string
	}{
		{
			name:        "clean run",
			counts:      summary.Counts{OK: 3, Skip: 1},
			duration:    90 * time.Second,
			wantTitle:   "run finished",
			wantMessage: "ok=3 partial=0 no_rlib=0 fail=0 skip=1 in 1m30s",
		},
		{
			name:        "run with failures",
			counts:      summary.Counts{OK: 1, Partial: 1, Fail: 1},
			duration:    1500 * time.Millisecond,
			wantTitle:   "with failures",
			wantMessage: "ok=1 partial=1 no_rlib=0 fail=1 skip=0 in 1.5s",
		},
		{
			name:        "long run",
			counts:      summary.Counts{OK: 400},
			duration:    2*time.Hour + 5*time.Minute,
			wantTitle:   "run finished",
			wantMessage: "in 2h5m",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &mocks.MockNotifier{}
			n := notifier.NewWithSender(notifier.Config{Enabled: true}, sender, logger.Nop())

			n.NotifyRunFinished(tt.counts, tt.duration)

			if len(sender.Titles) != 1 {
				t.Fatalf("Expected one notification, got %d", len(sender.Titles))
			}
			if !strings.Contains(sender.Titles[0], tt.wantTitle) {
				t.Errorf("Title %q does not contain %q", sender.Titles[0], tt.wantTitle)
			}
			if !strings.Contains(sender.Messages[0], tt.wantMessage) {
				t.Errorf("Message %q does not contain %q", sender.Messages[0], tt.wantMessage)
			}
		})
	}
}

func TestNotifier_RunInterrupted(t *testing.T) {
	sender := &mocks.MockNotifier{}
	n := notifier.NewWithSender(notifier.Config{Enabled: true}, sender, logger.Nop())

	n.NotifyRunInterrupted(summary.Counts{OK: 2, Interrupted: 1})

	if len(sender.Messages) != 1 || !strings.Contains(sender.Messages[0], "interrupted=1") {
		t.Errorf("Unexpected notifications %v", sender.Messages)
	}
}

func TestNotifier_Disabled(t *testing.T) {
	sender := &mocks.MockNotifier{}
	n := notifier.NewWithSender(notifier.Config{Enabled: false}, sender, logger.Nop())

	n.NotifyRunFinished(summary.Counts{Fail: 1}, time.Second)
	n.NotifyRunInterrupted(summary.Counts{})

	if len(sender.Titles) != 0 {
		t.Errorf("Disabled notifier sent %d notifications", len(sender.Titles))
	}
}

func TestNotifier_SenderErrorIsNotFatal(t *testing.T) {
	sender := &mocks.MockNotifier{}
	sender.SetError(errors.New("no notification daemon"))
	n := notifier.NewWithSender(notifier.Config{Enabled: true}, sender, logger.Nop())

	n.NotifyRunFinished(summary.Counts{OK: 1}, time.Second)

	if len(sender.Titles) != 1 {
		t.Error("Expected the notification to be attempted")
	}
}
