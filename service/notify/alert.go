package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
)

// Notification describes what an alert is about.
type Notification struct {
	Hash      string
	Kind      Kind
	Amount    *float64
	Direction string
	Message   string
}

// Alerter produces a user-facing alert.
type Alerter interface {
	Alert(ctx context.Context, n Notification) error
}

// ActionFor binds an alerter to one notification.
func ActionFor(a Alerter, n Notification) Action {
	return func(ctx context.Context) error {
		return a.Alert(ctx, n)
	}
}

// CommandAlert plays a sound by running an external player, e.g. "paplay" or
// "afplay", with the sound file for the notification kind as last argument.
// Kinds without a sound file are skipped.
type CommandAlert struct {
	Command string
	Sounds  map[Kind]string
}

// Alert runs the player and waits for it to exit.
func (c *CommandAlert) Alert(ctx context.Context, n Notification) error {
	sound := c.Sounds[n.Kind]
	if sound == "" {
		return nil
	}
	args := strings.Fields(c.Command)
	if len(args) == 0 {
		return errors.New("notify command is empty")
	}
	args = append(args, sound)

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

// BellAlert rings the terminal bell.
type BellAlert struct {
	W io.Writer
}

// Alert writes BEL; a confirmation rings twice.
func (b *BellAlert) Alert(ctx context.Context, n Notification) error {
	bell := "\a"
	if n.Kind == KindConfirmed {
		bell = "\a\a"
	}
	_, err := io.WriteString(b.W, bell)
	return err
}

// LogAlert records the notification in the log.
type LogAlert struct {
	Logger *slog.Logger
}

// Alert implements Alerter.
func (l *LogAlert) Alert(ctx context.Context, n Notification) error {
	attrs := []any{
		"hash", n.Hash,
		"kind", n.Kind,
		"message", n.Message,
	}
	if n.Amount != nil {
		attrs = append(attrs, "amount", *n.Amount, "direction", n.Direction)
	}
	l.Logger.InfoContext(ctx, "transaction notification", attrs...)
	return nil
}

// Multi runs every alerter in order and joins their errors.
type Multi []Alerter

// Alert implements Alerter.
func (m Multi) Alert(ctx context.Context, n Notification) error {
	var errs []error
	for _, a := range m {
		if err := a.Alert(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps every notification it receives. It is meant for tests and
// for dry runs.
type Recorder struct {
	mu   sync.Mutex
	seen []Notification
}

// Alert implements Alerter.
func (r *Recorder) Alert(ctx context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, n)
	return nil
}

// Notifications returns a copy of everything recorded so far.
func (r *Recorder) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.seen))
	copy(out, r.seen)
	return out
}
