package inject

import (
	"context"
	"fmt"
	"time"

	"github.com/atotto/clipboard"
	"github.com/felixgeelhaar/fortify/retry"
	"github.com/sirupsen/logrus"

	"github.com/ngenohkevin/questdeck-agent/internal/keys"
	"github.com/ngenohkevin/questdeck-agent/internal/process"
	"github.com/ngenohkevin/questdeck-agent/internal/quest"
)

// DeliverySequence is the key combos run after the payload is on the clipboard
var DeliverySequence = []string{"focus", "console", "paste", "submit"}

// ClipboardIO reads and writes the system clipboard
type ClipboardIO interface {
	ReadAll() (string, error)
	WriteAll(text string) error
}

type systemClipboard struct{}

func (systemClipboard) ReadAll() (string, error)   { return clipboard.ReadAll() }
func (systemClipboard) WriteAll(text string) error { return clipboard.WriteAll(text) }

// KeySender runs named key combos in order
type KeySender interface {
	Sequence(ctx context.Context, timeout time.Duration, names ...string) ([]*keys.Result, error)
}

// WindowFinder locates the host process
type WindowFinder interface {
	FindByName(ctx context.Context, name string) (*process.ProcessInfo, error)
}

// ClipboardOptions tunes window polling and key delivery
type ClipboardOptions struct {
	Target       string
	PollAttempts int
	PollDelay    time.Duration
	ComboTimeout time.Duration
}

// Clipboard delivers payloads by pasting them into the host's console
type Clipboard struct {
	clip   ClipboardIO
	keys   KeySender
	finder WindowFinder
	opts   ClipboardOptions
	logger logrus.FieldLogger
}

// NewClipboard creates a clipboard provider using the system clipboard
func NewClipboard(keySender KeySender, finder WindowFinder, opts ClipboardOptions, logger logrus.FieldLogger) *Clipboard {
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = 1
	}
	if opts.ComboTimeout <= 0 {
		opts.ComboTimeout = 5 * time.Second
	}
	return &Clipboard{
		clip:   systemClipboard{},
		keys:   keySender,
		finder: finder,
		opts:   opts,
		logger: logger.WithField("component", "clipboard"),
	}
}

// Name returns the strategy name
func (c *Clipboard) Name() string {
	return "clipboard"
}

// Submit pastes the payload into the host window. Delivery is fire-and-forget: success means it was typed in.
func (c *Clipboard) Submit(ctx context.Context, payload string) (Result, error) {
	proc, err := c.waitForWindow(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		msg := fmt.Sprintf("%s window not found after %d attempts", c.opts.Target, c.opts.PollAttempts)
		return Result{}, quest.NewError(quest.ErrEnvironmentUnsupported, "", msg, err)
	}

	previous, readErr := c.clip.ReadAll()
	if err := c.clip.WriteAll(payload); err != nil {
		return Result{}, quest.NewError(quest.ErrInjectionFailed, "", "failed to write clipboard", err)
	}
	defer func() {
		if readErr != nil {
			return
		}
		if err := c.clip.WriteAll(previous); err != nil {
			c.logger.WithError(err).Warn("failed to restore clipboard")
		}
	}()

	if _, err := c.keys.Sequence(ctx, c.opts.ComboTimeout, DeliverySequence...); err != nil {
		return Result{}, quest.NewError(quest.ErrInjectionFailed, "", "key delivery failed", err)
	}

	c.logger.WithField("pid", proc.PID).Debug("payload delivered")
	return Result{Success: true, Message: "payload delivered to " + c.opts.Target}, nil
}

func (c *Clipboard) waitForWindow(ctx context.Context) (*process.ProcessInfo, error) {
	r := retry.New[*process.ProcessInfo](retry.Config{
		MaxAttempts:   c.opts.PollAttempts,
		InitialDelay:  c.opts.PollDelay,
		BackoffPolicy: retry.BackoffExponential,
	})
	return r.Do(ctx, func(ctx context.Context) (*process.ProcessInfo, error) {
		return c.finder.FindByName(ctx, c.opts.Target)
	})
}
