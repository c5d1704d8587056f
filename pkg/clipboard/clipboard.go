// Package clipboard copies secrets to the system clipboard and clears them
// again after a delay.
package clipboard

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultClearAfter is how long a copied secret stays on the clipboard.
const DefaultClearAfter = 30 * time.Second

// ErrUnsupported is returned when no clipboard tool is available.
var ErrUnsupported = errors.New("clipboard: no supported clipboard tool found")

// Backend reads and writes the clipboard.
type Backend interface {
	Write(ctx context.Context, text string) error
	Read(ctx context.Context) (string, error)
}

// Clipboard writes through a Backend and schedules clears.
type Clipboard struct {
	backend Backend
	log     *zap.SugaredLogger
}

// New detects the platform clipboard tool.
func New(log *zap.SugaredLogger) (*Clipboard, error) {
	b, err := detectBackend()
	if err != nil {
		return nil, err
	}
	return NewWithBackend(b, log), nil
}

// NewWithBackend uses b instead of a platform tool.
func NewWithBackend(b Backend, log *zap.SugaredLogger) *Clipboard {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Clipboard{backend: b, log: log}
}

// Copy puts text on the clipboard. When clearAfter is positive the clipboard
// is cleared after that delay, but only if it still holds text, so a value
// the user copied in the meantime survives. Cancelling ctx clears early.
//
// The returned channel is closed once the clear has run, or immediately when
// no clear is scheduled.
func (c *Clipboard) Copy(ctx context.Context, text string, clearAfter time.Duration) (<-chan struct{}, error) {
	if err := c.backend.Write(ctx, text); err != nil {
		return nil, fmt.Errorf("clipboard: failed to copy: %w", err)
	}

	done := make(chan struct{})
	if clearAfter <= 0 {
		close(done)
		return done, nil
	}

	go func() {
		defer close(done)

		timer := time.NewTimer(clearAfter)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
		}

		// ctx may already be cancelled; the clear must still run.
		clearCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.clearIfUnchanged(clearCtx, text)
	}()
	return done, nil
}

func (c *Clipboard) clearIfUnchanged(ctx context.Context, text string) {
	current, err := c.backend.Read(ctx)
	if err != nil {
		c.log.Warnw("failed to read clipboard before clearing", "error", err)
		return
	}
	if current != text {
		c.log.Debugw("clipboard changed since copy, leaving it alone")
		return
	}
	if err := c.backend.Write(ctx, ""); err != nil {
		c.log.Warnw("failed to clear clipboard", "error", err)
		return
	}
	c.log.Debugw("clipboard cleared")
}

// execBackend shells out to platform tools.
type execBackend struct {
	write []string
	read  []string
}

func (b *execBackend) Write(ctx context.Context, text string) error {
	cmd := exec.CommandContext(ctx, b.write[0], b.write[1:]...)
	cmd.Stdin = strings.NewReader(text)
	return cmd.Run()
}

func (b *execBackend) Read(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, b.read[0], b.read[1:]...).Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func detectBackend() (Backend, error) {
	switch runtime.GOOS {
	case "darwin":
		return &execBackend{write: []string{"pbcopy"}, read: []string{"pbpaste"}}, nil
	case "windows":
		return &execBackend{
			write: []string{"clip"},
			read:  []string{"powershell", "-NoProfile", "-Command", "Get-Clipboard -Raw"},
		}, nil
	default:
		// Try xclip first, then xsel
		if _, err := exec.LookPath("xclip"); err == nil {
			return &execBackend{
				write: []string{"xclip", "-selection", "clipboard"},
				read:  []string{"xclip", "-selection", "clipboard", "-o"},
			}, nil
		}
		if _, err := exec.LookPath("xsel"); err == nil {
			return &execBackend{
				write: []string{"xsel", "--clipboard", "--input"},
				read:  []string{"xsel", "--clipboard", "--output"},
			}, nil
		}
		return nil, fmt.Errorf("%w: install xclip or xsel", ErrUnsupported)
	}
}
