package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/deskpilot/deskpilot/internal/desktop"
)

// Call is one recorded effector invocation.
type Call struct {
	Method string
	Point  *desktop.Point
	Kind   desktop.ClickKind
	Text   string
	Delta  int
	Sleep  time.Duration
}

// Effector is a desktop.Effector test double that records calls without touching a display.
// Errs maps a method name to the error it returns.
type Effector struct {
	Image []byte
	Errs  map[string]error

	mu    sync.Mutex
	calls []Call
}

func (e *Effector) record(c Call) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, c)
	return e.Errs[c.Method]
}

// Calls returns a copy of the recorded calls.
func (e *Effector) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Call(nil), e.calls...)
}

// Methods returns recorded method names, excluding Sleep.
func (e *Effector) Methods() []string {
	var out []string
	for _, c := range e.Calls() {
		if c.Method != "Sleep" {
			out = append(out, c.Method)
		}
	}
	return out
}

// Slept returns every recorded sleep duration.
func (e *Effector) Slept() []time.Duration {
	var out []time.Duration
	for _, c := range e.Calls() {
		if c.Method == "Sleep" {
			out = append(out, c.Sleep)
		}
	}
	return out
}

func (e *Effector) Capture(context.Context) ([]byte, error) {
	if err := e.record(Call{Method: "Capture"}); err != nil {
		return nil, err
	}
	if e.Image == nil {
		return []byte("\x89PNG\r\n\x1a\n"), nil
	}
	return e.Image, nil
}

func (e *Effector) MoveTo(_ context.Context, p desktop.Point) error {
	return e.record(Call{Method: "MoveTo", Point: &p})
}

func (e *Effector) Click(_ context.Context, kind desktop.ClickKind, p *desktop.Point) error {
	return e.record(Call{Method: "Click", Kind: kind, Point: p})
}

func (e *Effector) Write(_ context.Context, text string) error {
	return e.record(Call{Method: "Write", Text: text})
}

func (e *Effector) Press(_ context.Context, key string) error {
	return e.record(Call{Method: "Press", Text: key})
}

func (e *Effector) VScroll(_ context.Context, delta int) error {
	return e.record(Call{Method: "VScroll", Delta: delta})
}

func (e *Effector) HScroll(_ context.Context, delta int) error {
	return e.record(Call{Method: "HScroll", Delta: delta})
}

// Sleep records d and returns immediately unless ctx is already done.
func (e *Effector) Sleep(ctx context.Context, d time.Duration) error {
	if err := e.record(Call{Method: "Sleep", Sleep: d}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("sleep: %w", err)
	}
	return nil
}
