// Package desktop drives the local display: screen capture, pointer, keyboard and scrolling.
package desktop

import (
	"context"
	"time"
)

// Point is a screen coordinate in pixels.
type Point struct {
	X int
	Y int
}

// ClickKind selects the pointer click gesture.
type ClickKind string

const (
	ClickLeft   ClickKind = "left"
	ClickRight  ClickKind = "right"
	ClickDouble ClickKind = "double"
)

// Effector is the physical side of the agent. Every call is synchronous and may fail;
// callers serialize access since there is one desktop.
type Effector interface {
	// Capture returns an encoded screenshot (PNG).
	Capture(ctx context.Context) ([]byte, error)
	MoveTo(ctx context.Context, p Point) error
	// Click clicks at p, or at the current pointer position when p is nil.
	Click(ctx context.Context, kind ClickKind, p *Point) error
	Write(ctx context.Context, text string) error
	Press(ctx context.Context, key string) error
	// VScroll scrolls vertically; positive is up.
	VScroll(ctx context.Context, delta int) error
	// HScroll scrolls horizontally; positive is right.
	HScroll(ctx context.Context, delta int) error
	Sleep(ctx context.Context, d time.Duration) error
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
