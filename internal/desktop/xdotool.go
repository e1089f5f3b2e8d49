package desktop

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	wheelUp    = "4"
	wheelDown  = "5"
	wheelLeft  = "6"
	wheelRight = "7"
)

// XDoToolConfig configures the X11 effector.
type XDoToolConfig struct {
	// Binary is the xdotool executable.
	Binary string
	// Screenshot is the capture command; it must write an encoded image to stdout.
	Screenshot []string
	// TypeDelay is the pause between typed characters.
	TypeDelay time.Duration
	// UnitsPerClick converts scroll units into wheel clicks.
	UnitsPerClick int
}

// XDoTool implements Effector on top of xdotool and an external screenshot command.
type XDoTool struct {
	runner Runner
	cfg    XDoToolConfig
}

// NewXDoTool creates an effector using runner for process execution.
func NewXDoTool(runner Runner, cfg XDoToolConfig) *XDoTool {
	if cfg.Binary == "" {
		cfg.Binary = "xdotool"
	}
	if len(cfg.Screenshot) == 0 {
		cfg.Screenshot = []string{"import", "-window", "root", "png:-"}
	}
	if cfg.TypeDelay <= 0 {
		cfg.TypeDelay = 12 * time.Millisecond
	}
	if cfg.UnitsPerClick <= 0 {
		cfg.UnitsPerClick = 100
	}
	return &XDoTool{runner: runner, cfg: cfg}
}

// Commands lists the executables the effector runs.
func (x *XDoTool) Commands() []string {
	return []string{x.cfg.Binary, x.cfg.Screenshot[0]}
}

func (x *XDoTool) Capture(ctx context.Context) ([]byte, error) {
	res, err := x.runner.Exec(ctx, x.cfg.Screenshot[0], x.cfg.Screenshot[1:]...)
	if err != nil {
		return nil, fmt.Errorf("capture screen: %w", err)
	}
	if len(res.Stdout) == 0 {
		return nil, errors.New("capture screen: empty image")
	}
	return res.Stdout, nil
}

func (x *XDoTool) MoveTo(ctx context.Context, p Point) error {
	return x.xdotool(ctx, "mousemove", strconv.Itoa(p.X), strconv.Itoa(p.Y))
}

func (x *XDoTool) Click(ctx context.Context, kind ClickKind, p *Point) error {
	var args []string
	if p != nil {
		args = append(args, "mousemove", strconv.Itoa(p.X), strconv.Itoa(p.Y))
	}
	switch kind {
	case ClickLeft:
		args = append(args, "click", "1")
	case ClickRight:
		args = append(args, "click", "3")
	case ClickDouble:
		args = append(args, "click", "--repeat", "2", "1")
	default:
		return fmt.Errorf("unsupported click %q", kind)
	}
	return x.xdotool(ctx, args...)
}

func (x *XDoTool) Write(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	delay := strconv.FormatInt(x.cfg.TypeDelay.Milliseconds(), 10)
	return x.xdotool(ctx, "type", "--delay", delay, "--", text)
}

func (x *XDoTool) Press(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("key is required")
	}
	return x.xdotool(ctx, "key", "--", key)
}

func (x *XDoTool) VScroll(ctx context.Context, delta int) error {
	return x.scroll(ctx, delta, wheelUp, wheelDown)
}

func (x *XDoTool) HScroll(ctx context.Context, delta int) error {
	return x.scroll(ctx, delta, wheelRight, wheelLeft)
}

func (x *XDoTool) Sleep(ctx context.Context, d time.Duration) error {
	return SleepContext(ctx, d)
}

// scroll maps a signed delta onto wheel button clicks: positive uses pos, negative neg.
func (x *XDoTool) scroll(ctx context.Context, delta int, pos, neg string) error {
	if delta == 0 {
		return nil
	}
	button := pos
	if delta < 0 {
		button = neg
		delta = -delta
	}
	clicks := (delta + x.cfg.UnitsPerClick - 1) / x.cfg.UnitsPerClick
	return x.xdotool(ctx, "click", "--repeat", strconv.Itoa(clicks), button)
}

func (x *XDoTool) xdotool(ctx context.Context, args ...string) error {
	if _, err := x.runner.Exec(ctx, x.cfg.Binary, args...); err != nil {
		return err
	}
	return nil
}
