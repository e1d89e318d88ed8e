package hotkey

import (
	"context"
	"errors"
	"fmt"
	"time"

	hook "github.com/robotn/gohook"

	"whisperkey/internal/domain"
)

// Config controls combo matching and debounce.
type Config struct {
	Combo    []string
	Cooldown time.Duration
}

// Monitor attaches the global keyboard hook and emits edge-triggered toggle
// events when the configured combo is held.
type Monitor struct {
	tracker *Tracker
	toggles chan domain.ToggleEvent
}

// NewMonitor resolves the combo key names against the hook's keycode table.
// Unknown key names are a startup error.
func NewMonitor(cfg Config) (*Monitor, error) {
	comboCodes, err := resolveCombo(cfg.Combo)
	if err != nil {
		return nil, err
	}
	return &Monitor{
		tracker: NewTracker(comboCodes, cfg.Cooldown),
		toggles: make(chan domain.ToggleEvent, 4),
	}, nil
}

// Toggles is the toggle event stream consumed by the session controller.
func (m *Monitor) Toggles() <-chan domain.ToggleEvent {
	return m.toggles
}

// Run attaches the global hook and feeds raw key events into the tracker
// until the context is canceled. The hook stream closing early means the
// input layer is unavailable, which callers treat as fatal.
func (m *Monitor) Run(ctx context.Context) error {
	events := hook.Start()
	defer hook.End()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return errors.New("keyboard hook stream closed")
			}
			m.handle(ev)
		}
	}
}

func (m *Monitor) handle(ev hook.Event) {
	switch ev.Kind {
	case hook.KeyDown, hook.KeyHold:
		if m.tracker.KeyDown(ev.Keycode, time.Now()) {
			select {
			case m.toggles <- domain.ToggleEvent{}:
			default:
			}
		}
	case hook.KeyUp:
		m.tracker.KeyUp(ev.Keycode)
	}
}

// comboAliases maps friendly names to the hook table's modifier variants, so
// "ctrl" matches either physical control key.
var comboAliases = map[string][]string{
	"ctrl":    {"ctrl", "lctrl", "rctrl"},
	"control": {"ctrl", "lctrl", "rctrl"},
	"shift":   {"shift", "lshift", "rshift"},
	"alt":     {"alt", "lalt", "ralt"},
	"option":  {"alt", "lalt", "ralt"},
	"cmd":     {"cmd", "lcmd", "rcmd"},
	"super":   {"cmd", "lcmd", "rcmd"},
	"win":     {"cmd", "lcmd", "rcmd"},
	"meta":    {"cmd", "lcmd", "rcmd"},
	"return":  {"enter"},
}

func resolveCombo(names []string) ([][]uint16, error) {
	if len(names) == 0 {
		return nil, errors.New("hotkey combo is empty")
	}

	combo := make([][]uint16, 0, len(names))
	for _, name := range names {
		candidates := []string{name}
		if alias, ok := comboAliases[name]; ok {
			candidates = alias
		}

		var codes []uint16
		for _, candidate := range candidates {
			if code, ok := hook.Keycode[candidate]; ok {
				codes = append(codes, code)
			}
		}
		if len(codes) == 0 {
			return nil, fmt.Errorf("unknown hotkey %q", name)
		}
		combo = append(combo, codes)
	}
	return combo, nil
}
