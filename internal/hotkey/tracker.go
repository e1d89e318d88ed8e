package hotkey

import (
	"time"
)

// Tracker decides when a toggle fires. It maintains the set of currently
// depressed keys and emits on the key-down edge where that set exactly
// equals the configured combo, gated by the cooldown. Key-up only shrinks
// the held set.
//
// Each combo key may be matched by several raw key codes (left and right
// modifier variants); any extra key held beyond the combo blocks emission.
type Tracker struct {
	slots    map[uint16]int
	numSlots int
	down     map[uint16]struct{}
	cooldown time.Duration
	last     time.Time
}

// NewTracker builds a tracker from per-combo-key code variants.
func NewTracker(comboCodes [][]uint16, cooldown time.Duration) *Tracker {
	slots := make(map[uint16]int)
	for slot, codes := range comboCodes {
		for _, code := range codes {
			slots[code] = slot
		}
	}
	return &Tracker{
		slots:    slots,
		numSlots: len(comboCodes),
		down:     make(map[uint16]struct{}),
		cooldown: cooldown,
	}
}

// KeyDown records a depressed key and reports whether a toggle fires.
func (t *Tracker) KeyDown(code uint16, now time.Time) bool {
	t.down[code] = struct{}{}
	if !t.comboExactlyHeld() {
		return false
	}
	if !t.last.IsZero() && now.Sub(t.last) < t.cooldown {
		return false
	}
	t.last = now
	return true
}

// KeyUp records a released key. It never fires a toggle.
func (t *Tracker) KeyUp(code uint16) {
	delete(t.down, code)
}

func (t *Tracker) comboExactlyHeld() bool {
	if t.numSlots == 0 {
		return false
	}
	held := make(map[int]struct{}, t.numSlots)
	for code := range t.down {
		slot, ok := t.slots[code]
		if !ok {
			return false
		}
		held[slot] = struct{}{}
	}
	return len(held) == t.numSlots
}
