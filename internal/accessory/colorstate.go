package accessory

import "time"

// Pending says which color component is waiting for its companion write.
type Pending int

const (
	PendingNone Pending = iota
	PendingHue
	PendingSaturation
)

func (p Pending) String() string {
	switch p {
	case PendingHue:
		return "hue"
	case PendingSaturation:
		return "saturation"
	default:
		return "none"
	}
}

func (p Pending) other() Pending {
	switch p {
	case PendingHue:
		return PendingSaturation
	case PendingSaturation:
		return PendingHue
	default:
		return PendingNone
	}
}

// colorState remembers the last unpaired Hue or Saturation write.
//
//	none            --set X ok-->            X pending
//	X pending       --set Y within window--> none (Y written with pending X)
//	X pending       --set X-->               X pending (new value)
//	any             --write failed-->        none
//
// A pending value older than the window is ignored and the device value is
// read instead. The owner holds the lock.
type colorState struct {
	kind  Pending
	value float64
	at    time.Time
}

// pending returns the remembered value of kind when it is still fresh.
func (s *colorState) pending(kind Pending, now time.Time, window time.Duration) (float64, bool) {
	if s.kind != kind || kind == PendingNone {
		return 0, false
	}
	if now.Sub(s.at) > window {
		return 0, false
	}
	return s.value, true
}

func (s *colorState) record(kind Pending, value float64, now time.Time) {
	s.kind, s.value, s.at = kind, value, now
}

func (s *colorState) reset() {
	*s = colorState{}
}
