package status

import (
	"strings"
	"sync/atomic"
)

// Flag is a bitmask of independent client conditions. Several bits can be
// set at the same time (e.g. connecting while sending).
type Flag uint32

const (
	FlagNone       Flag = 0
	FlagOffline    Flag = 1 << 0
	FlagConnecting Flag = 1 << 1
	FlagSending    Flag = 1 << 2
	FlagComposing  Flag = 1 << 3
	FlagIdle       Flag = 1 << 4
)

var flagNames = []struct {
	bit  Flag
	name string
}{
	{FlagOffline, "offline"},
	{FlagConnecting, "connecting"},
	{FlagSending, "sending"},
	{FlagComposing, "composing"},
	{FlagIdle, "idle"},
}

// Get reports whether bit is set in flags.
func Get(flags, bit Flag) bool {
	return flags&bit != 0
}

// Set sets bit in flags when enabled is true and clears it otherwise.
func Set(flags *Flag, bit Flag, enabled bool) {
	if enabled {
		*flags |= bit
	} else {
		*flags &^= bit
	}
}

// Has reports whether every bit in bits is set.
func (f Flag) Has(bits Flag) bool {
	return f&bits == bits
}

// String renders the set bits as "connecting|sending". Unknown bits are
// ignored; an empty mask renders as "none".
func (f Flag) String() string {
	var names []string
	for _, n := range flagNames {
		if Get(f, n.bit) {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// Update describes one status transition: the bits raised, the bits
// lowered, and the full mask after the change.
type Update struct {
	Set   Flag
	Clear Flag
	Flags Flag
}

// Atomic holds a Flag that may be read from any goroutine while a single
// writer mutates it.
type Atomic struct {
	v atomic.Uint32
}

// Load returns the current mask.
func (a *Atomic) Load() Flag {
	return Flag(a.v.Load())
}

// Get reports whether bit is currently set.
func (a *Atomic) Get(bit Flag) bool {
	return Get(a.Load(), bit)
}

// Set raises bits and returns the resulting Update. Bits that were already
// set are not reported in Update.Set.
func (a *Atomic) Set(bits Flag) Update {
	return a.Apply(bits, FlagNone)
}

// Clear lowers bits and returns the resulting Update.
func (a *Atomic) Clear(bits Flag) Update {
	return a.Apply(FlagNone, bits)
}

// Apply raises one set of bits and lowers another in a single transition.
// Update reports only the bits that actually changed.
func (a *Atomic) Apply(raise, lower Flag) Update {
	for {
		old := a.v.Load()
		next := Flag(old)
		Set(&next, lower, false)
		Set(&next, raise, true)
		if a.v.CompareAndSwap(old, uint32(next)) {
			return Update{
				Set:   next &^ Flag(old),
				Clear: Flag(old) &^ next,
				Flags: next,
			}
		}
	}
}

// Changed reports whether the update raised or lowered any bit.
func (u Update) Changed() bool {
	return u.Set|u.Clear != 0
}
