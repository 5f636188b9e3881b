package sse

import "time"

// Event types.
const (
	TypeScanBatch        = "scan.batch"
	TypeScanDone         = "scan.done"
	TypeRecommitBatch    = "recommit.batch"
	TypeRecommitDone     = "recommit.done"
	TypeCountersUpdated  = "counters.updated"
	TypeDictionaryReload = "dictionary.reloaded"
)

// settles reports whether eventType ends a burst of counter changes, after
// which clients must refetch regardless of the throttle.
func settles(eventType string) bool {
	switch eventType {
	case TypeScanDone, TypeRecommitDone, TypeDictionaryReload:
		return true
	}
	return false
}

// countersGate decides when a progress event is followed by
// counters.updated: always after a settling event, otherwise at most once
// per interval.
type countersGate struct {
	interval time.Duration
	last     time.Time
}

// next reports whether counters.updated goes out after eventType at now,
// and records the emission if so.
func (g *countersGate) next(eventType string, now time.Time) bool {
	if !settles(eventType) && now.Sub(g.last) < g.interval {
		return false
	}
	g.last = now
	return true
}

// countersEvent tells clients which event made their counters stale.
func countersEvent(cause string) Event {
	return Event{Type: TypeCountersUpdated, Data: map[string]string{"cause": cause}}
}
