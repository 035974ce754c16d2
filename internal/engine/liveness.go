package engine

import (
	"sync"
	"sync/atomic"
)

// State is a daemon lifecycle state.
type State int32

const (
	StateNotStarted State = iota
	StateStarting
	StateAlive
	StateDead
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateStarting:
		return "starting"
	case StateAlive:
		return "alive"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Liveness is the atomic state cell shared between the supervisor (writer)
// and request invokers (readers).
type Liveness struct {
	state  atomic.Int32
	mu     sync.Mutex
	reason error
}

// State returns the current lifecycle state.
func (l *Liveness) State() State {
	return State(l.state.Load())
}

// Dead reports whether the daemon has reached the terminal state.
func (l *Liveness) Dead() bool {
	return l.State() == StateDead
}

// Reason returns the error recorded with the transition to Dead.
func (l *Liveness) Reason() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reason
}

// transition performs a compare-and-set between two states. Dead is
// terminal: no transition leaves it.
func (l *Liveness) transition(from, to State) bool {
	if from == StateDead {
		return false
	}
	return l.state.CompareAndSwap(int32(from), int32(to))
}

// markDead moves to Dead from any state. It returns true only for the call
// that performed the transition.
func (l *Liveness) markDead(reason error) bool {
	for {
		current := l.State()
		if current == StateDead {
			return false
		}
		l.mu.Lock()
		if l.transition(current, StateDead) {
			l.reason = reason
			l.mu.Unlock()
			return true
		}
		l.mu.Unlock()
	}
}
