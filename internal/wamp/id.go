package wamp

import (
	"math/rand/v2"
	"sync"
)

// GlobalID draws a random identifier for the global scope (publications,
// sessions).
func GlobalID() ID {
	return ID(rand.Uint64N(uint64(MaxID))) + 1
}

// IDGen hands out sequential identifiers for router and session scopes.
// It wraps back to 1 after MaxID.
type IDGen struct {
	mu   sync.Mutex
	last ID
}

func (g *IDGen) Next() ID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last++
	if g.last > MaxID {
		g.last = 1
	}
	return g.last
}
