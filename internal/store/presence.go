package store

import (
	"sort"
	"sync"

	"github.com/meridian-im/meridian-go/internal/model"
)

// PresenceSet tracks which user ids are currently online. Presence events
// are transient: only the resulting set is retained.
type PresenceSet struct {
	mu     sync.RWMutex
	online map[string]struct{}
}

// NewPresenceSet creates an empty set.
func NewPresenceSet() *PresenceSet {
	return &PresenceSet{online: make(map[string]struct{})}
}

// Apply folds one presence event into the set.
func (p *PresenceSet) Apply(evt model.PresenceEvent) {
	p.mu.Lock()
	if evt.Online {
		p.online[evt.UserID] = struct{}{}
	} else {
		delete(p.online, evt.UserID)
	}
	p.mu.Unlock()
}

// Online reports whether userID is currently online.
func (p *PresenceSet) Online(userID string) bool {
	p.mu.RLock()
	_, ok := p.online[userID]
	p.mu.RUnlock()
	return ok
}

// IDs returns the online user ids, sorted for stable output.
func (p *PresenceSet) IDs() []string {
	p.mu.RLock()
	out := make([]string, 0, len(p.online))
	for id := range p.online {
		out = append(out, id)
	}
	p.mu.RUnlock()
	sort.Strings(out)
	return out
}
