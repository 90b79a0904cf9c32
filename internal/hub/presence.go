package hub

import (
	"time"

	"github.com/google/uuid"
)

// PresenceState is the derived presence of one user.
type PresenceState struct {
	UserID         uuid.UUID
	OrgID          uuid.UUID
	Count          int
	LastTransition time.Time
}

// Online reports whether at least one connection of the user is registered.
func (p PresenceState) Online() bool {
	return p.Count > 0
}

type presenceEntry struct {
	// orgID is the org of the most recent connection still registered.
	orgID          uuid.UUID
	orgs           map[uuid.UUID]int
	conns          clientSet
	lastTransition time.Time
}

// presenceTracker reference-counts registered connections per user, and per
// user and org. Counts are sizes of connection sets, so they cannot go
// negative and a connection is never counted twice. Owned by the hub loop.
type presenceTracker struct {
	users map[uuid.UUID]*presenceEntry
}

func newPresenceTracker() *presenceTracker {
	return &presenceTracker{users: make(map[uuid.UUID]*presenceEntry)}
}

// add records c as connected and reports whether its user went 0 -> 1 within
// c's org. A user connected under several orgs is online in each of them.
func (p *presenceTracker) add(c *Client, now time.Time) bool {
	e, ok := p.users[c.UserID]
	if !ok {
		e = &presenceEntry{orgs: make(map[uuid.UUID]int), conns: make(clientSet)}
		p.users[c.UserID] = e
	}
	if _, dup := e.conns[c]; dup {
		return false
	}
	e.conns[c] = struct{}{}
	e.orgs[c.OrgID]++
	e.orgID = c.OrgID
	if len(e.conns) == 1 {
		e.lastTransition = now
	}
	return e.orgs[c.OrgID] == 1
}

// remove forgets c and reports whether its user went 1 -> 0 within c's org.
// Users with no connections left are dropped from the tracker entirely.
func (p *presenceTracker) remove(c *Client) bool {
	e, ok := p.users[c.UserID]
	if !ok {
		return false
	}
	if _, ok := e.conns[c]; !ok {
		return false
	}
	delete(e.conns, c)
	e.orgs[c.OrgID]--
	orgEdge := e.orgs[c.OrgID] == 0
	if orgEdge {
		delete(e.orgs, c.OrgID)
	}
	if len(e.conns) == 0 {
		delete(p.users, c.UserID)
		return true
	}
	if orgEdge && e.orgID == c.OrgID {
		for orgID := range e.orgs {
			e.orgID = orgID
			break
		}
	}
	return orgEdge
}

func (p *presenceTracker) count(userID uuid.UUID) int {
	if e, ok := p.users[userID]; ok {
		return len(e.conns)
	}
	return 0
}

func (p *presenceTracker) state(userID uuid.UUID) (PresenceState, bool) {
	e, ok := p.users[userID]
	if !ok {
		return PresenceState{}, false
	}
	return PresenceState{
		UserID:         userID,
		OrgID:          e.orgID,
		Count:          len(e.conns),
		LastTransition: e.lastTransition,
	}, true
}

func (p *presenceTracker) conns(userID uuid.UUID) clientSet {
	if e, ok := p.users[userID]; ok {
		return e.conns
	}
	return nil
}

func (p *presenceTracker) online(orgID uuid.UUID) []uuid.UUID {
	users := make([]uuid.UUID, 0)
	for id, e := range p.users {
		if e.orgs[orgID] > 0 {
			users = append(users, id)
		}
	}
	return users
}

func (p *presenceTracker) onlineCount() int {
	return len(p.users)
}

func (p *presenceTracker) reset() {
	p.users = make(map[uuid.UUID]*presenceEntry)
}
