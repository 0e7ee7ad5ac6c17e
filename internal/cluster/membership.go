// Package cluster implements simplified Raft-style leader election and
// static cluster membership for a fixed set of nodes, as specified in
// spec §4.4. Unlike the teacher's consistent-hash ring, every node in this
// cluster holds the full key space — membership exists only to know who to
// send heartbeats, votes, and replication traffic to.
package cluster

import (
	"fmt"
	"sync"
)

// Peer is one other node in the static cluster.
type Peer struct {
	ID         string
	ReplAddr   string // address the replication/election wire protocol listens on
	IsReachable bool
}

// Membership tracks the fixed set of peers this node replicates with and
// elects among. There is no gossip or rebalancing: peers are supplied once
// at startup from config; only their liveness flag can change afterwards,
// through SetReachable.
type Membership struct {
	mu    sync.RWMutex
	self  string
	peers map[string]*Peer
}

// NewMembership seeds membership with selfID (this node) and the given
// peer address table (nodeID -> replication address).
func NewMembership(selfID string, peerAddrs map[string]string) *Membership {
	m := &Membership{
		self:  selfID,
		peers: make(map[string]*Peer, len(peerAddrs)),
	}
	for id, addr := range peerAddrs {
		if id == selfID {
			continue
		}
		m.peers[id] = &Peer{ID: id, ReplAddr: addr, IsReachable: true}
	}
	return m
}

// Self returns this node's ID.
func (m *Membership) Self() string { return m.self }

// Get returns the peer with the given ID.
func (m *Membership) Get(id string) (*Peer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.peers[id]
	return p, ok
}

// All returns a snapshot of every known peer (excluding self).
func (m *Membership) All() []Peer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Peer, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, *p)
	}
	return out
}

// Count returns the total cluster size including self, used for computing
// the majority quorum needed to win an election.
func (m *Membership) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.peers) + 1
}

// Majority returns the number of votes (including this node's own) needed
// to win an election.
func (m *Membership) Majority() int {
	return m.Count()/2 + 1
}

// SetReachable updates a peer's liveness flag without tearing membership
// down. The node itself does not call it: the replication sender does not
// report send failures here, so IsReachable stays true from startup on.
func (m *Membership) SetReachable(id string, reachable bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[id]
	if !ok {
		return fmt.Errorf("unknown peer %q", id)
	}
	p.IsReachable = reachable
	return nil
}
