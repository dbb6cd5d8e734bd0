package raft

import "github.com/kartikbazzad/raftkv/wire"

// handleClientRequest serves get/put messages addressed to this replica.
// A non-leader redirects the client toward its current leader hint
// (which may itself be the broadcast sentinel if no leader is known
// yet). Only a Leader ever starts a proposal or answers a get directly.
func (n *Node) handleClientRequest(m wire.Message) {
	if n.role != Leader {
		n.send(wire.Message{
			Src:    n.id,
			Dst:    m.Src,
			Leader: n.leaderHint,
			Type:   wire.Redirect,
			MID:    m.MID,
		})
		return
	}

	switch m.Type {
	case wire.Get:
		value := n.state[m.Key] // zero value for an absent key
		n.send(wire.Message{
			Src:    n.id,
			Dst:    m.Src,
			Leader: n.leaderHint,
			Type:   wire.Ok,
			MID:    m.MID,
			Value:  value,
		})
	case wire.Put:
		n.proposeEntry(wire.Entry{Key: m.Key, Value: m.Value, Term: n.term}, m.Src, m.MID)
	default:
		n.send(wire.Message{
			Src:    n.id,
			Dst:    m.Src,
			Leader: n.leaderHint,
			Type:   wire.Fail,
			MID:    m.MID,
		})
	}
}
