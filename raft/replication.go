package raft

import (
	"encoding/binary"
	"hash/fnv"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kartikbazzad/raftkv/wire"
)

// proposalID derives a stable correlation key from an entry's content, so
// quorum counting survives verbatim retransmission of the same proposal
// and doesn't depend on message ids matching across the wire.
func proposalID(e wire.Entry) string {
	h := fnv.New64a()
	h.Write([]byte(e.Key))
	h.Write([]byte{0})
	h.Write([]byte(e.Value))
	h.Write([]byte{0})
	var termBuf [8]byte
	binary.BigEndian.PutUint64(termBuf[:], e.Term)
	h.Write(termBuf[:])
	return strconv.FormatUint(h.Sum64(), 16)
}

// sendHeartbeat broadcasts an append_entries_rpc with no updates, used
// both as the periodic leader heartbeat and as the first message sent on
// winning an election.
func (n *Node) sendHeartbeat() {
	n.send(wire.Message{
		Src:    n.id,
		Dst:    wire.Broadcast,
		Leader: n.leaderHint,
		Type:   wire.AppendEntriesRPC,
		MID:    uuid.NewString(),
		Term:   n.term,
		Commit: n.commitIndex,
	})
	n.lastHeartbeat = time.Now()
}

// checkHeartbeat sends a fresh heartbeat once HeartbeatInterval has
// elapsed since the last one went out. It does nothing unless this
// replica is the Leader.
func (n *Node) checkHeartbeat() {
	if n.role != Leader {
		return
	}
	if time.Since(n.lastHeartbeat) >= n.cfg.HeartbeatInterval {
		n.sendHeartbeat()
	}
}

// proposeEntry appends e to the leader's own log and broadcasts it to
// every follower, opening a pending proposal to track quorum.
func (n *Node) proposeEntry(e wire.Entry, clientID, clientMID string) {
	n.log = append(n.log, e)
	n.publishMetrics()

	msg := wire.Message{
		Src:       n.id,
		Dst:       wire.Broadcast,
		Leader:    n.leaderHint,
		Type:      wire.AppendEntriesRPC,
		MID:       uuid.NewString(),
		Term:      n.term,
		Commit:    n.commitIndex,
		Updates:   append([]wire.Entry(nil), n.log...),
		ClientID:  clientID,
		ClientMID: clientMID,
	}

	n.pending[proposalID(e)] = &proposal{
		id:        proposalID(e),
		acks:      -1,
		clientID:  clientID,
		clientMID: clientMID,
		msg:       msg,
		issuedAt:  time.Now(),
	}

	n.send(msg)
}

// handleAppendOkay is the leader-side half of replication: it tallies
// quorum acks for the proposal the echoed entry correlates to, and
// commits once the tally exceeds majority(), i.e. once a strict majority
// of the cluster holds the entry.
func (n *Node) handleAppendOkay(m wire.Message) {
	if len(m.Updates) == 0 {
		return
	}
	last := m.Updates[len(m.Updates)-1]
	id := proposalID(last)

	p, ok := n.pending[id]
	if !ok || p.committed {
		return // unknown or already-committed proposal: a late or duplicate ack
	}

	if p.acks < 0 {
		p.acks = 2
	} else {
		p.acks++
	}

	if p.acks <= n.majority() {
		return
	}

	n.state[last.Key] = last.Value
	n.commitIndex++
	n.lastApplied = n.commitIndex
	p.committed = true
	n.publishMetrics()

	if n.metrics != nil {
		n.metrics.ProposalsCommitted.Inc()
	}

	n.send(wire.Message{
		Src:    n.id,
		Dst:    p.clientID,
		Leader: n.leaderHint,
		Type:   wire.Ok,
		MID:    p.clientMID,
	})
}

// retryPending resends any proposal that has waited past ConsensusTimeout
// without committing, resetting its ack tally so the next append_okay is
// treated as the first seen for this round.
func (n *Node) retryPending() {
	if n.role != Leader {
		return
	}
	now := time.Now()
	for _, p := range n.pending {
		if p.committed {
			continue
		}
		if now.Sub(p.issuedAt) < n.cfg.ConsensusTimeout {
			continue
		}
		n.send(p.msg)
		p.acks = -1
		p.issuedAt = now
		if n.metrics != nil {
			n.metrics.ProposalsRetried.Inc()
		}
	}
}

// handleAppendEntries is the follower/candidate side of replication. It
// follows the ordered steps: stamp contact, step down a candidate, have a
// leader drop the message (stepping down first if its term is strictly
// newer), drop stale-term
// messages, adopt the sender as leader, advance commit_index, then
// idempotently append the tail and acknowledge.
func (n *Node) handleAppendEntries(m wire.Message) {
	n.lastHeard = time.Now()

	if n.role == Candidate {
		n.role = Follower
	}

	if n.role == Leader {
		if m.Term > n.term {
			n.term = m.Term
			n.role = Follower
			n.publishMetrics()
		}
		return
	}

	if m.Term < n.term {
		return
	}
	if m.Term > n.term {
		n.term = m.Term
	}

	n.leaderHint = m.Src

	if m.Commit > n.commitIndex {
		upper := m.Commit
		if upper > len(n.log)-1 {
			upper = len(n.log) - 1
		}
		for i := n.commitIndex + 1; i <= upper; i++ {
			n.state[n.log[i].Key] = n.log[i].Value
			n.lastApplied = i
		}
		n.commitIndex = m.Commit
	}

	n.publishMetrics()

	if len(m.Updates) == 0 {
		return
	}

	tail := m.Updates[len(m.Updates)-1]
	n.appendTail(tail, len(m.Updates))

	n.send(wire.Message{
		Src:       n.id,
		Dst:       m.Src,
		Leader:    n.leaderHint,
		Type:      wire.AppendOkay,
		MID:       m.MID,
		Updates:   m.Updates,
		ClientID:  m.ClientID,
		ClientMID: m.ClientMID,
	})
}

// appendTail applies the idempotent single-entry append guard: a
// retransmitted proposal whose tail already matches the follower's own
// last entry is a no-op, and a tail that would open a gap larger than
// one entry is logged and dropped rather than repaired.
func (n *Node) appendTail(tail wire.Entry, updatesLen int) {
	_, last := n.lastLogInfo()
	if last != nil && *last == tail {
		return
	}
	if updatesLen == len(n.log)+1 {
		n.log = append(n.log, tail)
		n.publishMetrics()
		return
	}
	n.log_.Warn("append entries: log length mismatch, not filling gap",
		"have", len(n.log), "want", updatesLen-1)
}

// applyAll re-applies every log entry to the state machine, committed or
// not. A freshly elected leader calls this once to guarantee its state
// machine reflects everything it has inherited, including proposals a
// previous term's leader never reached quorum on.
func (n *Node) applyAll() {
	for _, e := range n.log {
		n.state[e.Key] = e.Value
	}
	if len(n.log) > 0 && len(n.log)-1 > n.lastApplied {
		n.lastApplied = len(n.log) - 1
	}
	n.publishMetrics()
}
