package raft

import (
	"time"

	"github.com/google/uuid"

	"github.com/kartikbazzad/raftkv/wire"
)

// checkElectionTimers is called once per event loop tick. Followers that
// haven't heard from a leader inside their sampled election timeout, and
// candidates whose sampled election window has elapsed without a
// majority, start a new election.
func (n *Node) checkElectionTimers() {
	now := time.Now()
	switch n.role {
	case Follower:
		if now.Sub(n.lastHeard) >= n.electionTO {
			n.startElection()
		}
	case Candidate:
		if now.Sub(n.electionAt) >= n.electionWin {
			n.startElection()
		}
	case Leader:
		// Leaders do not time out on themselves.
	}
}

// startElection advances the term, transitions to Candidate, votes for
// itself, and broadcasts a request_vote carrying the candidate's log
// summary so peers can apply the up-to-date check.
func (n *Node) startElection() {
	n.term++
	n.role = Candidate
	n.votesRecvd = 1
	n.voteLedger[n.term] = true
	n.electionAt = time.Now()
	n.leaderHint = wire.Broadcast

	if n.metrics != nil {
		n.metrics.ElectionsStarted.Inc()
	}
	n.publishMetrics()

	length, last := n.lastLogInfo()
	n.send(wire.Message{
		Src:       n.id,
		Dst:       wire.Broadcast,
		Leader:    n.leaderHint,
		Type:      wire.RequestVote,
		MID:       uuid.NewString(),
		Term:      n.term,
		Length:    length,
		LastEntry: last,
	})

	n.log_.Info("started election", "term", n.term)
}

// handleRequestVote applies the ordered vote-granting rules. A vote is
// granted by replying with a vote message; a denial is silent — no
// reply is sent at all.
func (n *Node) handleRequestVote(m wire.Message) {
	if m.Term > n.term {
		n.term = m.Term
		n.role = Follower
	}

	if m.Term < n.term {
		return
	}

	if n.voteLedger[m.Term] {
		return
	}

	if !n.candidateLogIsUpToDate(m) {
		return
	}

	n.voteLedger[m.Term] = true
	n.lastHeard = time.Now() // granting a vote counts as contact with a live peer

	if n.metrics != nil {
		n.metrics.VotesGranted.Inc()
	}

	n.send(wire.Message{
		Src:    n.id,
		Dst:    m.Src,
		Leader: n.leaderHint,
		Type:   wire.Vote,
		MID:    m.MID,
	})
}

// candidateLogIsUpToDate applies the ordered rules: an empty voter log or
// an empty candidate log always grants; a higher candidate term wins, a
// lower one loses; on a term tie the candidate must hold at least as
// many entries as the voter.
func (n *Node) candidateLogIsUpToDate(m wire.Message) bool {
	_, voterLast := n.lastLogInfo()

	if voterLast == nil {
		return true
	}
	if m.LastEntry == nil {
		return true
	}
	if m.LastEntry.Term > voterLast.Term {
		return true
	}
	if m.LastEntry.Term < voterLast.Term {
		return false
	}
	return m.Length >= len(n.log)
}

// handleVote counts a granted vote toward the current election. Votes
// carry no term field and their MID is not checked, so the only test is
// role: a vote received while not a candidate is stale and ignored.
func (n *Node) handleVote(m wire.Message) {
	if n.role != Candidate {
		return
	}
	n.votesRecvd++
	if n.votesRecvd > n.majority() {
		n.becomeLeader()
	}
}

// becomeLeader transitions to Leader, announces itself with an immediate
// heartbeat, and schedules a full re-application of the log to the state
// machine so any entries inherited from a previous term's leader are
// reflected before new client requests are served.
func (n *Node) becomeLeader() {
	n.role = Leader
	n.leaderHint = n.id
	n.catchUpPending = true
	n.publishMetrics()
	n.log_.Info("became leader", "term", n.term)

	n.sendHeartbeat()
}
