package raft

import (
	"errors"
	"io"

	"github.com/kartikbazzad/raftkv/wire"
)

// ErrSubstrateClosed is returned by Run when the network substrate
// connection closes, which is treated as a terminal condition for the
// event loop.
var ErrSubstrateClosed = errors.New("raft: substrate connection closed")

// Run drives the single-threaded event loop: poll the substrate for up
// to one quantum, dispatch whatever arrived, retry unacknowledged
// proposals, and check election/heartbeat timers, repeating until stop
// is closed or the substrate goes away. Nothing in this package touches
// Node state from any other goroutine; Run is meant to be the only
// caller of every other method on Node.
func (n *Node) Run(stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		if n.catchUpPending {
			n.applyAll()
			n.catchUpPending = false
		}

		msgs, err := n.transport.Poll(n.cfg.PollQuantum)
		if err != nil {
			if errors.Is(err, io.EOF) {
				n.log_.Info("substrate connection closed, stopping event loop")
				return ErrSubstrateClosed
			}
			n.log_.Warn("poll error", "err", err)
			continue
		}

		for _, m := range msgs {
			n.dispatch(m)
		}

		n.retryPending()
		n.checkElectionTimers()
		n.checkHeartbeat()
	}
}

func (n *Node) dispatch(m wire.Message) {
	switch m.Type {
	case wire.Get, wire.Put:
		n.handleClientRequest(m)
	case wire.RequestVote:
		n.handleRequestVote(m)
	case wire.Vote:
		n.handleVote(m)
	case wire.AppendEntriesRPC:
		n.handleAppendEntries(m)
	case wire.AppendOkay:
		n.handleAppendOkay(m)
	default:
		n.log_.Debug("dropping message of unrecognized type", "type", m.Type)
	}
}
