// Package raft implements a leader-based consensus engine: leader
// election, quorum-committed log replication, and the single-threaded
// event loop that drives both plus the client-facing get/put interface
// over one connection to the network substrate.
//
// Everything here runs on one goroutine per Node (the one that calls
// Run). No field is touched from any other goroutine; there is no
// locking because there is nothing to race with.
package raft

import (
	"log/slog"
	"math/rand"
	"time"

	"github.com/kartikbazzad/raftkv/internal/metrics"
	"github.com/kartikbazzad/raftkv/transport"
	"github.com/kartikbazzad/raftkv/wire"
)

// Role is the replica's position in the consensus protocol. It is a sum
// type: every switch over Role in this package must be exhaustive.
type Role int

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return "unknown"
	}
}

// Roles lists every Role value, for metrics label enumeration.
var Roles = []string{Follower.String(), Candidate.String(), Leader.String()}

// Config holds the event loop's timing parameters. ElectionTimeout and
// ElectionWindow are sampled once per replica, uniformly, from
// [Min, Max); HeartbeatInterval and ConsensusTimeout are fixed.
type Config struct {
	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration
	ElectionWindowMin  time.Duration
	ElectionWindowMax  time.Duration
	HeartbeatInterval  time.Duration
	ConsensusTimeout   time.Duration
	PollQuantum        time.Duration
}

// DefaultConfig holds the standard timing values: election timeout
// sampled from [1.0, 1.2)s, election window from [0.2, 1.2)s, 0.3s
// heartbeats, 0.4s proposal retry, 10ms I/O poll quantum.
func DefaultConfig() Config {
	return Config{
		ElectionTimeoutMin: time.Second,
		ElectionTimeoutMax: 1200 * time.Millisecond,
		ElectionWindowMin:  200 * time.Millisecond,
		ElectionWindowMax:  1200 * time.Millisecond,
		HeartbeatInterval:  300 * time.Millisecond,
		ConsensusTimeout:   400 * time.Millisecond,
		PollQuantum:        10 * time.Millisecond,
	}
}

// proposal is the leader-side record for one in-flight log append,
// tracked from the moment a client put is accepted until it commits.
type proposal struct {
	id        string
	acks      int // -1 sentinel: "treat the next append_okay as the first"
	committed bool
	clientID  string
	clientMID string
	msg       wire.Message // raw append_entries_rpc, resent verbatim on retry
	issuedAt  time.Time
}

// Node is one replica. Construct with New and drive it with Run.
type Node struct {
	id    string
	peers []string // other replicas; does not include id

	// Log & state machine
	log         []wire.Entry
	commitIndex int // -1 when nothing committed
	lastApplied int // -1 when nothing applied; observability only
	state       map[string]string

	// Election state
	role        Role
	term        uint64
	voteLedger  map[uint64]bool // terms this replica has voted in
	votesRecvd  int
	leaderHint  string
	electionTO  time.Duration
	electionWin time.Duration
	electionAt  time.Time
	lastHeard   time.Time

	// Leader-side replication state
	pending        map[string]*proposal
	catchUpPending bool
	lastHeartbeat  time.Time

	transport transport.Substrate
	cfg       Config
	rand      *rand.Rand
	log_      *slog.Logger // named log_ to avoid shadowing the log field
	metrics   *metrics.Collector
}

// New constructs a Follower-state Node. peers must list every other
// replica id in the cluster (not including id).
func New(id string, peers []string, t transport.Substrate, cfg Config, logger *slog.Logger, mc *metrics.Collector) *Node {
	if logger == nil {
		logger = slog.Default()
	}
	r := rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(hashString(id))))

	n := &Node{
		id:          id,
		peers:       append([]string(nil), peers...),
		commitIndex: -1,
		lastApplied: -1,
		state:       make(map[string]string),
		role:        Follower,
		voteLedger:  make(map[uint64]bool),
		leaderHint:  wire.Broadcast,
		pending:     make(map[string]*proposal),
		transport:   t,
		cfg:         cfg,
		rand:        r,
		log_:        logger.With("replica", id),
		metrics:     mc,
	}

	n.electionTO = sampleDuration(r, cfg.ElectionTimeoutMin, cfg.ElectionTimeoutMax)
	n.electionWin = sampleDuration(r, cfg.ElectionWindowMin, cfg.ElectionWindowMax)
	now := time.Now()
	n.lastHeard = now
	n.lastHeartbeat = now

	n.publishMetrics()
	return n
}

func sampleDuration(r *rand.Rand, min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(r.Int63n(int64(max-min)))
}

func hashString(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

// majority returns ⌊(1+peer_count)/2⌋. Winning an election or committing
// an entry takes strictly more than this many votes or acks.
func (n *Node) majority() int {
	return (1 + len(n.peers)) / 2
}

func (n *Node) send(m wire.Message) {
	if err := n.transport.Send(m); err != nil {
		n.log_.Debug("send failed (fire-and-forget, no retry at this layer)", "type", m.Type, "dst", m.Dst, "err", err)
	}
}

func (n *Node) lastLogInfo() (length int, last *wire.Entry) {
	if len(n.log) == 0 {
		return 0, nil
	}
	e := n.log[len(n.log)-1]
	return len(n.log), &e
}

func (n *Node) publishMetrics() {
	if n.metrics == nil {
		return
	}
	n.metrics.Term.Set(float64(n.term))
	n.metrics.SetRole(n.role.String(), Roles)
	n.metrics.LogLength.Set(float64(len(n.log)))
	n.metrics.CommitIndex.Set(float64(n.commitIndex))
	n.metrics.LastApplied.Set(float64(n.lastApplied))
}

// State returns a snapshot of (term, role, leaderHint) for diagnostics
// and tests.
func (n *Node) State() (term uint64, role Role, leaderHint string) {
	return n.term, n.role, n.leaderHint
}

// Get looks up key directly in the applied state machine, bypassing the
// wire protocol — used by in-process tests. It does not check leadership.
func (n *Node) Get(key string) (string, bool) {
	v, ok := n.state[key]
	return v, ok
}

// CommitIndex exposes the current commit index for tests/metrics.
func (n *Node) CommitIndex() int { return n.commitIndex }

// LogLen exposes the log length for tests/metrics.
func (n *Node) LogLen() int { return len(n.log) }
