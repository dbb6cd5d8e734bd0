package raft

import (
	"testing"
	"time"

	"github.com/kartikbazzad/raftkv/transport"
	"github.com/kartikbazzad/raftkv/wire"
)

// testConfig shortens every timer so a cluster converges in well under a
// second of wall-clock test time.
func testConfig() Config {
	return Config{
		ElectionTimeoutMin: 40 * time.Millisecond,
		ElectionTimeoutMax: 60 * time.Millisecond,
		ElectionWindowMin:  20 * time.Millisecond,
		ElectionWindowMax:  40 * time.Millisecond,
		HeartbeatInterval:  10 * time.Millisecond,
		ConsensusTimeout:   20 * time.Millisecond,
		PollQuantum:        2 * time.Millisecond,
	}
}

type cluster struct {
	hub   *transport.Hub
	nodes map[string]*Node
	stop  chan struct{}
}

func newCluster(t *testing.T, ids []string) *cluster {
	t.Helper()
	hub := transport.NewHub()
	c := &cluster{hub: hub, nodes: make(map[string]*Node), stop: make(chan struct{})}

	for _, id := range ids {
		var peers []string
		for _, other := range ids {
			if other != id {
				peers = append(peers, other)
			}
		}
		sub := hub.Register(id)
		c.nodes[id] = New(id, peers, sub, testConfig(), nil, nil)
	}
	return c
}

func (c *cluster) run() {
	for _, n := range c.nodes {
		go n.Run(c.stop)
	}
}

func (c *cluster) close() {
	close(c.stop)
}

func (c *cluster) leader() *Node {
	for _, n := range c.nodes {
		if _, role, _ := n.State(); role == Leader {
			return n
		}
	}
	return nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestElectsExactlyOneLeaderPerTerm(t *testing.T) {
	c := newCluster(t, []string{"00", "01", "02"})
	c.run()
	defer c.close()

	waitFor(t, 2*time.Second, func() bool { return c.leader() != nil })

	leaders := 0
	term, _, _ := c.nodes["00"].State()
	for _, n := range c.nodes {
		nt, role, _ := n.State()
		if role == Leader {
			leaders++
			term = nt
		}
	}
	if leaders != 1 {
		t.Fatalf("expected exactly one leader, got %d", leaders)
	}
	if term == 0 {
		t.Fatalf("expected a positive term after an election")
	}
}

func TestPutCommitsAcrossQuorumAndGetReadsItBack(t *testing.T) {
	c := newCluster(t, []string{"00", "01", "02"})
	c.run()
	defer c.close()

	waitFor(t, 2*time.Second, func() bool { return c.leader() != nil })
	leader := c.leader()

	client := c.hub.Register("client")
	mustSend(t, client, wire.Message{Src: "client", Dst: leader.id, Leader: wire.Broadcast, Type: wire.Put, MID: "m1", Key: "x", Value: "1"})

	reply := mustRecv(t, client, time.Second)
	if reply.Type != wire.Ok {
		t.Fatalf("expected ok, got %s", reply.Type)
	}

	waitFor(t, time.Second, func() bool {
		v, ok := leader.Get("x")
		return ok && v == "1"
	})

	for id, n := range c.nodes {
		waitFor(t, time.Second, func() bool {
			v, ok := n.Get("x")
			return ok && v == "1"
		})
		_ = id
	}
}

func TestNonLeaderRedirectsClient(t *testing.T) {
	c := newCluster(t, []string{"00", "01", "02"})
	c.run()
	defer c.close()

	waitFor(t, 2*time.Second, func() bool { return c.leader() != nil })
	leader := c.leader()

	var follower *Node
	for id, n := range c.nodes {
		if id != leader.id {
			follower = n
			break
		}
	}

	client := c.hub.Register("client2")
	mustSend(t, client, wire.Message{Src: "client2", Dst: follower.id, Leader: wire.Broadcast, Type: wire.Get, MID: "m2", Key: "x"})

	reply := mustRecv(t, client, time.Second)
	if reply.Type != wire.Redirect {
		t.Fatalf("expected redirect from a non-leader, got %s", reply.Type)
	}
	if reply.Leader != leader.id {
		t.Fatalf("expected redirect to point at %s, got %s", leader.id, reply.Leader)
	}
}

func TestNewLeaderElectedAfterOriginalLeaderDisconnects(t *testing.T) {
	c := newCluster(t, []string{"00", "01", "02"})
	c.run()
	defer c.close()

	waitFor(t, 2*time.Second, func() bool { return c.leader() != nil })
	firstLeader := c.leader()
	firstTerm, _, _ := firstLeader.State()

	c.hub.Drop(firstLeader.id)

	waitFor(t, 2*time.Second, func() bool {
		l := c.leader()
		if l == nil || l.id == firstLeader.id {
			return false
		}
		term, _, _ := l.State()
		return term > firstTerm
	})
}

func mustSend(t *testing.T, l *transport.Loopback, m wire.Message) {
	t.Helper()
	if err := l.Send(m); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func mustRecv(t *testing.T, l *transport.Loopback, timeout time.Duration) wire.Message {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		msgs, err := l.Poll(10 * time.Millisecond)
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		// The hub fans broadcasts out to every participant, clients
		// included; those are not replies, so skip them.
		for _, m := range msgs {
			if m.Dst != wire.Broadcast {
				return m
			}
		}
	}
	t.Fatal("timed out waiting for a reply")
	return wire.Message{}
}
