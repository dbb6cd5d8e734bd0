package wire

import "testing"

func TestFramerSplitsOnNewlineBoundaries(t *testing.T) {
	var f Framer

	msgs := f.Push([]byte(`{"src":"0001","dst":"FFFF","leader":"0001","type":"get","MID":"1"}`+"\n"+`{"src":"0001"`), nil)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 complete message, got %d", len(msgs))
	}
	if msgs[0].Type != Get || msgs[0].MID != "1" {
		t.Fatalf("unexpected message: %+v", msgs[0])
	}

	// remainder of the second frame arrives in a later read
	msgs = f.Push([]byte(`,"dst":"0002","leader":"0001","type":"put","key":"a","value":"1","MID":"2"}`+"\n"), nil)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 completed message from partial tail, got %d", len(msgs))
	}
	if msgs[0].Type != Put || msgs[0].Key != "a" {
		t.Fatalf("unexpected message: %+v", msgs[0])
	}
}

func TestFramerDropsMalformedFrameOnly(t *testing.T) {
	var f Framer
	var badLines int

	msgs := f.Push([]byte("not json\n"+`{"src":"0001","dst":"FFFF","leader":"0001","type":"get","MID":"1"}`+"\n"), func(line []byte, err error) {
		badLines++
	})

	if badLines != 1 {
		t.Fatalf("expected 1 malformed frame reported, got %d", badLines)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected the well-formed frame to still parse, got %d messages", len(msgs))
	}
}

func TestEncodeAppendsNewline(t *testing.T) {
	b, err := Encode(Message{Src: "0001", Dst: Broadcast, Leader: "0001", Type: RequestVote, MID: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if b[len(b)-1] != '\n' {
		t.Fatalf("encoded message must end with newline, got %q", b)
	}
}
