// Package wire defines the on-the-wire message shapes for raftkv.
//
// Every message, in either direction, is a single JSON object terminated
// by a newline (see Framer). A Message carries the five fields mandatory
// on all traffic — Src, Dst, Leader, Type, MID — plus whichever
// type-specific fields its Type uses; unused fields are omitted from the
// encoded form.
package wire

import "encoding/json"

// Broadcast is the well-known destination id meaning "all peers".
// The same string doubles as the "unknown leader" sentinel.
const Broadcast = "FFFF"

// Type is the message type tag.
type Type string

const (
	Get              Type = "get"
	Put              Type = "put"
	Ok               Type = "ok"
	Fail             Type = "fail"
	Redirect         Type = "redirect"
	RequestVote      Type = "requestVote"
	Vote             Type = "vote"
	AppendEntriesRPC Type = "append_entries_rpc"
	AppendOkay       Type = "append_okay"
)

// Entry is a single replicated log entry: a key/value write accepted in a term.
type Entry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Term  uint64 `json:"term"`
}

// Message is the envelope for every message exchanged with the substrate.
type Message struct {
	Src    string `json:"src"`
	Dst    string `json:"dst"`
	Leader string `json:"leader"`
	Type   Type   `json:"type"`
	MID    string `json:"MID"`

	// get / put
	Key   string `json:"key,omitempty"`
	Value string `json:"value,omitempty"`

	// requestVote
	Term      uint64 `json:"term,omitempty"`
	Length    int    `json:"length,omitempty"`
	LastEntry *Entry `json:"last_entry,omitempty"`

	// append_entries_rpc / append_okay
	Updates   []Entry `json:"updates,omitempty"`
	Commit    int     `json:"commit,omitempty"`
	ClientID  string  `json:"client_id,omitempty"`
	ClientMID string  `json:"client_mid,omitempty"`
}

// Encode serializes m as a single newline-terminated JSON record.
func Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return append(body, '\n'), nil
}
