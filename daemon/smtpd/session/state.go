package session

import "github.com/relaydog/mtasession/daemon/smtpd/receiver"

// StateKind is the tag of the driver state sum type (§3). None and Accepted
// are sentinels: None is the placeholder installed during the swap trick
// that lets Ingest mutate state it temporarily owns, and Accepted is never
// observed during a live ingest call.
type StateKind int

const (
	StateNone StateKind = iota
	StateRequest
	StateData
	StateBdat
	StateSasl
	StateDataTooLarge
	StateRequestTooLarge
	StateAccepted
)

// State is the tagged variant driver state. Only the field(s) matching Kind
// are meaningful; this mirrors the Rust closed enum using a discriminated
// struct, the idiomatic Go shape for a small fixed set of heterogeneous
// variants accessed from one hot loop (see DESIGN.md).
type State struct {
	Kind StateKind

	// StateRequest, StateSasl
	Line *receiver.Line

	// StateSasl only: which mechanism is mid-exchange.
	SaslMechanism string

	// StateData
	Data *receiver.DotStuff

	// StateBdat
	Bdat       *receiver.Counted
	BdatIsLast bool

	// StateDataTooLarge, StateRequestTooLarge
	Discard *receiver.Discard
}

// newRequestState returns the initial/between-transaction state.
func newRequestState(maxLineLen int) State {
	return State{Kind: StateRequest, Line: &receiver.Line{MaxLen: maxLineLen}}
}
