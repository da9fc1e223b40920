package session

import (
	"context"

	"github.com/relaydog/mtasession/daemon/smtpd/collab"
	"github.com/relaydog/mtasession/daemon/smtpd/metrics"
	"github.com/relaydog/mtasession/daemon/smtpd/receiver"
	"github.com/relaydog/mtasession/lalog"
)

// Result is what Ingest reports back to the listener once it has consumed
// as much of the offered bytes as it can.
type Result int

const (
	ResultContinue Result = iota
	ResultDisconnect
	ResultTLSHandover
)

// Session is a process-wide instance bound to one transport connection. Its
// Params are immutable for the connection's lifetime; Envelope and State are
// mutated only through Ingest and the dispatch it drives.
type Session struct {
	Params Params

	RemoteIP   string
	RemotePort int
	LocalIP    string
	LocalPort  int

	Envelope collab.Envelope
	State    State
	InTLS    bool

	Out    Transport
	Logger lalog.Logger

	Directory   collab.Directory
	Sieve       collab.SieveRuntime
	Milter      collab.MilterClient
	MTAHook     collab.MTAHookClient
	RateLimiter collab.RateLimiter
	Evaluator   collab.ExpressionEvaluator
	Queue       collab.Queue
	Credentials collab.CredentialVerifier
	// Metrics is optional; nil disables counter emission for this session.
	Metrics *metrics.Collector

	authMechanism        string
	authStep             int
	authPendingUsername  string
}

// New constructs a session ready to ingest its first byte slice, with its
// driver state at Request and its envelope carrying sessionID as the one
// identity field that survives RSET and queueing.
func New(params Params, sessionID string) *Session {
	s := &Session{Params: params}
	s.Envelope.SessionID = sessionID
	s.State = newRequestState(params.MaxLineLength)
	return s
}

func newRequestTooLargeState() State {
	d := &receiver.Discard{}
	d.Reset(receiver.DiscardLine, 0)
	return State{Kind: StateRequestTooLarge, Discard: d}
}

// Ingest advances the driver state machine as far as input allows, per
// §4.C. It installs the current state into a local, clears the session's
// slot (the swap-and-replace trick that lets handlers mutate freely across
// suspension points), loops until input is exhausted or a terminal result is
// reached, then writes the state back before returning.
func (s *Session) Ingest(ctx context.Context, input []byte) (Result, error) {
	state := s.State
	s.State = State{Kind: StateNone}
	remaining := input

	for {
		switch state.Kind {
		case StateRequest:
			outcome, n := state.Line.Feed(remaining)
			remaining = remaining[n:]
			switch outcome {
			case receiver.NeedsMoreData:
				s.State = state
				return ResultContinue, nil
			case receiver.TooLong:
				state = newRequestTooLargeState()
				continue
			default:
				line := state.Line.Text()
				state.Line.Reset()
				next, result, err := s.dispatchRequestLine(ctx, line)
				state = next
				if err != nil {
					s.State = state
					return ResultDisconnect, err
				}
				if result == ResultTLSHandover || result == ResultDisconnect {
					s.State = state
					return result, nil
				}
				if len(remaining) == 0 {
					s.State = state
					return ResultContinue, nil
				}
			}

		case StateData:
			next, result, leftover, err := s.feedData(ctx, state, remaining)
			state = next
			remaining = leftover
			if err != nil {
				s.State = state
				return ResultDisconnect, err
			}
			if result == ResultDisconnect {
				s.State = state
				return ResultDisconnect, nil
			}
			if len(remaining) == 0 {
				s.State = state
				return ResultContinue, nil
			}

		case StateBdat:
			next, result, leftover, err := s.feedBdat(ctx, state, remaining)
			state = next
			remaining = leftover
			if err != nil {
				s.State = state
				return ResultDisconnect, err
			}
			if result == ResultDisconnect {
				s.State = state
				return ResultDisconnect, nil
			}
			if len(remaining) == 0 {
				s.State = state
				return ResultContinue, nil
			}

		case StateSasl:
			outcome, n := state.Line.Feed(remaining)
			remaining = remaining[n:]
			if outcome == receiver.NeedsMoreData {
				s.State = state
				return ResultContinue, nil
			}
			if outcome == receiver.TooLong {
				if err := s.reply("500 5.5.1 Invalid command.\r\n"); err != nil {
					s.State = newRequestState(s.Params.MaxLineLength)
					return ResultDisconnect, err
				}
				state = newRequestState(s.Params.MaxLineLength)
				continue
			}
			line := state.Line.Text()
			next, err := s.handleSaslContinuation(ctx, state.SaslMechanism, line)
			state = next
			if err != nil {
				s.State = state
				return ResultDisconnect, err
			}
			if len(remaining) == 0 {
				s.State = state
				return ResultContinue, nil
			}

		case StateDataTooLarge:
			outcome, n := state.Discard.Feed(remaining)
			remaining = remaining[n:]
			if outcome != receiver.Complete {
				s.State = state
				return ResultContinue, nil
			}
			if err := s.reply("552 5.3.4 Message too big for system.\r\n"); err != nil {
				s.State = state
				return ResultDisconnect, err
			}
			if s.Metrics != nil {
				s.Metrics.MessagesTooLarge.Inc()
			}
			s.Envelope.Reset()
			state = newRequestState(s.Params.MaxLineLength)
			if len(remaining) == 0 {
				s.State = state
				return ResultContinue, nil
			}

		case StateRequestTooLarge:
			outcome, n := state.Discard.Feed(remaining)
			remaining = remaining[n:]
			if outcome != receiver.Complete {
				s.State = state
				return ResultContinue, nil
			}
			if err := s.reply("554 5.3.4 Line is too long.\r\n"); err != nil {
				s.State = state
				return ResultDisconnect, err
			}
			state = newRequestState(s.Params.MaxLineLength)
			if len(remaining) == 0 {
				s.State = state
				return ResultContinue, nil
			}

		default:
			// None/Accepted should never be observed mid-ingest; treat as a
			// defensive reset to Request rather than wedging the session.
			state = newRequestState(s.Params.MaxLineLength)
			if len(remaining) == 0 {
				s.State = state
				return ResultContinue, nil
			}
		}
	}
}
