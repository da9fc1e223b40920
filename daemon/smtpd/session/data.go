package session

import (
	"context"

	"github.com/relaydog/mtasession/daemon/smtpd/receiver"
	"github.com/relaydog/mtasession/daemon/smtpd/trace"
)

// feedData drives the Data sub-state: the DATA size gate, the DotStuff
// receiver, and the queue hand-off on completion. It returns the next
// driver state, the overall Ingest result, and any leftover bytes (from a
// pipelined command arriving in the same read as the DATA terminator) that
// must still be processed by the caller's loop.
func (s *Session) feedData(ctx context.Context, state State, input []byte) (State, Result, []byte, error) {
	// §9 Open Question, resolved pessimistically: compare the already
	// decoded body length plus this chunk's length against the configured
	// maximum, exactly as original_source/.../session.rs line 218 does.
	if int64(state.Data.Message.Len()+len(input)) >= s.Params.MaxMessageSize {
		discard := &receiver.Discard{}
		discard.Reset(receiver.DiscardDotStuffed, 0)
		next := State{Kind: StateDataTooLarge, Discard: discard}
		outcome, n := discard.Feed(input)
		leftover := input[n:]
		if outcome != receiver.Complete {
			return next, ResultContinue, nil, nil
		}
		if err := s.reply("552 5.3.4 Message too big for system.\r\n"); err != nil {
			return next, ResultDisconnect, nil, err
		}
		if s.Metrics != nil {
			s.Metrics.MessagesTooLarge.Inc()
		}
		s.Envelope.Reset()
		return newRequestState(s.Params.MaxLineLength), ResultContinue, leftover, nil
	}

	outcome, n := state.Data.Feed(input)
	leftover := input[n:]
	if outcome == receiver.NeedsMoreData {
		return state, ResultContinue, nil, nil
	}
	s.Envelope.Message = append([]byte(nil), state.Data.Message.Bytes()...)
	next, result, err := s.finishTransaction(ctx)
	return next, result, leftover, err
}

// feedBdat drives the Bdat sub-state: the Counted receiver and, once a chunk
// completes, either the per-chunk acknowledgement or — on the chunk marked
// LAST — the same queue hand-off path as DATA.
func (s *Session) feedBdat(ctx context.Context, state State, input []byte) (State, Result, []byte, error) {
	outcome, n := state.Bdat.Feed(input)
	leftover := input[n:]
	if outcome == receiver.NeedsMoreData {
		return state, ResultContinue, nil, nil
	}
	s.Envelope.Message = append(s.Envelope.Message, state.Bdat.Buf.Bytes()...)
	if !state.BdatIsLast {
		if err := s.reply("250 2.6.0 Chunk accepted.\r\n"); err != nil {
			return newRequestState(s.Params.MaxLineLength), ResultDisconnect, nil, err
		}
		return newRequestState(s.Params.MaxLineLength), ResultContinue, leftover, nil
	}
	next, result, err := s.finishTransaction(ctx)
	return next, result, leftover, err
}

// finishTransaction hands the completed envelope to the queue collaborator
// and writes its reply: once for SMTP, once per accepted recipient for
// LMTP, per the protocol-specific contract in §4.C/§9. An empty, non-nil
// queue reply means "disconnect now"; a queue error is treated as a
// transient failure so the client can retry the transaction.
func (s *Session) finishTransaction(ctx context.Context) (State, Result, error) {
	var reply []byte
	err := trace.Capture(ctx, trace.SpanQueue, func(ctx context.Context) error {
		var e error
		reply, e = s.Queue.QueueMessage(ctx, &s.Envelope)
		return e
	})
	if err != nil {
		s.Logger.Warning(s.Envelope.SessionID, err, "queue hand-off failed")
		writeErr := s.reply("451 4.3.0 Temporary failure, please try again later.\r\n")
		s.Envelope.Reset()
		return newRequestState(s.Params.MaxLineLength), ResultContinue, writeErr
	}
	if s.Metrics != nil {
		s.Metrics.MessagesQueued.Inc()
	}
	if len(reply) == 0 {
		return newRequestState(s.Params.MaxLineLength), ResultDisconnect, nil
	}
	copies := 1
	if s.Params.Protocol.String() == "LMTP" {
		copies = len(s.Envelope.RcptTo)
		if copies == 0 {
			copies = 1
		}
	}
	for i := 0; i < copies; i++ {
		if err := s.Out.Write(reply); err != nil {
			s.Envelope.Reset()
			return newRequestState(s.Params.MaxLineLength), ResultDisconnect, ErrConnectionFailed
		}
	}
	s.Envelope.Reset()
	return newRequestState(s.Params.MaxLineLength), ResultContinue, nil
}
