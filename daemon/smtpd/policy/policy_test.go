package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/relaydog/mtasession/daemon/smtpd/collab"
	"github.com/relaydog/mtasession/lalog"
)

type stubReplier struct{ replies []string }

func (r *stubReplier) Reply(line string) error {
	r.replies = append(r.replies, line)
	return nil
}

type stubVars struct{}

func (stubVars) Resolve(collab.Variable) string { return "" }

type stubMilter struct {
	verdict collab.FilterVerdict
	err     error
}

func (m *stubMilter) Run(ctx context.Context, stage string, params map[string]string) (collab.FilterVerdict, error) {
	return m.verdict, m.err
}

type allowRelay struct{}

func (allowRelay) EvalIfString(ctx context.Context, rule string, vars collab.VariableResolver, sessionID string) (string, bool) {
	return "", false
}
func (allowRelay) EvalIfBool(ctx context.Context, rule string, vars collab.VariableResolver, sessionID string) (bool, bool) {
	return true, true
}

func baseParams() Params {
	return Params{RcptMax: 10, DSNEnabled: true, RcptErrorsMax: 3, RcptErrorsWait: 0}
}

func TestHandleRcptMilterRejects(t *testing.T) {
	env := &collab.Envelope{MailFrom: "s@x.com", SessionID: "sess-1"}
	reply := &stubReplier{}
	deps := Deps{Milter: &stubMilter{verdict: collab.FilterVerdict{Rejected: true, Message: "550 5.7.1 rejected by policy\r\n"}}, Evaluator: allowRelay{}}
	_, err := HandleRcpt(context.Background(), env, baseParams(), deps, stubVars{}, lalog.Logger{}, reply, Request{To: "r@x.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reply.replies) != 1 || reply.replies[0] != "550 5.7.1 rejected by policy\r\n" {
		t.Fatalf("unexpected replies %+v", reply.replies)
	}
	if len(env.RcptTo) != 0 {
		t.Fatalf("rejected recipient must not remain on the envelope, got %+v", env.RcptTo)
	}
}

func TestHandleRcptMilterTransientFailureMapsTo451(t *testing.T) {
	env := &collab.Envelope{MailFrom: "s@x.com", SessionID: "sess-1"}
	reply := &stubReplier{}
	deps := Deps{Milter: &stubMilter{err: errors.New("rpc unavailable")}, Evaluator: allowRelay{}}
	_, err := HandleRcpt(context.Background(), env, baseParams(), deps, stubVars{}, lalog.Logger{}, reply, Request{To: "r@x.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reply.replies) != 1 || reply.replies[0] != "451 4.4.3 Unable to verify address at this time.\r\n" {
		t.Fatalf("unexpected replies %+v", reply.replies)
	}
}

func TestHandleRcptRewriteCollapsesIntoExistingRecipient(t *testing.T) {
	env := &collab.Envelope{
		MailFrom: "s@x.com",
		SessionID: "sess-1",
		RcptTo:   []collab.Recipient{{Original: "real@x.com", Lowercased: "real@x.com", Domain: "x.com"}},
	}
	reply := &stubReplier{}
	params := baseParams()
	params.RewriteExpr = "rewrite-to-real"
	deps := Deps{Evaluator: rewriteEvaluator{to: "real@x.com"}}
	_, err := HandleRcpt(context.Background(), env, params, deps, stubVars{}, lalog.Logger{}, reply, Request{To: "alias@x.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(env.RcptTo) != 1 {
		t.Fatalf("rewritten recipient must collapse into the existing one, got %+v", env.RcptTo)
	}
	if len(reply.replies) != 1 || reply.replies[0] != "250 2.1.5 OK\r\n" {
		t.Fatalf("unexpected replies %+v", reply.replies)
	}
}

func TestHandleRcptNoDirectoryFallsBackToRelayPredicate(t *testing.T) {
	env := &collab.Envelope{MailFrom: "s@x.com", SessionID: "sess-1"}
	reply := &stubReplier{}
	deps := Deps{Evaluator: denyRelay{}}
	_, err := HandleRcpt(context.Background(), env, baseParams(), deps, stubVars{}, lalog.Logger{}, reply, Request{To: "r@x.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reply.replies) != 1 || reply.replies[0] != "550 5.1.2 Relay not allowed.\r\n" {
		t.Fatalf("unexpected replies %+v", reply.replies)
	}
}

func TestHandleRcptErrorBudgetDisconnects(t *testing.T) {
	env := &collab.Envelope{MailFrom: "s@x.com", SessionID: "sess-1"}
	reply := &stubReplier{}
	params := baseParams()
	params.RcptErrorsMax = 1
	deps := Deps{Evaluator: denyRelay{}}
	outcome, err := HandleRcpt(context.Background(), env, params, deps, stubVars{}, lalog.Logger{}, reply, Request{To: "r@x.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Disconnect {
		t.Fatalf("expected disconnect once the error budget is exhausted")
	}
	if reply.replies[len(reply.replies)-1] != "421 4.3.0 Too many errors, disconnecting.\r\n" {
		t.Fatalf("unexpected final reply %+v", reply.replies)
	}
}

// TestHandleRcptPreconditionGatesNeverDisconnect covers the precondition and
// rate-limit replies that are plain rejections, not rcpt_error: even driven
// past what would be the error budget, they must never touch env.RcptErrors
// and never disconnect.
func TestHandleRcptPreconditionGatesNeverDisconnect(t *testing.T) {
	params := baseParams()
	params.RcptErrorsMax = 1

	t.Run("mail required first", func(t *testing.T) {
		env := &collab.Envelope{SessionID: "sess-1"}
		reply := &stubReplier{}
		outcome, err := HandleRcpt(context.Background(), env, params, Deps{}, stubVars{}, lalog.Logger{}, reply, Request{To: "r@x.com"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if outcome.Disconnect {
			t.Fatal("MAIL-required precondition must not disconnect")
		}
		if len(reply.replies) != 1 || reply.replies[0] != "503 5.5.1 MAIL is required first.\r\n" {
			t.Fatalf("unexpected replies %+v", reply.replies)
		}
		if env.RcptErrors != 0 {
			t.Fatalf("precondition gate must not increment RcptErrors, got %d", env.RcptErrors)
		}
	})

	t.Run("too many recipients", func(t *testing.T) {
		env := &collab.Envelope{MailFrom: "s@x.com", SessionID: "sess-1"}
		params := baseParams()
		params.RcptErrorsMax = 1
		params.RcptMax = 0
		reply := &stubReplier{}
		outcome, err := HandleRcpt(context.Background(), env, params, Deps{}, stubVars{}, lalog.Logger{}, reply, Request{To: "r@x.com"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if outcome.Disconnect {
			t.Fatal("recipient cap must not disconnect")
		}
		if len(reply.replies) != 1 || reply.replies[0] != "451 4.5.3 Too many recipients.\r\n" {
			t.Fatalf("unexpected replies %+v", reply.replies)
		}
	})

	t.Run("rate limited", func(t *testing.T) {
		env := &collab.Envelope{MailFrom: "s@x.com", SessionID: "sess-1"}
		params := params
		params.RelayExpr = "relay"
		reply := &stubReplier{}
		deps := Deps{Evaluator: allowRelay{}, RateLimiter: denyRateLimiter{}}
		outcome, err := HandleRcpt(context.Background(), env, params, deps, stubVars{}, lalog.Logger{}, reply, Request{To: "r@x.com"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if outcome.Disconnect {
			t.Fatal("rate limiting must not disconnect")
		}
		if len(reply.replies) != 1 || reply.replies[0] != "451 4.4.5 Rate limit exceeded, try again later.\r\n" {
			t.Fatalf("unexpected replies %+v", reply.replies)
		}
		if env.RcptErrors != 0 {
			t.Fatalf("rate limiting must not increment RcptErrors, got %d", env.RcptErrors)
		}
	})
}

type denyRateLimiter struct{}

func (denyRateLimiter) IsAllowed(sessionID string) bool { return false }

type rewriteEvaluator struct{ to string }

func (r rewriteEvaluator) EvalIfString(ctx context.Context, rule string, vars collab.VariableResolver, sessionID string) (string, bool) {
	return r.to, true
}
func (r rewriteEvaluator) EvalIfBool(ctx context.Context, rule string, vars collab.VariableResolver, sessionID string) (bool, bool) {
	return false, false
}

type denyRelay struct{}

func (denyRelay) EvalIfString(ctx context.Context, rule string, vars collab.VariableResolver, sessionID string) (string, bool) {
	return "", false
}
func (denyRelay) EvalIfBool(ctx context.Context, rule string, vars collab.VariableResolver, sessionID string) (bool, bool) {
	return false, true
}
