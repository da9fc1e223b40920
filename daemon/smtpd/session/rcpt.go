package session

import (
	"context"

	"github.com/relaydog/mtasession/daemon/smtpd/collab"
	"github.com/relaydog/mtasession/daemon/smtpd/policy"
)

// handleRcpt bridges a parsed RCPT TO command into the recipient policy
// pipeline (§4.E), translating its Outcome back into a session Result.
func (s *Session) handleRcpt(ctx context.Context, to string, notify []string, orcpt string) (Result, error) {
	params := policy.Params{
		RcptMax:        s.Params.MaxRecipients,
		DSNEnabled:     s.Params.DSNEnabled,
		RcptErrorsMax:  s.Params.RcptErrorsMax,
		RcptErrorsWait: s.Params.RcptErrorsWait,
		DirectoryExpr:  s.Params.DirectoryExpr,
		RewriteExpr:    s.Params.RewriteExpr,
		SieveExpr:      s.Params.SieveExpr,
		RelayExpr:      s.Params.RelayExpr,
	}
	deps := policy.Deps{
		Directory:   s.Directory,
		Sieve:       s.Sieve,
		Milter:      s.Milter,
		MTAHook:     s.MTAHook,
		RateLimiter: s.RateLimiter,
		Evaluator:   s.Evaluator,
		Metrics:     s.Metrics,
	}
	outcome, err := policy.HandleRcpt(ctx, &s.Envelope, params, deps, s, s.Logger, s, policy.Request{
		To:     to,
		Notify: notify,
		Orcpt:  orcpt,
	})
	if err != nil {
		return ResultDisconnect, err
	}
	if outcome.Disconnect {
		return ResultDisconnect, nil
	}
	return ResultContinue, nil
}

var _ collab.VariableResolver = (*Session)(nil)
