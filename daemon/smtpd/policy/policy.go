// Package policy implements the recipient policy pipeline (§4.E): the
// ordered cascade of precondition gates, duplicate collapse, scripted
// filtering, directory verification, and rate limiting that every RCPT TO
// passes through before it is appended to the envelope.
//
// Each stage is a plain function sharing one mutable *Context, in the style
// the teacher's daemon/smtpd/mailcmd.CommandRunner pipes a value through a
// list of bridges — not an inheritance hierarchy.
package policy

import (
	"context"
	"strings"
	"time"

	"golang.org/x/net/idna"

	"github.com/relaydog/mtasession/daemon/smtpd/collab"
	"github.com/relaydog/mtasession/daemon/smtpd/metrics"
	"github.com/relaydog/mtasession/daemon/smtpd/trace"
	"github.com/relaydog/mtasession/lalog"
)

// lookupProfile normalizes a domain to its ASCII-compatible form for
// directory/relay look-ups only (§3): "exämple.com" and "xn--exmple-cua.com"
// must resolve to the same directory key even though the client-visible
// address and the queued envelope keep the original, non-normalized form.
var lookupProfile = idna.New(idna.MapForLookup(), idna.Transitional(true), idna.BidiRule())

// normalizeDomainForLookup converts domain to its IDNA ASCII-compatible form
// for use in directory/relay queries. If the domain does not round-trip
// through IDNA (e.g. it is already ASCII, or malformed), it is returned
// unchanged so the lookup simply behaves as it did before normalization was
// added.
func normalizeDomainForLookup(domain string) string {
	normalized, err := lookupProfile.ToASCII(domain)
	if err != nil {
		return domain
	}
	return normalized
}

// Params is the subset of session configuration the pipeline needs. It is a
// plain copy (not an import of the session package, which itself calls into
// policy) so the two packages stay acyclic.
type Params struct {
	RcptMax        int
	DSNEnabled     bool
	RcptErrorsMax  int
	RcptErrorsWait time.Duration

	DirectoryExpr string
	RewriteExpr   string
	SieveExpr     string
	RelayExpr     string
}

// Deps bundles the external collaborators the pipeline consults. Any of
// these may be nil, meaning "not configured" — the relevant stage is
// skipped or, for the directory, falls back to the relay-predicate-only
// path described in §4.E step 5.
type Deps struct {
	Directory   collab.Directory
	Sieve       collab.SieveRuntime
	Milter      collab.MilterClient
	MTAHook     collab.MTAHookClient
	RateLimiter collab.RateLimiter
	Evaluator   collab.ExpressionEvaluator
	// Metrics is optional; a nil Metrics disables counter emission entirely.
	Metrics *metrics.Collector
}

// Replier is the minimal transport capability the pipeline needs: write one
// status line, collapsing any transport failure to a single error.
type Replier interface {
	Reply(line string) error
}

// Request is the parsed RCPT TO command.
type Request struct {
	To     string
	Notify []string
	Orcpt  string
}

// Outcome reports what HandleRcpt did once it returns.
type Outcome struct {
	Disconnect bool
}

// dsnFlags are the DSN NOTIFY values that require the DSN extension.
var dsnFlags = map[string]bool{"DELAY": true, "NEVER": true, "SUCCESS": true, "FAILURE": true}

// HandleRcpt runs the full pipeline for one RCPT TO command. On any
// transport write failure it returns a non-nil error and the caller should
// treat the session as fatally disconnected.
func HandleRcpt(ctx context.Context, env *collab.Envelope, params Params, deps Deps, vars collab.VariableResolver, logger lalog.Logger, reply Replier, req Request) (Outcome, error) {
	// 1. Precondition gates. These are plain rejections, not rcpt_error: a
	// client that hasn't sent MAIL yet, or that hits the recipient cap, or
	// that asks for DSN with DSN disabled, hasn't done anything that should
	// tarpit it or count against its error budget.
	if env.MailFrom == "" {
		return Outcome{}, reply.Reply("503 5.5.1 MAIL is required first.\r\n")
	}
	if len(env.RcptTo) >= params.RcptMax {
		return Outcome{}, reply.Reply("451 4.5.3 Too many recipients.\r\n")
	}
	if !params.DSNEnabled {
		dsnRequested := req.Orcpt != ""
		for _, n := range req.Notify {
			if dsnFlags[strings.ToUpper(strings.TrimSpace(n))] {
				dsnRequested = true
			}
		}
		if dsnRequested {
			return Outcome{}, reply.Reply("501 5.5.4 DSN extension has been disabled.\r\n")
		}
	}

	// 2. Construct recipient and check for an existing match.
	candidate := buildRecipient(req)
	if env.ContainsRecipient(candidate) {
		return Outcome{}, reply.Reply("250 2.1.5 OK\r\n")
	}

	// 3. Append tentatively; every rejection below pops this entry back off.
	env.RcptTo = append(env.RcptTo, candidate)
	pop := func() { env.RcptTo = env.RcptTo[:len(env.RcptTo)-1] }

	// 4. Filtering stage.
	if deps.Sieve != nil || deps.Milter != nil || deps.MTAHook != nil || params.RewriteExpr != "" {
		verdict, rejectMsg, err := runFiltering(ctx, env, &env.RcptTo[len(env.RcptTo)-1], params, deps, vars, logger)
		if err != nil {
			pop()
			return Outcome{}, reply.Reply("451 4.4.3 Unable to verify address at this time.\r\n")
		}
		if !verdict {
			pop()
			return Outcome{}, reply.Reply(rejectMsg)
		}
		// Re-dedup: a rewrite may have produced an address that now
		// collides with an already-accepted recipient.
		rewritten := env.RcptTo[len(env.RcptTo)-1]
		for i := 0; i < len(env.RcptTo)-1; i++ {
			if env.RcptTo[i].Equal(rewritten) {
				pop()
				return Outcome{}, reply.Reply("250 2.1.5 OK\r\n")
			}
		}
	}

	// 5. Directory verification.
	current := &env.RcptTo[len(env.RcptTo)-1]
	directory := deps.Directory
	if params.DirectoryExpr != "" && deps.Evaluator != nil {
		if name, ok := deps.Evaluator.EvalIfString(ctx, params.DirectoryExpr, vars, env.SessionID); !ok || name == "" {
			directory = nil
		}
	}
	if directory != nil {
		// Directory/relay lookups use the IDNA-normalized domain so
		// "exämple.com" and its ASCII-compatible "xn--exmple-cua.com" form
		// resolve to the same directory key; the address as stored on the
		// recipient and written back to the client stays untouched (§3).
		lookupDomain := normalizeDomainForLookup(current.Domain)
		var local bool
		err := trace.Capture(ctx, trace.SpanDirectory, func(ctx context.Context) error {
			var derr error
			local, derr = directory.IsLocalDomain(ctx, lookupDomain)
			return derr
		})
		if err != nil {
			pop()
			return Outcome{}, reply.Reply("451 4.4.3 Unable to verify address at this time.\r\n")
		}
		if local {
			lookupAddr := current.Lowercased
			if lookupDomain != current.Domain {
				if at := strings.LastIndexByte(current.Lowercased, '@'); at != -1 {
					lookupAddr = current.Lowercased[:at+1] + lookupDomain
				}
			}
			var exists bool
			err := trace.Capture(ctx, trace.SpanDirectory, func(ctx context.Context) error {
				var derr error
				exists, derr = directory.IsLocalAddress(ctx, lookupAddr)
				return derr
			})
			if err != nil {
				pop()
				return Outcome{}, reply.Reply("451 4.4.3 Unable to verify address at this time.\r\n")
			}
			if !exists {
				pop()
				return rcptError(ctx, env, params, logger, reply, deps.Metrics, "550 5.1.2 Mailbox does not exist.\r\n")
			}
		} else if !evalRelayAllowed(ctx, params, deps, vars, env.SessionID) {
			pop()
			return rcptError(ctx, env, params, logger, reply, deps.Metrics, "550 5.1.2 Relay not allowed.\r\n")
		}
	} else if !evalRelayAllowed(ctx, params, deps, vars, env.SessionID) {
		pop()
		return rcptError(ctx, env, params, logger, reply, deps.Metrics, "550 5.1.2 Relay not allowed.\r\n")
	}

	// 6. Rate limiting.
	if deps.RateLimiter != nil {
		var allowed bool
		_ = trace.Capture(ctx, trace.SpanRateLimit, func(context.Context) error {
			allowed = deps.RateLimiter.IsAllowed(env.SessionID)
			return nil
		})
		if !allowed {
			pop()
			return Outcome{}, reply.Reply("451 4.4.5 Rate limit exceeded, try again later.\r\n")
		}
	}

	// 7. Success.
	if deps.Metrics != nil {
		deps.Metrics.RecipientsAccepted.Inc()
	}
	return Outcome{}, reply.Reply("250 2.1.5 OK\r\n")
}

func buildRecipient(req Request) collab.Recipient {
	lower := strings.ToLower(req.To)
	domain := ""
	if at := strings.LastIndexByte(lower, '@'); at != -1 {
		domain = lower[at+1:]
	}
	return collab.Recipient{
		Original:   req.To,
		Lowercased: lower,
		Domain:     domain,
		Notify:     req.Notify,
		Orcpt:      req.Orcpt,
	}
}

// evalRelayAllowed evaluates the relay predicate; with no evaluator or rule
// configured, relay defaults to disallowed (fail closed).
func evalRelayAllowed(ctx context.Context, params Params, deps Deps, vars collab.VariableResolver, sessionID string) bool {
	if deps.Evaluator == nil || params.RelayExpr == "" {
		return false
	}
	allowed, ok := deps.Evaluator.EvalIfBool(ctx, params.RelayExpr, vars, sessionID)
	return ok && allowed
}

// runFiltering evaluates Sieve, milter, MTA-hook, and address rewrite in
// that order against the tentative recipient, returning whether the stage
// passed and, if not, the verbatim rejection message to send.
func runFiltering(ctx context.Context, env *collab.Envelope, rcpt *collab.Recipient, params Params, deps Deps, vars collab.VariableResolver, logger lalog.Logger) (passed bool, rejectMsg string, err error) {
	stageParams := map[string]string{
		"recipient": rcpt.Lowercased,
		"sender":    env.MailFrom,
	}
	if deps.Sieve != nil && params.SieveExpr != "" {
		script := params.SieveExpr
		if deps.Evaluator != nil {
			if resolved, ok := deps.Evaluator.EvalIfString(ctx, params.SieveExpr, vars, env.SessionID); ok {
				script = resolved
			}
		}
		if script != "" {
			var result collab.SieveRuntimeResult
			runErr := trace.Capture(ctx, trace.SpanSieve, func(ctx context.Context) error {
				var e error
				result, e = deps.Sieve.Run(ctx, script, "rcpt", stageParams)
				return e
			})
			if runErr != nil {
				return false, "", runErr
			}
			switch result.Kind {
			case collab.SieveReject:
				return false, ensureCRLF(result.Message), nil
			case collab.SieveAccept:
				for _, mod := range result.Modifications {
					applyEnvelopeMod(rcpt, mod)
				}
			}
		}
	}
	if deps.Milter != nil {
		var verdict collab.FilterVerdict
		runErr := trace.Capture(ctx, trace.SpanMilter, func(ctx context.Context) error {
			var e error
			verdict, e = deps.Milter.Run(ctx, "rcpt", stageParams)
			return e
		})
		if runErr != nil {
			return false, "", runErr
		}
		if verdict.Rejected {
			return false, ensureCRLF(verdict.Message), nil
		}
	}
	if deps.MTAHook != nil {
		var verdict collab.FilterVerdict
		runErr := trace.Capture(ctx, trace.SpanMTAHook, func(ctx context.Context) error {
			var e error
			verdict, e = deps.MTAHook.Run(ctx, "rcpt", stageParams)
			return e
		})
		if runErr != nil {
			return false, "", runErr
		}
		if verdict.Rejected {
			return false, ensureCRLF(verdict.Message), nil
		}
	}
	if params.RewriteExpr != "" && deps.Evaluator != nil {
		if newAddr, ok := deps.Evaluator.EvalIfString(ctx, params.RewriteExpr, vars, env.SessionID); ok && strings.Contains(newAddr, "@") {
			rcpt.Original = newAddr
			rcpt.Lowercased = strings.ToLower(newAddr)
			if at := strings.LastIndexByte(rcpt.Lowercased, '@'); at != -1 {
				rcpt.Domain = rcpt.Lowercased[at+1:]
			}
		}
	}
	return true, "", nil
}

func applyEnvelopeMod(rcpt *collab.Recipient, mod collab.EnvelopeMod) {
	switch strings.ToUpper(mod.Name) {
	case "RECIPIENT":
		rcpt.Original = mod.Value
		rcpt.Lowercased = strings.ToLower(mod.Value)
		if at := strings.LastIndexByte(rcpt.Lowercased, '@'); at != -1 {
			rcpt.Domain = rcpt.Lowercased[at+1:]
		}
	case "ORCPT":
		rcpt.Orcpt = mod.Value
	}
}

func ensureCRLF(msg string) string {
	if msg == "" {
		return "550 5.7.1 Rejected.\r\n"
	}
	if strings.HasSuffix(msg, "\r\n") {
		return msg
	}
	return msg + "\r\n"
}

// rcptError is the §4.E "rcpt_error" handler, used for exactly the two
// definitive-rejection replies ("550 5.1.2 Mailbox does not exist." and
// "550 5.1.2 Relay not allowed."): tarpit, increment the error counter, send
// the supplied status, and escalate to disconnect once the session's error
// budget is exhausted. Every other rejection in this pipeline (precondition
// gates, transient directory/filtering failures, rate limiting) is a plain
// reply.Reply — those clients haven't done anything that should be tarpitted
// or counted against the error budget.
func rcptError(ctx context.Context, env *collab.Envelope, params Params, logger lalog.Logger, reply Replier, m *metrics.Collector, status string) (Outcome, error) {
	if params.RcptErrorsWait > 0 {
		waited := params.RcptErrorsWait
		_ = trace.Capture(ctx, trace.SpanTarpit, func(ctx context.Context) error {
			timer := time.NewTimer(waited)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
			}
			return nil
		})
		if m != nil {
			m.RcptTarpitSeconds.Observe(waited.Seconds())
		}
	}
	env.RcptErrors++
	if m != nil {
		m.RecipientsRejected.WithLabelValues(strings.SplitN(status, " ", 2)[0]).Inc()
	}
	if err := reply.Reply(status); err != nil {
		return Outcome{}, err
	}
	if env.RcptErrors >= params.RcptErrorsMax {
		logger.Warning(env.SessionID, nil, "recipient error budget exceeded, disconnecting")
		if m != nil {
			m.Disconnects.WithLabelValues("error_budget").Inc()
		}
		if err := reply.Reply("421 4.3.0 Too many errors, disconnecting.\r\n"); err != nil {
			return Outcome{}, err
		}
		return Outcome{Disconnect: true}, nil
	}
	return Outcome{}, nil
}
