// Package trace wraps the session engine's suspension points (§5) with a
// named timed span, patterned on the teacher's xray.Capture usage around
// HTTP handler middleware (daemon/httpd/middleware.go), so a tracing backend
// can be swapped in later without touching the state machine itself.
package trace

import (
	"context"
	"os"

	"github.com/aws/aws-xray-sdk-go/strategy/ctxmissing"
	"github.com/aws/aws-xray-sdk-go/xray"
)

// xray's default ContextMissingStrategy is RUNTIME_ERROR, which panics
// whenever Capture runs on a context with no active segment - true of every
// suspension point here until an xray.Handler has wrapped the connection,
// and always true in tests. Configure the same ignore-error strategy the
// teacher installs before its own xray.Capture call sites
// (main.go's AWS integration setup) so a missing segment degrades to "run fn,
// skip the trace" instead of crashing the daemon.
func init() {
	_ = os.Setenv("AWS_XRAY_CONTEXT_MISSING", "LOG_ERROR")
	_ = xray.Configure(xray.Config{ContextMissingStrategy: ctxmissing.NewDefaultIgnoreErrorStrategy()})
}

// Span names for the suspension points enumerated in §5: transport writes,
// directory queries, milter/MTA-hook RPCs, Sieve script execution, the
// rate-limit gate, and the rcpt_error tarpit sleep.
const (
	SpanWrite       = "smtpd.write"
	SpanDirectory   = "smtpd.directory"
	SpanMilter      = "smtpd.milter"
	SpanMTAHook     = "smtpd.mtahook"
	SpanSieve       = "smtpd.sieve"
	SpanRateLimit   = "smtpd.ratelimit"
	SpanTarpit      = "smtpd.tarpit"
	SpanQueue       = "smtpd.queue"
)

// Capture runs fn inside a named xray subsegment. With the ignore-error
// context-missing strategy installed above, a ctx with no active segment
// (unit tests, or a deployment that never installed an xray.Handler
// upstream) still runs fn and simply skips emitting a trace - the span is
// strictly additive instrumentation, never a precondition for correctness.
func Capture(ctx context.Context, name string, fn func(context.Context) error) error {
	return xray.Capture(ctx, name, fn)
}
