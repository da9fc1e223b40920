package session

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/relaydog/mtasession/daemon/smtpd/collab"
	"golang.org/x/crypto/bcrypt"
)

// recordingTransport is an in-memory Transport used by tests to capture
// everything the session writes and to feed it bytes without a real socket.
type recordingTransport struct {
	written bytes.Buffer
	failing bool
}

func (t *recordingTransport) Write(p []byte) error {
	if t.failing {
		return errors.New("simulated transport failure")
	}
	t.written.Write(p)
	return nil
}

func (t *recordingTransport) Read(p []byte) (int, error) { return 0, nil }

// replies splits the recorded output into individual reply lines, loosely
// (status lines end in CRLF; EHLO's multiline continuations stay grouped).
func (t *recordingTransport) replies() []string {
	raw := t.written.String()
	var out []string
	for _, line := range strings.Split(strings.TrimSuffix(raw, "\r\n"), "\r\n") {
		out = append(out, line+"\r\n")
	}
	return out
}

// stubDirectory is a fixed-answer Directory used by tests.
type stubDirectory struct {
	localDomains  map[string]bool
	localAddrs    map[string]bool
	transientDomain, transientAddr bool
}

func (d *stubDirectory) IsLocalDomain(ctx context.Context, domain string) (bool, error) {
	if d.transientDomain {
		return false, errors.New("transient directory failure")
	}
	return d.localDomains[domain], nil
}

func (d *stubDirectory) IsLocalAddress(ctx context.Context, addr string) (bool, error) {
	if d.transientAddr {
		return false, errors.New("transient directory failure")
	}
	return d.localAddrs[addr], nil
}

// stubQueue returns a fixed reply for every transaction and records the
// envelopes it was handed.
type stubQueue struct {
	reply    []byte
	err      error
	received []collab.Envelope
}

func (q *stubQueue) QueueMessage(ctx context.Context, env *collab.Envelope) ([]byte, error) {
	cp := *env
	cp.Message = append([]byte(nil), env.Message...)
	q.received = append(q.received, cp)
	return q.reply, q.err
}

// allowAllRateLimiter never refuses.
type allowAllRateLimiter struct{}

func (allowAllRateLimiter) IsAllowed(string) bool { return true }

// relayEvaluator always resolves the relay predicate to a fixed bool, and
// leaves the directory/rewrite/sieve expressions unresolved.
type relayEvaluator struct{ relayAllowed bool }

func (e relayEvaluator) EvalIfString(ctx context.Context, rule string, vars collab.VariableResolver, sessionID string) (string, bool) {
	return "", false
}

func (e relayEvaluator) EvalIfBool(ctx context.Context, rule string, vars collab.VariableResolver, sessionID string) (bool, bool) {
	return e.relayAllowed, true
}

// bcryptCredentials is a tiny in-memory CredentialVerifier fixture used only
// to drive the AUTH PLAIN/LOGIN tests end to end; it is not a production
// authentication back-end (that remains an external collaborator contract).
type bcryptCredentials struct {
	hashes map[string][]byte // username -> bcrypt hash
}

func newBcryptCredentials(creds map[string]string) *bcryptCredentials {
	hashes := make(map[string][]byte, len(creds))
	for user, pass := range creds {
		h, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.MinCost)
		if err != nil {
			panic(err)
		}
		hashes[user] = h
	}
	return &bcryptCredentials{hashes: hashes}
}

func (c *bcryptCredentials) Verify(ctx context.Context, mechanism, username string, credential []byte) (bool, error) {
	hash, ok := c.hashes[username]
	if !ok {
		return false, nil
	}
	return bcrypt.CompareHashAndPassword(hash, credential) == nil, nil
}

func defaultParams() Params {
	return Params{
		ListenerID:     "smtp-test",
		Protocol:       collab.SMTP,
		MaxRecipients:  100,
		MaxMessageSize: 1 << 20,
		MaxLineLength:  2048,
		DSNEnabled:     false,
		RcptErrorsMax:  3,
		RcptErrorsWait: 0,
		AuthMechanisms: []string{"PLAIN", "LOGIN"},
		AuthDirectory:  true,
		TLSAvailable:   true,
	}
}

func newTestSession(params Params, dir collab.Directory, q *stubQueue, relayAllowed bool) (*Session, *recordingTransport) {
	tr := &recordingTransport{}
	s := New(params, "session-1")
	s.Out = tr
	s.Directory = dir
	s.Queue = q
	s.RateLimiter = allowAllRateLimiter{}
	s.Evaluator = relayEvaluator{relayAllowed: relayAllowed}
	s.Credentials = newBcryptCredentials(map[string]string{"user": "pass"})
	return s, tr
}
