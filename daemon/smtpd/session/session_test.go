package session

import (
	"context"
	"strings"
	"testing"

	"github.com/relaydog/mtasession/daemon/smtpd/collab"
	"github.com/relaydog/mtasession/daemon/smtpd/receiver"
)

func TestScenarioAcceptedTransaction(t *testing.T) {
	dir := &stubDirectory{
		localDomains: map[string]bool{"local": true},
		localAddrs:   map[string]bool{"r@local": true},
	}
	q := &stubQueue{reply: []byte("250 2.0.0 queued as 123\r\n")}
	s, tr := newTestSession(defaultParams(), dir, q, false)

	body := receiver.StuffLines([]byte("hi\r\n"))
	input := []byte("EHLO a\r\nMAIL FROM:<s@x>\r\nRCPT TO:<r@local>\r\nDATA\r\n")
	input = append(input, body...)
	input = append(input, []byte("QUIT\r\n")...)

	result, err := s.Ingest(context.Background(), input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != ResultDisconnect {
		t.Fatalf("expected disconnect after QUIT, got %v", result)
	}
	out := tr.written.String()
	if !strings.Contains(out, "250 2.1.0 OK\r\n") {
		t.Fatalf("missing MAIL ack in output: %q", out)
	}
	if !strings.Contains(out, "250 2.1.5 OK\r\n") {
		t.Fatalf("missing RCPT ack in output: %q", out)
	}
	if !strings.Contains(out, "354 Start mail input") {
		t.Fatalf("missing DATA prompt in output: %q", out)
	}
	if !strings.Contains(out, "250 2.0.0 queued as 123\r\n") {
		t.Fatalf("missing queue reply in output: %q", out)
	}
	if !strings.Contains(out, "221 2.0.0 Bye.\r\n") {
		t.Fatalf("missing QUIT reply in output: %q", out)
	}
	if len(q.received) != 1 || string(q.received[0].Message) != "hi\r\n" {
		t.Fatalf("unexpected queued message: %+v", q.received)
	}
}

func TestScenarioMailboxDoesNotExist(t *testing.T) {
	dir := &stubDirectory{
		localDomains: map[string]bool{"local": true},
		localAddrs:   map[string]bool{},
	}
	q := &stubQueue{reply: []byte("250 ok\r\n")}
	s, tr := newTestSession(defaultParams(), dir, q, false)

	input := []byte("EHLO a\r\nMAIL FROM:<s@x>\r\nRCPT TO:<nobody@local>\r\n")
	if _, err := s.Ingest(context.Background(), input); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := tr.written.String()
	if !strings.Contains(out, "550 5.1.2 Mailbox does not exist.\r\n") {
		t.Fatalf("expected mailbox rejection, got %q", out)
	}
	if s.Envelope.RcptErrors != 1 {
		t.Fatalf("expected RcptErrors=1, got %d", s.Envelope.RcptErrors)
	}
	if len(s.Envelope.RcptTo) != 0 {
		t.Fatalf("rejected recipient must not remain in the envelope, got %+v", s.Envelope.RcptTo)
	}
}

func TestScenarioRcptBeforeMail(t *testing.T) {
	q := &stubQueue{}
	s, tr := newTestSession(defaultParams(), &stubDirectory{}, q, false)
	input := []byte("RCPT TO:<r@x>\r\n")
	if _, err := s.Ingest(context.Background(), input); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.written.String() != "503 5.5.1 MAIL is required first.\r\n" {
		t.Fatalf("unexpected reply %q", tr.written.String())
	}
}

func TestScenarioBdatChunkedRelay(t *testing.T) {
	q := &stubQueue{reply: []byte("250 2.0.0 queued\r\n")}
	params := defaultParams()
	params.RelayExpr = "allow_relay"
	s, tr := newTestSession(params, &stubDirectory{}, q, true)

	result, err := s.Ingest(context.Background(), []byte("EHLO a\r\nMAIL FROM:<s@x>\r\nRCPT TO:<r@x>\r\nBDAT 5\r\nhello"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != ResultContinue {
		t.Fatalf("expected continue, got %v", result)
	}
	result, err = s.Ingest(context.Background(), []byte("BDAT 0 LAST\r\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != ResultContinue {
		t.Fatalf("expected continue, got %v", result)
	}
	out := tr.written.String()
	if !strings.Contains(out, "250 2.6.0 Chunk accepted.\r\n") {
		t.Fatalf("missing chunk ack: %q", out)
	}
	if !strings.Contains(out, "250 2.0.0 queued\r\n") {
		t.Fatalf("missing queue reply: %q", out)
	}
	if len(q.received) != 1 || string(q.received[0].Message) != "hello" {
		t.Fatalf("unexpected queued message: %+v", q.received)
	}
}

func TestScenarioDSNDisabled(t *testing.T) {
	q := &stubQueue{}
	s, tr := newTestSession(defaultParams(), &stubDirectory{}, q, true)
	input := []byte("MAIL FROM:<s@x>\r\nRCPT TO:<r@x> NOTIFY=SUCCESS\r\n")
	if _, err := s.Ingest(context.Background(), input); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(tr.written.String(), "501 5.5.4 DSN extension has been disabled.\r\n") {
		t.Fatalf("unexpected reply %q", tr.written.String())
	}
}

func TestScenarioLMTPPerRecipientReplies(t *testing.T) {
	dir := &stubDirectory{}
	q := &stubQueue{reply: []byte("250 2.6.0 ok\r\n")}
	params := defaultParams()
	params.Protocol = collab.LMTP
	params.RelayExpr = "allow_relay"
	s, tr := newTestSession(params, dir, q, true)

	input := []byte("LHLO a\r\nMAIL FROM:<s@x>\r\nRCPT TO:<a@x>\r\nRCPT TO:<b@x>\r\nDATA\r\n")
	input = append(input, receiver.StuffLines([]byte("body\r\n"))...)
	if _, err := s.Ingest(context.Background(), input); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := tr.written.String()
	if strings.Count(out, "250 2.6.0 ok\r\n") != 2 {
		t.Fatalf("expected the queue reply written twice, got: %q", out)
	}
}

func TestScenarioPipeliningMatchesOneAtATime(t *testing.T) {
	dir := &stubDirectory{localDomains: map[string]bool{"local": true}, localAddrs: map[string]bool{"r@local": true}}

	pipeline := []byte("EHLO a\r\nMAIL FROM:<s@x>\r\nRCPT TO:<r@local>\r\nRSET\r\n")
	q1 := &stubQueue{}
	s1, tr1 := newTestSession(defaultParams(), dir, q1, false)
	if _, err := s1.Ingest(context.Background(), pipeline); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	q2 := &stubQueue{}
	s2, tr2 := newTestSession(defaultParams(), dir, q2, false)
	for _, line := range []string{"EHLO a\r\n", "MAIL FROM:<s@x>\r\n", "RCPT TO:<r@local>\r\n", "RSET\r\n"} {
		if _, err := s2.Ingest(context.Background(), []byte(line)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if tr1.written.String() != tr2.written.String() {
		t.Fatalf("pipelined and sequential output diverged:\npipelined: %q\nsequential: %q", tr1.written.String(), tr2.written.String())
	}
}

func TestAuthPlainInline(t *testing.T) {
	q := &stubQueue{}
	s, tr := newTestSession(defaultParams(), &stubDirectory{}, q, false)
	// base64("\x00user\x00pass")
	input := []byte("AUTH PLAIN AHVzZXIAcGFzcw==\r\n")
	if _, err := s.Ingest(context.Background(), input); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(tr.written.String(), "235 2.7.0 Authentication successful.\r\n") {
		t.Fatalf("expected auth success, got %q", tr.written.String())
	}
	if s.Envelope.AuthenticatedAs != "user" {
		t.Fatalf("expected authenticated identity to be recorded, got %q", s.Envelope.AuthenticatedAs)
	}
}

func TestAuthAlreadyAuthenticated(t *testing.T) {
	q := &stubQueue{}
	s, tr := newTestSession(defaultParams(), &stubDirectory{}, q, false)
	s.Envelope.AuthenticatedAs = "user"
	if _, err := s.Ingest(context.Background(), []byte("AUTH PLAIN AHVzZXIAcGFzcw==\r\n")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.written.String() != "503 5.5.1 Already authenticated.\r\n" {
		t.Fatalf("unexpected reply %q", tr.written.String())
	}
}

func TestAuthMechanismNotSupported(t *testing.T) {
	q := &stubQueue{}
	s, tr := newTestSession(defaultParams(), &stubDirectory{}, q, false)
	if _, err := s.Ingest(context.Background(), []byte("AUTH GSSAPI\r\n")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.written.String() != "554 5.7.8 Authentication mechanism not supported.\r\n" {
		t.Fatalf("unexpected reply %q", tr.written.String())
	}
}

func TestStartTLSAlreadyInTLSMode(t *testing.T) {
	q := &stubQueue{}
	s, tr := newTestSession(defaultParams(), &stubDirectory{}, q, false)
	s.InTLS = true
	result, err := s.Ingest(context.Background(), []byte("STARTTLS\r\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != ResultContinue {
		t.Fatalf("expected the connection to stay up, got %v", result)
	}
	if tr.written.String() != "504 5.7.4 Already in TLS mode.\r\n" {
		t.Fatalf("unexpected reply %q", tr.written.String())
	}
}

func TestStartTLSHandover(t *testing.T) {
	q := &stubQueue{}
	s, tr := newTestSession(defaultParams(), &stubDirectory{}, q, false)
	result, err := s.Ingest(context.Background(), []byte("STARTTLS\r\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != ResultTLSHandover {
		t.Fatalf("expected tls_handover, got %v", result)
	}
	if !strings.Contains(tr.written.String(), "220 2.0.0 Ready to start TLS.\r\n") {
		t.Fatalf("unexpected reply %q", tr.written.String())
	}
	if s.State.Kind != StateRequest {
		t.Fatalf("expected driver state reset to Request after handover, got %v", s.State.Kind)
	}
}

func TestInvariantMessageNeverExceedsMax(t *testing.T) {
	params := defaultParams()
	params.MaxMessageSize = 16
	params.RelayExpr = "allow_relay"
	q := &stubQueue{reply: []byte("250 ok\r\n")}
	s, tr := newTestSession(params, &stubDirectory{}, q, true)
	input := []byte("MAIL FROM:<s@x>\r\nRCPT TO:<r@x>\r\nDATA\r\n")
	input = append(input, receiver.StuffLines([]byte("this body is far too long for the configured limit\r\n"))...)
	if _, err := s.Ingest(context.Background(), input); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(tr.written.String(), "552 5.3.4 Message too big for system.\r\n") {
		t.Fatalf("expected oversize rejection, got %q", tr.written.String())
	}
	if len(q.received) != 0 {
		t.Fatalf("oversize message must never reach the queue")
	}
}

func TestInvariantNoDuplicateRecipients(t *testing.T) {
	q := &stubQueue{}
	params := defaultParams()
	params.RelayExpr = "allow_relay"
	s, tr := newTestSession(params, &stubDirectory{}, q, true)
	input := []byte("MAIL FROM:<s@x>\r\nRCPT TO:<r@x>\r\nRCPT TO:<R@X>\r\n")
	if _, err := s.Ingest(context.Background(), input); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.Envelope.RcptTo) != 1 {
		t.Fatalf("expected a single deduplicated recipient, got %+v", s.Envelope.RcptTo)
	}
	if strings.Count(tr.written.String(), "250 2.1.5 OK\r\n") != 2 {
		t.Fatalf("both the original and duplicate RCPT must still get OK replies, got %q", tr.written.String())
	}
}

func TestInvariantRejectedRcptLeavesListUnchanged(t *testing.T) {
	q := &stubQueue{}
	s, _ := newTestSession(defaultParams(), &stubDirectory{}, q, false)
	s.Envelope.MailFrom = "s@x"
	before := len(s.Envelope.RcptTo)
	if _, err := s.Ingest(context.Background(), []byte("RCPT TO:<r@x>\r\n")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.Envelope.RcptTo) != before {
		t.Fatalf("rejected RCPT must leave the recipient list unchanged, got %+v", s.Envelope.RcptTo)
	}
}

func TestInvariantResetClearsTransactionalState(t *testing.T) {
	q := &stubQueue{}
	s, _ := newTestSession(defaultParams(), &stubDirectory{}, q, true)
	sessionID := s.Envelope.SessionID
	s.Envelope.MailFrom = "s@x"
	s.Envelope.RcptTo = []collab.Recipient{{Original: "r@x", Lowercased: "r@x", Domain: "x"}}
	if _, err := s.Ingest(context.Background(), []byte("RSET\r\n")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Envelope.MailFrom != "" || len(s.Envelope.RcptTo) != 0 {
		t.Fatalf("RSET must clear transactional state, got %+v", s.Envelope)
	}
	if s.Envelope.SessionID != sessionID {
		t.Fatalf("session identity must survive RSET")
	}
}
