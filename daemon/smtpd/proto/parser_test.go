package proto

import "testing"

func TestParseHelo(t *testing.T) {
	cmd, err := Parse("EHLO mail.example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Verb != VerbEhlo || cmd.Domain != "mail.example.com" {
		t.Fatalf("unexpected command %+v", cmd)
	}
}

func TestParseMailFromWithParams(t *testing.T) {
	cmd, err := Parse("MAIL FROM:<a@b.com> SIZE=1024 BODY=8BITMIME")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.From != "a@b.com" {
		t.Fatalf("unexpected from %q", cmd.From)
	}
	if cmd.MailParams["SIZE"] != "1024" || cmd.MailParams["BODY"] != "8BITMIME" {
		t.Fatalf("unexpected params %+v", cmd.MailParams)
	}
}

func TestParseRcptToWithNotifyAndOrcpt(t *testing.T) {
	cmd, err := Parse("RCPT TO:<r@x.com> NOTIFY=SUCCESS,FAILURE ORCPT=rfc822;orig@x.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.To != "r@x.com" {
		t.Fatalf("unexpected to %q", cmd.To)
	}
	if len(cmd.Notify) != 2 || cmd.Notify[0] != "SUCCESS" || cmd.Notify[1] != "FAILURE" {
		t.Fatalf("unexpected notify %+v", cmd.Notify)
	}
	if cmd.Orcpt != "rfc822;orig@x.com" {
		t.Fatalf("unexpected orcpt %q", cmd.Orcpt)
	}
}

func TestParseRcptMissingAddress(t *testing.T) {
	_, err := Parse("RCPT TO:")
	if err == nil || err.Kind != ErrInvalidRecipient {
		t.Fatalf("expected ErrInvalidRecipient, got %+v", err)
	}
}

func TestParseBdat(t *testing.T) {
	cmd, err := Parse("BDAT 120 LAST")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Verb != VerbBdat || cmd.ChunkSize != 120 || !cmd.IsLast {
		t.Fatalf("unexpected command %+v", cmd)
	}
}

func TestParseBdatWithoutLast(t *testing.T) {
	cmd, err := Parse("BDAT 5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.ChunkSize != 5 || cmd.IsLast {
		t.Fatalf("unexpected command %+v", cmd)
	}
}

func TestParseAuthWithInitialResponse(t *testing.T) {
	cmd, err := Parse("AUTH PLAIN AGEAcGFzcw==")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd.Mechanism != "PLAIN" || cmd.InitialResponse != "AGEAcGFzcw==" {
		t.Fatalf("unexpected command %+v", cmd)
	}
}

func TestParseUnknownVerb(t *testing.T) {
	_, err := Parse("FROBNICATE now")
	if err == nil || err.Kind != ErrUnknownCommand {
		t.Fatalf("expected ErrUnknownCommand, got %+v", err)
	}
}

func TestParseVerbAsWordBoundary(t *testing.T) {
	// "HELONIC" must not be mistaken for HELO followed by parameter "NIC".
	_, err := Parse("HELONIC foo")
	if err == nil || err.Kind != ErrUnknownCommand {
		t.Fatalf("expected ErrUnknownCommand for run-together verb, got %+v", err)
	}
}

func TestParseNon7BitASCII(t *testing.T) {
	_, err := Parse("EHLO café")
	if err == nil || err.Kind != ErrSyntax {
		t.Fatalf("expected ErrSyntax for non-ASCII line, got %+v", err)
	}
}
