package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/relaydog/mtasession/daemon/smtpd/collab"
	"github.com/relaydog/mtasession/daemon/smtpd/proto"
	"github.com/relaydog/mtasession/daemon/smtpd/receiver"
)

// dispatchRequestLine parses one decoded request line and runs its handler,
// returning the next driver state and the outcome to propagate (or continue
// looping within the same Ingest call).
func (s *Session) dispatchRequestLine(ctx context.Context, line string) (State, Result, error) {
	cmd, perr := proto.Parse(line)
	if perr != nil {
		return s.handleParseError(perr)
	}
	switch cmd.Verb {
	case proto.VerbHelo:
		return s.handleHelo(collab.SMTP, cmd.Domain)
	case proto.VerbEhlo:
		return s.handleHelo(collab.SMTP, cmd.Domain)
	case proto.VerbLhlo:
		return s.handleHelo(collab.LMTP, cmd.Domain)
	case proto.VerbMail:
		return s.handleMail(cmd)
	case proto.VerbRcpt:
		res, err := s.handleRcpt(ctx, cmd.To, cmd.Notify, cmd.Orcpt)
		return newRequestState(s.Params.MaxLineLength), res, err
	case proto.VerbData:
		return s.handleDataStart()
	case proto.VerbBdat:
		return s.handleBdatStart(ctx, cmd)
	case proto.VerbAuth:
		return s.handleAuthStart(ctx, cmd)
	case proto.VerbStartTLS:
		return s.handleStartTLS()
	case proto.VerbRset:
		return s.handleRset()
	case proto.VerbQuit:
		return s.handleQuit()
	case proto.VerbNoop:
		return s.requestResult(s.reply("250 2.0.0 OK\r\n"))
	case proto.VerbVrfy:
		return s.requestResult(s.reply("252 2.1.5 Cannot verify user, will attempt delivery.\r\n"))
	case proto.VerbExpn:
		return s.requestResult(s.reply("252 2.1.5 Cannot expand list.\r\n"))
	case proto.VerbHelp:
		return s.requestResult(s.reply("214 2.0.0 See RFC 5321.\r\n"))
	case proto.VerbEtrn, proto.VerbAtrn, proto.VerbBurl:
		return s.requestResult(s.reply("502 5.5.1 Command not implemented.\r\n"))
	default:
		return s.requestResult(s.reply("500 5.5.1 Invalid command.\r\n"))
	}
}

// requestResult is the common case: reply, then return to Request.
func (s *Session) requestResult(err error) (State, Result, error) {
	return newRequestState(s.Params.MaxLineLength), ResultContinue, err
}

func (s *Session) handleParseError(perr *proto.ParseError) (State, Result, error) {
	var line string
	switch perr.Kind {
	case proto.ErrUnknownCommand:
		line = "500 5.5.1 Invalid command.\r\n"
	case proto.ErrInvalidSender:
		line = "501 5.1.8 Bad sender's system address.\r\n"
	case proto.ErrInvalidRecipient:
		line = "501 5.1.3 Bad destination mailbox address syntax.\r\n"
	case proto.ErrInvalidParameter:
		line = fmt.Sprintf("501 5.5.4 Invalid parameter %s.\r\n", perr.Parameter)
	case proto.ErrUnsupportedParameter:
		line = fmt.Sprintf("504 5.5.4 Unsupported parameter %s.\r\n", perr.Parameter)
	case proto.ErrSyntax:
		line = fmt.Sprintf("501 5.5.2 Syntax error, expected: %s\r\n", perr.Grammar)
	default:
		line = "500 5.5.1 Invalid command.\r\n"
	}
	return newRequestState(s.Params.MaxLineLength), ResultContinue, s.reply(line)
}

func (s *Session) handleHelo(wantProtocol collab.Protocol, domain string) (State, Result, error) {
	if s.Params.Protocol != wantProtocol {
		return newRequestState(s.Params.MaxLineLength), ResultContinue, s.reply("500 5.5.1 Invalid command.\r\n")
	}
	s.Envelope.HeloDomain = domain
	greet := ehloGreeting(s, domain)
	return newRequestState(s.Params.MaxLineLength), ResultContinue, s.reply(greet)
}

// ehloGreeting assembles the multi-line HELO/EHLO/LHLO response advertising
// the extensions available given current session state; all three greeting
// commands receive the same reply.
func ehloGreeting(s *Session, domain string) string {
	var lines []string
	lines = append(lines, "Hello "+domain)
	lines = append(lines, fmt.Sprintf("SIZE %d", s.Params.MaxMessageSize))
	lines = append(lines, "8BITMIME")
	lines = append(lines, "PIPELINING")
	lines = append(lines, "ENHANCEDSTATUSCODES")
	lines = append(lines, "CHUNKING")
	if s.Params.TLSAvailable && !s.InTLS {
		lines = append(lines, "STARTTLS")
	}
	if len(s.Params.AuthMechanisms) > 0 && s.Params.AuthDirectory && s.Envelope.AuthenticatedAs == "" {
		lines = append(lines, "AUTH "+strings.Join(s.Params.AuthMechanisms, " "))
	}
	var b strings.Builder
	for i, l := range lines {
		if i == len(lines)-1 {
			b.WriteString("250 " + l + "\r\n")
		} else {
			b.WriteString("250-" + l + "\r\n")
		}
	}
	return b.String()
}

func (s *Session) handleMail(cmd proto.Command) (State, Result, error) {
	s.Envelope.MailFrom = cmd.From
	if prio, ok := cmd.MailParams["PRIORITY"]; ok {
		s.Envelope.Priority = prio
	}
	return newRequestState(s.Params.MaxLineLength), ResultContinue, s.reply("250 2.1.0 OK\r\n")
}

func (s *Session) handleDataStart() (State, Result, error) {
	if s.Envelope.MailFrom == "" || len(s.Envelope.RcptTo) == 0 {
		return newRequestState(s.Params.MaxLineLength), ResultContinue, s.reply("503 5.5.1 MAIL is required first.\r\n")
	}
	if err := s.reply("354 Start mail input; end with <CRLF>.<CRLF>\r\n"); err != nil {
		return newRequestState(s.Params.MaxLineLength), ResultDisconnect, err
	}
	return State{Kind: StateData, Data: receiver.NewDotStuff()}, ResultContinue, nil
}

func (s *Session) handleBdatStart(ctx context.Context, cmd proto.Command) (State, Result, error) {
	if s.Envelope.MailFrom == "" || len(s.Envelope.RcptTo) == 0 {
		return newRequestState(s.Params.MaxLineLength), ResultContinue, s.reply("503 5.5.1 MAIL is required first.\r\n")
	}
	if int64(len(s.Envelope.Message)+cmd.ChunkSize) >= s.Params.MaxMessageSize {
		return State{Kind: StateDataTooLarge, Discard: newDiscardCounted(cmd.ChunkSize)}, ResultContinue, nil
	}
	if cmd.ChunkSize == 0 {
		// A zero-octet chunk has nothing left to read off the wire, so it
		// must be handled inline: waiting for Ingest to be re-entered would
		// wedge the session if this was BDAT 0 LAST and the client sends
		// nothing further.
		if cmd.IsLast {
			return s.finishTransaction(ctx)
		}
		return newRequestState(s.Params.MaxLineLength), ResultContinue, s.reply("250 2.6.0 Chunk accepted.\r\n")
	}
	return State{Kind: StateBdat, Bdat: &receiver.Counted{Remaining: cmd.ChunkSize}, BdatIsLast: cmd.IsLast}, ResultContinue, nil
}

func newDiscardCounted(n int) *receiver.Discard {
	d := &receiver.Discard{}
	d.Reset(receiver.DiscardCounted, n)
	return d
}

func (s *Session) handleStartTLS() (State, Result, error) {
	if !s.Params.TLSAvailable {
		return newRequestState(s.Params.MaxLineLength), ResultContinue, s.reply("502 5.7.0 TLS not available.\r\n")
	}
	if s.InTLS {
		return newRequestState(s.Params.MaxLineLength), ResultContinue, s.reply("504 5.7.4 Already in TLS mode.\r\n")
	}
	if err := s.reply("220 2.0.0 Ready to start TLS.\r\n"); err != nil {
		return newRequestState(s.Params.MaxLineLength), ResultDisconnect, err
	}
	// The default state is restored before returning tls_handover so any
	// pipelined bytes received alongside STARTTLS are never executed in
	// plaintext (§5, §9).
	return newRequestState(s.Params.MaxLineLength), ResultTLSHandover, nil
}

func (s *Session) handleRset() (State, Result, error) {
	s.Envelope.Reset()
	return newRequestState(s.Params.MaxLineLength), ResultContinue, s.reply("250 2.0.0 OK\r\n")
}

func (s *Session) handleQuit() (State, Result, error) {
	err := s.reply("221 2.0.0 Bye.\r\n")
	if s.Metrics != nil {
		s.Metrics.Disconnects.WithLabelValues("quit").Inc()
	}
	return newRequestState(s.Params.MaxLineLength), ResultDisconnect, err
}
