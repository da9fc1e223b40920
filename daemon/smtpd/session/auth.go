package session

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/relaydog/mtasession/daemon/smtpd/proto"
	"github.com/relaydog/mtasession/daemon/smtpd/receiver"
)

// handleAuthStart implements the AUTH command handler of §4.C: rejected if
// no mechanisms are allowed, no auth directory is configured, or the
// session is already authenticated; otherwise the requested mechanism must
// be in the configured set, after which the exchange either completes
// inline (PLAIN with an initial response) or enters Sasl.
func (s *Session) handleAuthStart(ctx context.Context, cmd proto.Command) (State, Result, error) {
	if s.Envelope.AuthenticatedAs != "" {
		return s.requestResult(s.reply("503 5.5.1 Already authenticated.\r\n"))
	}
	if len(s.Params.AuthMechanisms) == 0 || !s.Params.AuthDirectory || s.Credentials == nil {
		return s.requestResult(s.reply("503 5.5.1 AUTH not allowed.\r\n"))
	}
	mechanism := strings.ToUpper(cmd.Mechanism)
	allowed := false
	for _, m := range s.Params.AuthMechanisms {
		if strings.EqualFold(m, mechanism) {
			allowed = true
			break
		}
	}
	if !allowed {
		return s.requestResult(s.reply("554 5.7.8 Authentication mechanism not supported.\r\n"))
	}

	switch mechanism {
	case "PLAIN":
		if cmd.InitialResponse != "" {
			return s.finishAuthPlain(ctx, cmd.InitialResponse)
		}
		s.authMechanism = mechanism
		return State{Kind: StateSasl, Line: &receiver.Line{MaxLen: s.Params.MaxLineLength}, SaslMechanism: mechanism},
			ResultContinue, s.reply("334 \r\n")
	case "LOGIN":
		s.authMechanism = mechanism
		s.authStep = 0
		return State{Kind: StateSasl, Line: &receiver.Line{MaxLen: s.Params.MaxLineLength}, SaslMechanism: mechanism},
			ResultContinue, s.reply("334 VXNlcm5hbWU6\r\n")
	default:
		return s.requestResult(s.reply("504 5.7.4 Unrecognized authentication type.\r\n"))
	}
}

// handleSaslContinuation processes one continuation line of an in-progress
// AUTH exchange.
func (s *Session) handleSaslContinuation(ctx context.Context, mechanism string, line string) (State, error) {
	if line == "*" {
		state, _, err := s.requestResult(s.reply("501 5.0.0 Authentication cancelled.\r\n"))
		return state, err
	}
	switch mechanism {
	case "PLAIN":
		state, _, err := s.finishAuthPlain(ctx, line)
		return state, err
	case "LOGIN":
		if s.authStep == 0 {
			decoded, decErr := base64.StdEncoding.DecodeString(line)
			if decErr != nil {
				state, _, err := s.requestResult(s.reply("501 5.5.2 Syntax error, expected: base64\r\n"))
				return state, err
			}
			s.authPendingUsername = string(decoded)
			s.authStep = 1
			if err := s.reply("334 UGFzc3dvcmQ6\r\n"); err != nil {
				return newRequestState(s.Params.MaxLineLength), err
			}
			return State{Kind: StateSasl, Line: &receiver.Line{MaxLen: s.Params.MaxLineLength}, SaslMechanism: mechanism}, nil
		}
		password, decErr := base64.StdEncoding.DecodeString(line)
		if decErr != nil {
			state, _, err := s.requestResult(s.reply("501 5.5.2 Syntax error, expected: base64\r\n"))
			return state, err
		}
		state, _, err := s.completeAuth(ctx, "LOGIN", s.authPendingUsername, password)
		return state, err
	default:
		state, _, err := s.requestResult(s.reply("500 5.5.1 Invalid command.\r\n"))
		return state, err
	}
}

// finishAuthPlain decodes an AUTH PLAIN response of the form
// "authzid\x00authcid\x00password" and verifies it.
func (s *Session) finishAuthPlain(ctx context.Context, encoded string) (State, Result, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return s.requestResult(s.reply("501 5.5.2 Syntax error, expected: base64\r\n"))
	}
	parts := strings.SplitN(string(raw), "\x00", 3)
	if len(parts) != 3 {
		return s.requestResult(s.reply("501 5.5.2 Syntax error, expected: base64\r\n"))
	}
	username, password := parts[1], parts[2]
	return s.completeAuth(ctx, "PLAIN", username, []byte(password))
}

// completeAuth verifies credentials against the configured back-end and, on
// success, records the authenticated identity on the envelope.
func (s *Session) completeAuth(ctx context.Context, mechanism, username string, credential []byte) (State, Result, error) {
	ok, err := s.Credentials.Verify(ctx, mechanism, username, credential)
	if err != nil || !ok {
		return s.requestResult(s.reply("535 5.7.8 Authentication credentials invalid.\r\n"))
	}
	s.Envelope.AuthenticatedAs = username
	return s.requestResult(s.reply("235 2.7.0 Authentication successful.\r\n"))
}
