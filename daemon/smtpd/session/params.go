package session

import (
	"time"

	"github.com/relaydog/mtasession/daemon/smtpd/collab"
)

// Params are the immutable, per-connection configuration values carried for
// the lifetime of a session. They never change after construction.
type Params struct {
	ListenerID string
	Protocol   collab.Protocol

	MaxRecipients  int
	MaxMessageSize int64
	MaxLineLength  int

	DSNEnabled bool

	// RcptErrorsMax is the error budget (invariant 4): the rejected RCPT that
	// brings the session's RcptErrors counter to this value also disconnects
	// the client.
	RcptErrorsMax int
	// RcptErrorsWait is the tarpit delay applied before every rejected-RCPT
	// reply.
	RcptErrorsWait time.Duration

	AuthMechanisms []string
	AuthDirectory  bool // true when an authentication back-end is configured

	TLSAvailable bool

	DirectoryExpr string // expression resolving the directory to consult
	RewriteExpr   string // expression resolving an address rewrite, if any
	SieveExpr     string // expression resolving the RCPT-stage script name
	RelayExpr     string // expression resolving the relay-permission predicate
}
