package session

import (
	"strconv"
	"strings"

	"github.com/relaydog/mtasession/daemon/smtpd/collab"
)

// Resolve implements collab.VariableResolver (§4.F), exposing session state
// as named variables to the policy expression evaluator. Unknown or
// not-yet-applicable variables resolve to the empty string.
func (s *Session) Resolve(v collab.Variable) string {
	switch v {
	case collab.VarRecipient:
		if n := len(s.Envelope.RcptTo); n > 0 {
			return s.Envelope.RcptTo[n-1].Lowercased
		}
		return ""
	case collab.VarRecipientDomain:
		if n := len(s.Envelope.RcptTo); n > 0 {
			return s.Envelope.RcptTo[n-1].Domain
		}
		return ""
	case collab.VarRecipients:
		addrs := make([]string, len(s.Envelope.RcptTo))
		for i, r := range s.Envelope.RcptTo {
			addrs[i] = r.Lowercased
		}
		return strings.Join(addrs, ",")
	case collab.VarSender:
		return strings.ToLower(s.Envelope.MailFrom)
	case collab.VarSenderDomain:
		lower := strings.ToLower(s.Envelope.MailFrom)
		if at := strings.LastIndexByte(lower, '@'); at != -1 {
			return lower[at+1:]
		}
		return ""
	case collab.VarHeloDomain:
		return s.Envelope.HeloDomain
	case collab.VarAuthenticatedAs:
		return s.Envelope.AuthenticatedAs
	case collab.VarListener:
		return s.Params.ListenerID
	case collab.VarRemoteIP:
		return s.RemoteIP
	case collab.VarRemotePort:
		return strconv.Itoa(s.RemotePort)
	case collab.VarLocalIP:
		return s.LocalIP
	case collab.VarLocalPort:
		return strconv.Itoa(s.LocalPort)
	case collab.VarTLS:
		if s.InTLS {
			return "true"
		}
		return "false"
	case collab.VarPriority:
		return s.Envelope.Priority
	case collab.VarProtocol:
		return s.Params.Protocol.String()
	default:
		return ""
	}
}
