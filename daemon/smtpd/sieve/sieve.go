// Package sieve implements collab.SieveRuntime with an ordered rule table,
// the concrete stand-in for the genuinely out-of-scope Sieve language
// (§6). Each rule is evaluated in order against the stage's parameter
// bundle; the first matching rule decides the outcome, the same
// first-match-wins shape the teacher's protocolCommands table uses for verb
// lookup (daemon/smtpd/smtp/protocol.go), generalized here from a static
// verb table to a dynamically configured rule list.
package sieve

import (
	"context"
	"strings"

	"github.com/relaydog/mtasession/daemon/smtpd/collab"
)

// MatchField names which field of the stage parameter bundle a Rule's
// Contains/Equals test is evaluated against.
type MatchField string

const (
	FieldRecipient MatchField = "recipient"
	FieldSender    MatchField = "sender"
)

// Rule is one row of the ordered table: if Field's value contains Substring
// (case-insensitively), the rule fires and produces either a reject message
// or a set of envelope modifications to apply on accept.
type Rule struct {
	Script    string // the script name this rule belongs to, matched against RuleRuntime.Run's script argument
	Field     MatchField
	Substring string

	Reject        string            // non-empty: fire SieveReject with this verbatim message
	Modifications []collab.EnvelopeMod // otherwise: fire SieveAccept with these modifications
}

// RuleRuntime evaluates a script name against its ordered rule table.
// Scripts with no matching rule, or no rules at all, resolve to SievePass -
// the recipient policy pipeline (§4.E) treats Pass as "no opinion".
type RuleRuntime struct {
	Rules []Rule
}

// Run implements collab.SieveRuntime.
func (r *RuleRuntime) Run(ctx context.Context, script string, stage string, params map[string]string) (collab.SieveRuntimeResult, error) {
	for _, rule := range r.Rules {
		if rule.Script != script {
			continue
		}
		value := params[string(rule.Field)]
		if !strings.Contains(strings.ToLower(value), strings.ToLower(rule.Substring)) {
			continue
		}
		if rule.Reject != "" {
			return collab.SieveRuntimeResult{Kind: collab.SieveReject, Message: rule.Reject}, nil
		}
		return collab.SieveRuntimeResult{Kind: collab.SieveAccept, Modifications: rule.Modifications}, nil
	}
	return collab.SieveRuntimeResult{Kind: collab.SievePass}, nil
}

var _ collab.SieveRuntime = (*RuleRuntime)(nil)
