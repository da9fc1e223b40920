package sieve

import (
	"context"
	"testing"

	"github.com/relaydog/mtasession/daemon/smtpd/collab"
)

func TestRuleRuntimeRejectsOnMatch(t *testing.T) {
	rt := &RuleRuntime{Rules: []Rule{
		{Script: "rcpt-policy", Field: FieldRecipient, Substring: "blocked@", Reject: "550 5.7.1 blocked\r\n"},
	}}
	result, err := rt.Run(context.Background(), "rcpt-policy", "rcpt", map[string]string{"recipient": "blocked@x.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != collab.SieveReject || result.Message != "550 5.7.1 blocked\r\n" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestRuleRuntimeAcceptsWithModifications(t *testing.T) {
	rt := &RuleRuntime{Rules: []Rule{
		{
			Script:        "rewrite-policy",
			Field:         FieldRecipient,
			Substring:     "alias@",
			Modifications: []collab.EnvelopeMod{{Name: "RECIPIENT", Value: "real@x.com"}},
		},
	}}
	result, err := rt.Run(context.Background(), "rewrite-policy", "rcpt", map[string]string{"recipient": "alias@x.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != collab.SieveAccept || len(result.Modifications) != 1 || result.Modifications[0].Value != "real@x.com" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestRuleRuntimePassesWithNoMatch(t *testing.T) {
	rt := &RuleRuntime{Rules: []Rule{
		{Script: "rcpt-policy", Field: FieldRecipient, Substring: "blocked@", Reject: "550 blocked\r\n"},
	}}
	result, err := rt.Run(context.Background(), "rcpt-policy", "rcpt", map[string]string{"recipient": "ok@x.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != collab.SievePass {
		t.Fatalf("expected SievePass, got %+v", result)
	}
}

func TestRuleRuntimeUnknownScriptPasses(t *testing.T) {
	rt := &RuleRuntime{Rules: []Rule{
		{Script: "rcpt-policy", Field: FieldRecipient, Substring: "", Reject: "550 blocked\r\n"},
	}}
	result, err := rt.Run(context.Background(), "other-script", "rcpt", map[string]string{"recipient": "ok@x.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != collab.SievePass {
		t.Fatalf("expected SievePass for a script with no matching rules, got %+v", result)
	}
}
