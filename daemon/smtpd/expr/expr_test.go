package expr

import (
	"context"
	"testing"

	"github.com/relaydog/mtasession/daemon/smtpd/collab"
)

type fixedVars map[collab.Variable]string

func (f fixedVars) Resolve(v collab.Variable) string { return f[v] }

func TestTableEvalIfStringFirstMatchWins(t *testing.T) {
	table := &Table{StringRules: []StringRule{
		{RuleName: "directory", Condition: Condition{Variable: collab.VarRecipientDomain, Substring: "internal.x"}, Value: "internal-dir"},
		{RuleName: "directory", Condition: Condition{}, Value: "default-dir"},
	}}
	vars := fixedVars{collab.VarRecipientDomain: "internal.x"}
	value, ok := table.EvalIfString(context.Background(), "directory", vars, "sess-1")
	if !ok || value != "internal-dir" {
		t.Fatalf("expected internal-dir, got %q %v", value, ok)
	}

	vars2 := fixedVars{collab.VarRecipientDomain: "external.com"}
	value, ok = table.EvalIfString(context.Background(), "directory", vars2, "sess-1")
	if !ok || value != "default-dir" {
		t.Fatalf("expected fall-through to default-dir, got %q %v", value, ok)
	}
}

func TestTableEvalIfStringNoRuleMatchesReturnsNotOK(t *testing.T) {
	table := &Table{}
	_, ok := table.EvalIfString(context.Background(), "directory", fixedVars{}, "sess-1")
	if ok {
		t.Fatal("expected ok=false with no rules configured")
	}
}

func TestTableEvalIfBool(t *testing.T) {
	table := &Table{BoolRules: []BoolRule{
		{RuleName: "relay", Condition: Condition{Variable: collab.VarSenderDomain, Substring: "trusted.com"}, Value: true},
	}}
	vars := fixedVars{collab.VarSenderDomain: "trusted.com"}
	value, ok := table.EvalIfBool(context.Background(), "relay", vars, "sess-1")
	if !ok || !value {
		t.Fatalf("expected relay allowed, got %v %v", value, ok)
	}
	vars2 := fixedVars{collab.VarSenderDomain: "other.com"}
	_, ok = table.EvalIfBool(context.Background(), "relay", vars2, "sess-1")
	if ok {
		t.Fatal("expected no matching rule for other.com")
	}
}
