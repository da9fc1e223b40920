package ratelimit

import (
	"testing"

	"github.com/relaydog/mtasession/lalog"
)

func TestPerSessionAllowsUpToLimit(t *testing.T) {
	rl := New(60, 3, lalog.Logger{})
	for i := 0; i < 3; i++ {
		if !rl.IsAllowed("session-a") {
			t.Fatalf("hit %d should have been allowed", i)
		}
	}
	if rl.IsAllowed("session-a") {
		t.Fatal("4th hit should have exceeded the limit")
	}
}

func TestPerSessionTracksActorsIndependently(t *testing.T) {
	rl := New(60, 1, lalog.Logger{})
	if !rl.IsAllowed("session-a") {
		t.Fatal("first hit for session-a should be allowed")
	}
	if !rl.IsAllowed("session-b") {
		t.Fatal("session-b has its own budget and should be allowed")
	}
	if rl.IsAllowed("session-a") {
		t.Fatal("session-a already spent its only hit")
	}
}
