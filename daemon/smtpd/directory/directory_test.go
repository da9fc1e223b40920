package directory

import (
	"context"
	"testing"
)

func TestConfiguredDirectoryLooksUpCaseInsensitively(t *testing.T) {
	d := NewConfiguredDirectory([]string{"Example.com"}, []string{"User@Example.com"})
	local, err := d.IsLocalDomain(context.Background(), "example.com")
	if err != nil || !local {
		t.Fatalf("expected example.com to be local, got %v %v", local, err)
	}
	if local, _ := d.IsLocalDomain(context.Background(), "other.com"); local {
		t.Fatal("other.com must not be local")
	}
	exists, err := d.IsLocalAddress(context.Background(), "user@example.com")
	if err != nil || !exists {
		t.Fatalf("expected user@example.com to exist, got %v %v", exists, err)
	}
	if exists, _ := d.IsLocalAddress(context.Background(), "nobody@example.com"); exists {
		t.Fatal("nobody@example.com must not exist")
	}
}

func TestConfiguredDirectoryReload(t *testing.T) {
	d := NewConfiguredDirectory([]string{"old.com"}, []string{"a@old.com"})
	d.Reload([]string{"new.com"}, []string{"b@new.com"})
	if local, _ := d.IsLocalDomain(context.Background(), "old.com"); local {
		t.Fatal("old.com must no longer be local after reload")
	}
	if local, _ := d.IsLocalDomain(context.Background(), "new.com"); !local {
		t.Fatal("new.com must be local after reload")
	}
	if exists, _ := d.IsLocalAddress(context.Background(), "b@new.com"); !exists {
		t.Fatal("b@new.com must exist after reload")
	}
}
