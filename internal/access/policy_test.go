package access

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestPolicyMergesStaticAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allowed.txt")
	content := "# operators\nU2\n\nU3, U4  # on call\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write allow-list: %v", err)
	}
	policy, err := NewPolicy([]string{"U1", " "}, path, nil)
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}
	if got := policy.Identities(); !reflect.DeepEqual(got, []string{"U1", "U2", "U3", "U4"}) {
		t.Fatalf("unexpected identities: %v", got)
	}
	if !policy.Allowed("U3") || policy.Allowed("U9") || policy.Allowed("") {
		t.Fatal("unexpected allow decision")
	}
}

func TestPolicyReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "allowed.txt")
	if err := os.WriteFile(path, []byte("U1\n"), 0o600); err != nil {
		t.Fatalf("write allow-list: %v", err)
	}
	policy, err := NewPolicy(nil, path, nil)
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}
	if err := os.WriteFile(path, []byte("U2\n"), 0o600); err != nil {
		t.Fatalf("rewrite allow-list: %v", err)
	}
	if err := policy.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if policy.Allowed("U1") || !policy.Allowed("U2") {
		t.Fatalf("reload not applied: %v", policy.Identities())
	}

	if err := os.WriteFile(path, []byte("# nobody\n"), 0o600); err != nil {
		t.Fatalf("empty allow-list: %v", err)
	}
	if err := policy.Reload(); !errors.Is(err, ErrNoIdentities) {
		t.Fatalf("expected no identities error, got %v", err)
	}
	if !policy.Allowed("U2") {
		t.Fatal("failed reload must keep the previous set")
	}
}

func TestPolicyRequiresIdentities(t *testing.T) {
	if _, err := NewPolicy(nil, "", nil); !errors.Is(err, ErrNoIdentities) {
		t.Fatalf("expected no identities error, got %v", err)
	}
	if _, err := NewPolicy(nil, filepath.Join(t.TempDir(), "missing.txt"), nil); err == nil {
		t.Fatal("expected missing file error")
	}
}
