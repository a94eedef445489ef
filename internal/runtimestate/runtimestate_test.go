package runtimestate_test

import (
	"testing"

	"github.com/haldirsson/socks5d/internal/runtimestate"
)

func TestRootAdminBootstrapped(t *testing.T) {
	rt := runtimestate.New([16]byte{1, 2, 3})
	names := rt.AdminNames()
	if len(names) != 1 || names[0] != "root" {
		t.Fatalf("AdminNames() = %v, want [root]", names)
	}
}

func TestAddDuplicateUserRejected(t *testing.T) {
	rt := runtimestate.New([16]byte{})
	if err := rt.AddUser("bob", "hunter2"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if err := rt.AddUser("bob", "other"); err != runtimestate.ErrDuplicateUser {
		t.Fatalf("AddUser duplicate = %v, want ErrDuplicateUser", err)
	}
}

func TestUserTableCapsAtMax(t *testing.T) {
	rt := runtimestate.New([16]byte{})
	for i := 0; i < runtimestate.MaxUsers; i++ {
		if err := rt.AddUser(string(rune('a'+i)), "p"); err != nil {
			t.Fatalf("AddUser #%d: %v", i, err)
		}
	}
	if err := rt.AddUser("overflow", "p"); err != runtimestate.ErrTableFull {
		t.Fatalf("AddUser at cap = %v, want ErrTableFull", err)
	}
}

func TestDeleteRootAdminRejected(t *testing.T) {
	rt := runtimestate.New([16]byte{})
	if err := rt.DeleteAdmin("root"); err != runtimestate.ErrRootImmutable {
		t.Fatalf("DeleteAdmin(root) = %v, want ErrRootImmutable", err)
	}
}

func TestLookupAdminByToken(t *testing.T) {
	token := [16]byte{9, 9, 9}
	rt := runtimestate.New(token)
	admin, ok := rt.LookupAdminByToken(token)
	if !ok || admin.Username != "root" {
		t.Fatalf("LookupAdminByToken = %v,%v want root,true", admin, ok)
	}
	if _, ok := rt.LookupAdminByToken([16]byte{1}); ok {
		t.Fatal("LookupAdminByToken matched a wrong token")
	}
}

func TestToggleDisectorIdempotent(t *testing.T) {
	rt := runtimestate.New([16]byte{})
	rt.SetDisectorEnabled(true)
	rt.SetDisectorEnabled(true)
	if !rt.DisectorEnabled() {
		t.Fatal("DisectorEnabled() = false after enabling twice")
	}
}

func TestCounters(t *testing.T) {
	rt := runtimestate.New([16]byte{})
	rt.IncHistoricConnections()
	rt.IncCurrentConnections()
	rt.AddBytesTransferred(42)
	rt.DecCurrentConnections()

	if rt.HistoricConnections() != 1 {
		t.Fatalf("HistoricConnections() = %d, want 1", rt.HistoricConnections())
	}
	if rt.CurrentConnections() != 0 {
		t.Fatalf("CurrentConnections() = %d, want 0 (net zero across lifecycle)", rt.CurrentConnections())
	}
	if rt.BytesTransferred() != 42 {
		t.Fatalf("BytesTransferred() = %d, want 42", rt.BytesTransferred())
	}
}
