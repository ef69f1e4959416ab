package util

import (
	"path/filepath"
	"testing"
)

func TestSecureVaultReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.vault")
	vault, err := NewSecureVault([]byte("hunter2"), path)
	if err != nil {
		t.Fatal(err)
	}
	if err := vault.NewEntry([]byte("first")); err != nil {
		t.Fatal(err)
	}
	if err := vault.NewEntry([]byte("second")); err != nil {
		t.Fatal(err)
	}
	secret := vault.SecretKey
	vault.Close()

	reopened, err := OpenVaultFromPassword([]byte("hunter2"), path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if reopened.SecretKey != secret {
		t.Error("vault secret changed across reopen")
	}
	if len(reopened.Entries) != 2 || string(reopened.Entries[1]) != "second" {
		t.Errorf("unexpected entries %q", reopened.Entries)
	}

	if _, err := OpenVaultFromPassword([]byte("hunter3"), path); err == nil {
		t.Error("vault opened with the wrong password")
	}
}

func TestOpenOrCreateVault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "new.vault")
	vault, err := OpenOrCreateVault([]byte("pw"), path)
	if err != nil {
		t.Fatal(err)
	}
	vault.NewEntry([]byte("x"))
	vault.Close()
	again, err := OpenOrCreateVault([]byte("pw"), path)
	if err != nil {
		t.Fatal(err)
	}
	defer again.Close()
	if len(again.Entries) != 1 {
		t.Errorf("expected one entry, got %d", len(again.Entries))
	}
}
