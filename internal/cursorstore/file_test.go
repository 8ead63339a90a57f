package cursorstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/myyrakle/clockpipe/internal/types"
)

func TestLoadReturnsFirstRunWhenFileMissing(t *testing.T) {
	dir := t.TempDir()
	f := NewFile(filepath.Join(dir, "cursor.json"))

	token, err := f.Load(types.SourceRef{Schema: "public", Name: "users"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(token) != 0 {
		t.Fatalf("expected FirstRun sentinel, got %v", token)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	f := NewFile(filepath.Join(dir, "cursor.json"))
	ref := types.SourceRef{Schema: "public", Name: "users"}

	if err := f.Save(ref, types.OpaqueBytes("0/1A2B3C")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	token, err := f.Load(ref)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(token) != "0/1A2B3C" {
		t.Fatalf("expected round-tripped token, got %q", token)
	}
}

func TestSavePreservesOtherRefs(t *testing.T) {
	dir := t.TempDir()
	f := NewFile(filepath.Join(dir, "cursor.json"))
	users := types.SourceRef{Schema: "public", Name: "users"}
	orders := types.SourceRef{Schema: "public", Name: "orders"}

	if err := f.Save(users, types.OpaqueBytes("token-a")); err != nil {
		t.Fatalf("Save users: %v", err)
	}
	if err := f.Save(orders, types.OpaqueBytes("token-b")); err != nil {
		t.Fatalf("Save orders: %v", err)
	}

	usersToken, err := f.Load(users)
	if err != nil {
		t.Fatalf("Load users: %v", err)
	}
	if string(usersToken) != "token-a" {
		t.Fatalf("expected users token preserved, got %q", usersToken)
	}
}

func TestLoadReturnsErrCorruptForUnparsableFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cursor.json")
	if err := os.WriteFile(path, []byte("not json"), 0o600); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}

	f := NewFile(path)
	_, err := f.Load(types.SourceRef{Schema: "public", Name: "users"})
	if err == nil {
		t.Fatal("expected an error for a corrupt cursor file")
	}
}

func TestSaveLeavesNoTempFilesBehind(t *testing.T) {
	dir := t.TempDir()
	f := NewFile(filepath.Join(dir, "cursor.json"))
	if err := f.Save(types.SourceRef{Schema: "public", Name: "users"}, types.OpaqueBytes("x")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "cursor.json" {
		t.Fatalf("expected only cursor.json to remain, got %v", entries)
	}
}
