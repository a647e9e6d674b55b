package groupmap

import (
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"testing"
)

func currentUsername() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	return u.Username, nil
}

func currentUID() (uint32, error) {
	u, err := user.Current()
	if err != nil {
		return 0, err
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(uid), nil
}

type fakeEnumerator struct {
	snapshot map[uint32]map[uint32]struct{}
	err      error
}

func (f fakeEnumerator) Enumerate() (map[uint32]map[uint32]struct{}, error) {
	return f.snapshot, f.err
}

func TestMap_HasGID(t *testing.T) {
	m, err := New(fakeEnumerator{snapshot: map[uint32]map[uint32]struct{}{
		1000: {100: {}, 200: {}},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if !m.HasGID(1000, 100) {
		t.Fatal("expected uid 1000 to carry gid 100")
	}
	if m.HasGID(1000, 999) {
		t.Fatal("did not expect uid 1000 to carry gid 999")
	}
	if m.HasGID(9999, 100) {
		t.Fatal("did not expect unknown uid to carry any gid")
	}
}

func TestMap_RebuildSwapsAtomically(t *testing.T) {
	enum := &swappableEnumerator{snapshot: map[uint32]map[uint32]struct{}{1: {10: {}}}}
	m, err := New(enum)
	if err != nil {
		t.Fatal(err)
	}
	if !m.HasGID(1, 10) {
		t.Fatal("expected initial snapshot to be in effect")
	}

	enum.snapshot = map[uint32]map[uint32]struct{}{1: {20: {}}}
	if err := m.Rebuild(); err != nil {
		t.Fatal(err)
	}
	if m.HasGID(1, 10) {
		t.Fatal("expected old gid to no longer be present after rebuild")
	}
	if !m.HasGID(1, 20) {
		t.Fatal("expected new gid to be present after rebuild")
	}
}

type swappableEnumerator struct {
	snapshot map[uint32]map[uint32]struct{}
}

func (s *swappableEnumerator) Enumerate() (map[uint32]map[uint32]struct{}, error) {
	return s.snapshot, nil
}

func TestOSEnumerator_ParsesGroupFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "group")
	self, err := currentUsername()
	if err != nil {
		t.Skip("cannot determine current username in this environment")
	}
	content := "wheel:x:10:" + self + "\n" + "# a comment\n" + "\n" + "malformed-line\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	snap, err := OSEnumerator{GroupFile: path}.Enumerate()
	if err != nil {
		t.Fatal(err)
	}
	uid, err := currentUID()
	if err != nil {
		t.Skip("cannot determine current uid in this environment")
	}
	if _, ok := snap[uid][10]; !ok {
		t.Fatalf("expected uid %d to carry gid 10, got %+v", uid, snap)
	}
}
