// Package groupmap implements the uid → {supplementary gids} lookup
// the decode engine uses to answer authorization checks (spec.md
// §4.H). The map is rebuilt by an injected Enumerator and swapped in
// atomically so readers never take a lock.
package groupmap

import "sync/atomic"

// Enumerator produces a snapshot of the host's group database as
// uid → set of gids. Its implementation (actual /etc/group or
// directory-service enumeration) is explicitly out of scope for this
// core (spec.md §1); only the consuming map is specified here.
type Enumerator interface {
	Enumerate() (map[uint32]map[uint32]struct{}, error)
}

// Map is the uid → {gid} lookup table. The zero value is not usable;
// construct with New.
type Map struct {
	snapshot   atomic.Pointer[map[uint32]map[uint32]struct{}]
	enumerator Enumerator
}

// New builds a Map from the enumerator's first snapshot.
func New(enumerator Enumerator) (*Map, error) {
	m := &Map{enumerator: enumerator}
	if err := m.Rebuild(); err != nil {
		return nil, err
	}
	return m, nil
}

// Rebuild fetches a fresh snapshot from the enumerator and atomically
// swaps it in (spec.md §4.H: "rebuilds are performed on a background
// worker and swapped in atomically"; §5: "held behind a pointer swap;
// readers dereference a single pointer once per lookup, no locking on
// the read path").
func (m *Map) Rebuild() error {
	snap, err := m.enumerator.Enumerate()
	if err != nil {
		return err
	}
	if snap == nil {
		snap = map[uint32]map[uint32]struct{}{}
	}
	m.snapshot.Store(&snap)
	return nil
}

// HasGID reports whether uid belongs to gid, either as its effective
// gid (the caller is expected to have already checked that separately)
// or as one of its supplementary gids per the current snapshot.
func (m *Map) HasGID(uid, gid uint32) bool {
	snap := m.snapshot.Load()
	if snap == nil {
		return false
	}
	gids, ok := (*snap)[uid]
	if !ok {
		return false
	}
	_, ok = gids[gid]
	return ok
}

// Gids returns the supplementary gid set recorded for uid, or nil if
// the uid is unknown to the current snapshot.
func (m *Map) Gids(uid uint32) map[uint32]struct{} {
	snap := m.snapshot.Load()
	if snap == nil {
		return nil
	}
	return (*snap)[uid]
}
