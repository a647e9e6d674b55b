package groupmap

import (
	"bufio"
	"os"
	"os/user"
	"strconv"
	"strings"
)

// OSEnumerator builds a snapshot by parsing the host's group database
// file directly, in the same line-oriented bufio.Scanner style the
// teacher's file-based store uses to walk its own on-disk records.
// Enumerating the full group database is explicitly out of scope for
// this core (spec.md §1); this implementation is the enumerator the
// daemon builds its group map from when Options.GroupFile is set (with
// no GroupFile the daemon has no group map at all).
type OSEnumerator struct {
	// GroupFile is the path to the colon-delimited group database
	// (its canonical location is /etc/group).
	GroupFile string
}

// Enumerate implements Enumerator by inverting gid → members into
// uid → {gid}. A member name that does not resolve to a known user is
// skipped rather than failing the whole rebuild.
func (e OSEnumerator) Enumerate() (map[uint32]map[uint32]struct{}, error) {
	f, err := os.Open(e.GroupFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	result := make(map[uint32]map[uint32]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 4 {
			continue
		}
		gid64, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			continue
		}
		gid := uint32(gid64)

		members := strings.Split(fields[3], ",")
		for _, name := range members {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			u, err := user.Lookup(name)
			if err != nil {
				continue
			}
			uid64, err := strconv.ParseUint(u.Uid, 10, 32)
			if err != nil {
				continue
			}
			uid := uint32(uid64)
			if result[uid] == nil {
				result[uid] = make(map[uint32]struct{})
			}
			result[uid][gid] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
