package whoisproxy

import "sort"

// ServerRegistry interns WHOIS server hostnames to small integer ids
// shared by all three longest-match indexes. Ids are the hostname's
// zero-based position in the lexicographically sorted sequence of
// distinct hostnames seen at build time; they are stable for the
// lifetime of one registry but a rebuilt registry may renumber.
//
// The empty hostname "" is a legal entry, meaning "unassigned/reserved".
type ServerRegistry struct {
	names []string       // id -> hostname, sorted
	ids   map[string]int // hostname -> id
}

// NewServerRegistry builds a registry from every distinct hostname across
// however many source lists the caller collects (the three compiled CSVs,
// or the IANA/RIR source files during compilation).
func NewServerRegistry(hostnames ...string) *ServerRegistry {
	set := make(map[string]struct{}, len(hostnames))
	for _, h := range hostnames {
		set[h] = struct{}{}
	}
	names := make([]string, 0, len(set))
	for h := range set {
		names = append(names, h)
	}
	sort.Strings(names)

	ids := make(map[string]int, len(names))
	for i, h := range names {
		ids[h] = i
	}
	return &ServerRegistry{names: names, ids: ids}
}

// IDOf returns the id for a hostname and whether it was present at build
// time.
func (r *ServerRegistry) IDOf(hostname string) (int, bool) {
	id, ok := r.ids[hostname]
	return id, ok
}

// NameOf returns the hostname for an id.
func (r *ServerRegistry) NameOf(id int) (string, bool) {
	if id < 0 || id >= len(r.names) {
		return "", false
	}
	return r.names[id], true
}

// Len returns the number of distinct hostnames interned.
func (r *ServerRegistry) Len() int {
	return len(r.names)
}
