package whoisproxy

import (
	"os"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
)

// Context is the live routing snapshot: a ServerRegistry plus the three
// longest-match indexes built from it. A Context is never mutated in
// place; Watcher (reload.go) builds a fresh one and swaps it in.
type Context struct {
	registry *ServerRegistry
	ipv4     *PrefixTrie[IPv4Net]
	ipv6     *PrefixTrie[IPv6Net]
	asn      *AsnIndex
}

// Registry returns the server registry backing this Context.
func (c *Context) Registry() *ServerRegistry {
	return c.registry
}

// compiledRow is the on-disk shape of one line in a compiled table:
// "<resource>,<server-hostname>", read and written with gocsv so the
// format stays a single source of truth shared with pipeline.go.
type compiledRow struct {
	Resource string `csv:"resource"`
	Hostname string `csv:"hostname"`
}

// readCompiledCSV reads a compiled table of "<resource>,<server-hostname>"
// lines, headerless (gocsv.UnmarshalWithoutHeaders).
func readCompiledCSV(path string) ([]compiledRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(ErrMissingDataFile, "%s: %v", path, err)
	}
	defer f.Close()

	var rows []compiledRow
	if err := gocsv.UnmarshalWithoutHeaders(f, &rows); err != nil {
		return nil, errors.Wrapf(err, "parsing compiled table %s", path)
	}
	return rows, nil
}

// FromCompiled reads the three compiled CSVs (ipv4, ipv6, asn) and builds
// a Context: registry first, by sorted union of every hostname across the
// three files, then each index mapping resource -> server-id.
func FromCompiled(ipv4Path, ipv6Path, asnPath string) (*Context, error) {
	ipv4Rows, err := readCompiledCSV(ipv4Path)
	if err != nil {
		return nil, errors.Wrap(err, "loading ipv4 table")
	}
	ipv6Rows, err := readCompiledCSV(ipv6Path)
	if err != nil {
		return nil, errors.Wrap(err, "loading ipv6 table")
	}
	asnRows, err := readCompiledCSV(asnPath)
	if err != nil {
		return nil, errors.Wrap(err, "loading asn table")
	}

	hostnames := make([]string, 0, len(ipv4Rows)+len(ipv6Rows)+len(asnRows))
	for _, r := range ipv4Rows {
		hostnames = append(hostnames, r.Hostname)
	}
	for _, r := range ipv6Rows {
		hostnames = append(hostnames, r.Hostname)
	}
	for _, r := range asnRows {
		hostnames = append(hostnames, r.Hostname)
	}
	reg := NewServerRegistry(hostnames...)

	ipv4Entries := make([]PrefixEntry[IPv4Net], 0, len(ipv4Rows))
	for _, r := range ipv4Rows {
		n, err := ParseIPv4Net(r.Resource)
		if err != nil {
			Log.WithField("row", r.Resource).WithError(errors.Wrap(ErrMalformedRow, err.Error())).Warn("skipping malformed ipv4 row")
			continue
		}
		id, _ := reg.IDOf(r.Hostname)
		ipv4Entries = append(ipv4Entries, PrefixEntry[IPv4Net]{Key: n, ServerID: id})
	}

	ipv6Entries := make([]PrefixEntry[IPv6Net], 0, len(ipv6Rows))
	for _, r := range ipv6Rows {
		n, err := ParseIPv6Net(r.Resource)
		if err != nil {
			Log.WithField("row", r.Resource).WithError(errors.Wrap(ErrMalformedRow, err.Error())).Warn("skipping malformed ipv6 row")
			continue
		}
		id, _ := reg.IDOf(r.Hostname)
		ipv6Entries = append(ipv6Entries, PrefixEntry[IPv6Net]{Key: n, ServerID: id})
	}

	asnEntries := make([]AsnEntry, 0, len(asnRows))
	for _, r := range asnRows {
		rng, err := parseCompiledAsnRange(r.Resource)
		if err != nil {
			Log.WithField("row", r.Resource).WithError(errors.Wrap(ErrMalformedRow, err.Error())).Warn("skipping malformed asn row")
			continue
		}
		id, _ := reg.IDOf(r.Hostname)
		asnEntries = append(asnEntries, AsnEntry{Key: rng, ServerID: id})
	}

	return &Context{
		registry: reg,
		ipv4:     BuildPrefixTrie(ipv4Entries),
		ipv6:     BuildPrefixTrie(ipv6Entries),
		asn:      BuildAsnIndex(asnEntries),
	}, nil
}

// parseCompiledAsnRange parses the compiled ASN format "<start>-<end
// inclusive>", e.g. "300-599" for [300,600).
func parseCompiledAsnRange(s string) (AsnRange, error) {
	startStr, endStr, ok := strings.Cut(s, "-")
	if !ok {
		return AsnRange{}, errors.Errorf("malformed asn range %q", s)
	}
	start, err := strconv.ParseUint(startStr, 10, 32)
	if err != nil {
		return AsnRange{}, errors.Wrapf(err, "invalid asn range start in %q", s)
	}
	endInclusive, err := strconv.ParseUint(endStr, 10, 32)
	if err != nil {
		return AsnRange{}, errors.Wrapf(err, "invalid asn range end in %q", s)
	}
	return AsnRange{Start: uint32(start), End: endInclusive + 1}, nil
}

// Lookup parses a free-form query string, trying each resource form in
// order and short-circuiting on the first one that parses successfully:
// bare IPv4 address, IPv4 CIDR, bare IPv6 address, IPv6 CIDR, AS<n>,
// AS<n>-AS<m>. An unparseable string, or a parse that finds no
// containing entry, both yield ("", false); an entry that maps to the
// empty hostname (an "unassigned/reserved" record) also yields
// ("", false) since it names no real upstream server.
func (c *Context) Lookup(query string) (string, bool) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", false
	}

	if n, err := ParseIPv4Net(query); err == nil {
		return c.resolve(c.ipv4.LongestMatchValue(n))
	}
	if n, err := ParseIPv6Net(query); err == nil {
		return c.resolve(c.ipv6.LongestMatchValue(n))
	}
	if r, err := ParseAsnRange(query); err == nil {
		return c.resolve(c.asn.LongestMatchValue(r))
	}
	return "", false
}

func (c *Context) resolve(id int, ok bool) (string, bool) {
	if !ok {
		return "", false
	}
	host, ok := c.registry.NameOf(id)
	if !ok || host == "" {
		return "", false
	}
	return host, true
}
