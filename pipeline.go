package whoisproxy

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"math/bits"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// hostIDs interns hostnames to small ids for the lifetime of one pipeline
// run. Unlike ServerRegistry (registry.go), assignment is insertion-order,
// not sorted - these ids never leave the pipeline, since the compiled
// CSVs it writes carry hostnames directly, and the runtime ServerRegistry
// is rebuilt from those hostnames when a Context loads the compiled
// output (see FromCompiled in context.go).
type hostIDs struct {
	ids   map[string]int
	names []string
}

func newHostIDs() *hostIDs { return &hostIDs{ids: map[string]int{}} }

func (h *hostIDs) get(name string) int {
	if id, ok := h.ids[name]; ok {
		return id
	}
	id := len(h.names)
	h.names = append(h.names, name)
	h.ids[name] = id
	return id
}

func (h *hostIDs) name(id int) string { return h.names[id] }

// Outputs holds the three growing vectors of compiled entries shared by
// every Processor in a pipeline run.
type Outputs struct {
	ids  *hostIDs
	IPv4 []PrefixEntry[IPv4Net]
	IPv6 []PrefixEntry[IPv6Net]
	ASN  []AsnEntry
}

// NewOutputs returns an empty set of output vectors.
func NewOutputs() *Outputs {
	return &Outputs{ids: newHostIDs()}
}

func (o *Outputs) appendIPv4(n IPv4Net, hostname string) {
	o.IPv4 = append(o.IPv4, PrefixEntry[IPv4Net]{Key: n, ServerID: o.ids.get(hostname)})
}

func (o *Outputs) appendIPv6(n IPv6Net, hostname string) {
	o.IPv6 = append(o.IPv6, PrefixEntry[IPv6Net]{Key: n, ServerID: o.ids.get(hostname)})
}

func (o *Outputs) appendASN(r AsnRange, hostname string) {
	o.ASN = append(o.ASN, AsnEntry{Key: r, ServerID: o.ids.get(hostname)})
}

// appendIPv4Dedup applies the deduplication rule: drop the candidate if
// the snapshot already resolves it to the same server.
func (o *Outputs) appendIPv4Dedup(snap Snapshot, n IPv4Net, hostname string) {
	id := o.ids.get(hostname)
	if existing, ok := snap.ipv4.LongestMatchValue(n); ok && existing == id {
		return
	}
	o.IPv4 = append(o.IPv4, PrefixEntry[IPv4Net]{Key: n, ServerID: id})
}

func (o *Outputs) appendIPv6Dedup(snap Snapshot, n IPv6Net, hostname string) {
	id := o.ids.get(hostname)
	if existing, ok := snap.ipv6.LongestMatchValue(n); ok && existing == id {
		return
	}
	o.IPv6 = append(o.IPv6, PrefixEntry[IPv6Net]{Key: n, ServerID: id})
}

func (o *Outputs) appendASNDedup(snap Snapshot, r AsnRange, hostname string) {
	id := o.ids.get(hostname)
	if existing, ok := snap.asn.LongestMatchValue(r); ok && existing == id {
		return
	}
	o.ASN = append(o.ASN, AsnEntry{Key: r, ServerID: id})
}

// Snapshot is the read-only trio of indexes rebuilt from Outputs between
// pipeline stages, so a stage can ask "what would a lookup return right
// now" before deciding whether to append a new entry.
type Snapshot struct {
	ipv4 *PrefixTrie[IPv4Net]
	ipv6 *PrefixTrie[IPv6Net]
	asn  *AsnIndex
}

func buildSnapshot(out *Outputs) Snapshot {
	return Snapshot{
		ipv4: BuildPrefixTrie(out.IPv4),
		ipv6: BuildPrefixTrie(out.IPv6),
		asn:  BuildAsnIndex(out.ASN),
	}
}

// Processor runs one compilation stage against a source directory,
// appending to the shared output vectors.
type Processor interface {
	Run(dir string, snap Snapshot, out *Outputs) error
	fmt.Stringer
}

// RunPipeline executes the fixed stage order - IANA first, then each RIR's
// delegated-extended file in alphabetical order - and returns the
// resulting output vectors.
func RunPipeline(sourceDir string) (*Outputs, error) {
	out := NewOutputs()
	stages := []Processor{
		IANAProcessor{},
		DelegatedProcessor{rir: "afrinic", hostname: "whois.afrinic.net", file: filepath.Join(sourceDir, "afrinic", "delegated-afrinic-extended-latest")},
		DelegatedProcessor{rir: "apnic", hostname: "whois.apnic.net", file: filepath.Join(sourceDir, "apnic", "delegated-apnic-extended-latest")},
		DelegatedProcessor{rir: "arin", hostname: "whois.arin.net", file: filepath.Join(sourceDir, "arin", "delegated-arin-extended-latest")},
		DelegatedProcessor{rir: "lacnic", hostname: "whois.lacnic.net", file: filepath.Join(sourceDir, "lacnic", "delegated-lacnic-extended-latest")},
		DelegatedProcessor{rir: "ripe", hostname: "whois.ripe.net", file: filepath.Join(sourceDir, "ripe", "delegated-ripencc-extended-latest")},
	}

	for _, stage := range stages {
		snap := buildSnapshot(out)
		Log.WithField("stage", stage.String()).Debug("running pipeline stage")
		if err := stage.Run(sourceDir, snap, out); err != nil {
			return nil, errors.Wrapf(err, "stage %s", stage.String())
		}
		Log.WithFields(logrus.Fields{
			"stage": stage.String(),
			"ipv4":  len(out.IPv4),
			"ipv6":  len(out.IPv6),
			"asn":   len(out.ASN),
		}).Debug("completed pipeline stage")
	}
	return out, nil
}

// IANAProcessor loads the four top-level IANA assignment tables. Rows are
// appended unconditionally: the snapshot is empty on entry to this stage,
// so the deduplication rule never triggers here.
type IANAProcessor struct{}

func (IANAProcessor) String() string { return "iana" }

func (IANAProcessor) Run(dir string, _ Snapshot, out *Outputs) error {
	base := filepath.Join(dir, "iana")
	if err := runIANAIPv4(filepath.Join(base, "ipv4-address-space.csv"), out); err != nil {
		return err
	}
	if err := runIANAIPv6(filepath.Join(base, "ipv6-unicast-address-assignments.csv"), out); err != nil {
		return err
	}
	if err := runIANAAsn(filepath.Join(base, "as-numbers-1.csv"), out, 0); err != nil {
		return err
	}
	if err := runIANAAsn(filepath.Join(base, "as-numbers-2.csv"), out, 65536); err != nil {
		return err
	}
	return nil
}

// readCSVRows reads a comma-separated source file by raw column index -
// plain encoding/csv rather than gocsv's struct/header marshaling, since
// the columns consumed here vary by file and a couple (the IANA IPv4
// "N/L" token, the AS ranges) aren't naturally one-field-per-struct-tag.
// Compiled output (below) goes back through gocsv, where the two-column
// shape fits it cleanly.
func readCSVRows(path string, hasHeader bool) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(ErrMissingDataFile, "%s: %v", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	if hasHeader && len(rows) > 0 {
		rows = rows[1:]
	}
	return rows, nil
}

func runIANAIPv4(path string, out *Outputs) error {
	rows, err := readCSVRows(path, true)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if len(row) < 4 {
			continue
		}
		n, err := parseIANAIPv4Token(row[0])
		if err != nil {
			Log.WithField("row", row[0]).WithError(errors.Wrap(ErrMalformedRow, err.Error())).Warn("skipping malformed iana ipv4 row")
			continue
		}
		out.appendIPv4(n, strings.TrimSpace(row[3]))
	}
	return nil
}

// parseIANAIPv4Token parses the IANA table's "N/L" column (first octet,
// prefix length) into the /8-or-narrower block N.0.0.0/L.
func parseIANAIPv4Token(tok string) (IPv4Net, error) {
	octetStr, lenStr, ok := strings.Cut(strings.TrimSpace(tok), "/")
	if !ok {
		return IPv4Net{}, errors.Errorf("malformed iana ipv4 token %q", tok)
	}
	octet, err := strconv.Atoi(octetStr)
	if err != nil || octet < 0 || octet > 255 {
		return IPv4Net{}, errors.Errorf("invalid first octet in %q", tok)
	}
	return ParseIPv4Net(fmt.Sprintf("%d.0.0.0/%s", octet, lenStr))
}

func runIANAIPv6(path string, out *Outputs) error {
	rows, err := readCSVRows(path, true)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if len(row) < 4 {
			continue
		}
		n, err := ParseIPv6Net(strings.TrimSpace(row[0]))
		if err != nil {
			Log.WithField("row", row[0]).WithError(errors.Wrap(ErrMalformedRow, err.Error())).Warn("skipping malformed iana ipv6 row")
			continue
		}
		out.appendIPv6(n, strings.TrimSpace(row[3]))
	}
	return nil
}

// runIANAAsn loads one of the two AS-number tables. minStart filters the
// 32-bit table to rows whose start is >= 65536, so that the ranges taken
// from the 16-bit and 32-bit tables do not overlap.
func runIANAAsn(path string, out *Outputs, minStart uint32) error {
	rows, err := readCSVRows(path, true)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if len(row) < 3 {
			continue
		}
		rng, err := parseIANAAsnToken(row[0])
		if err != nil {
			Log.WithField("row", row[0]).WithError(errors.Wrap(ErrMalformedRow, err.Error())).Warn("skipping malformed iana asn row")
			continue
		}
		if rng.Start < minStart {
			continue
		}
		out.appendASN(rng, strings.TrimSpace(row[2]))
	}
	return nil
}

// parseIANAAsnToken parses "<n>" or "<a>-<b>" (inclusive of b). The
// terminal 32-bit range [4294967295, 4294967295] needs no wrap-around
// handling here: AsnRange.End is a true 64-bit exclusive bound, so
// end+1 lands on 4294967296 directly.
func parseIANAAsnToken(tok string) (AsnRange, error) {
	tok = strings.TrimSpace(tok)
	if a, b, ok := strings.Cut(tok, "-"); ok {
		start, err := strconv.ParseUint(strings.TrimSpace(a), 10, 32)
		if err != nil {
			return AsnRange{}, errors.Wrapf(err, "invalid asn range start in %q", tok)
		}
		end, err := strconv.ParseUint(strings.TrimSpace(b), 10, 32)
		if err != nil {
			return AsnRange{}, errors.Wrapf(err, "invalid asn range end in %q", tok)
		}
		return AsnRange{Start: uint32(start), End: end + 1}, nil
	}
	n, err := strconv.ParseUint(tok, 10, 32)
	if err != nil {
		return AsnRange{}, errors.Wrapf(err, "invalid asn %q", tok)
	}
	return NewAsnRange(uint32(n)), nil
}

// DelegatedProcessor runs one RIR's delegated-extended file through the
// pipeline. Hostname is fixed per-RIR.
type DelegatedProcessor struct {
	rir      string
	hostname string
	file     string
}

func (p DelegatedProcessor) String() string { return p.rir }

func (p DelegatedProcessor) Run(_ string, snap Snapshot, out *Outputs) error {
	f, err := os.Open(p.file)
	if err != nil {
		return errors.Wrapf(ErrMissingDataFile, "%s: %v", p.file, err)
	}
	defer f.Close()

	var rowCount, skipCount int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cols := strings.Split(line, "|")
		if len(cols) < 5 {
			continue
		}
		recordType, start, arg := cols[2], cols[3], cols[4]

		var emitErr error
		switch recordType {
		case "ipv4":
			emitErr = p.emitIPv4(snap, out, start, arg)
		case "ipv6":
			emitErr = p.emitIPv6(snap, out, start, arg)
		case "asn":
			emitErr = p.emitAsn(snap, out, start, arg)
		default:
			continue
		}
		if emitErr != nil {
			Log.WithField("rir", p.rir).WithField("line", line).
				WithError(errors.Wrap(ErrMalformedRow, emitErr.Error())).
				Warn("skipping malformed delegated row")
			skipCount++
			continue
		}
		rowCount++
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "reading %s", p.file)
	}
	Log.WithFields(logrus.Fields{"rir": p.rir, "rows": rowCount, "skipped": skipCount}).Debug("completed delegated stage")
	return nil
}

// emitIPv4 splits a (base, host-count) record into the minimal sequence
// of aligned CIDR blocks covering exactly that many hosts.
func (p DelegatedProcessor) emitIPv4(snap Snapshot, out *Outputs, startTok, countTok string) error {
	base, err := parseIPv4Addr(strings.TrimSpace(startTok))
	if err != nil {
		return err
	}
	remaining, err := strconv.ParseUint(strings.TrimSpace(countTok), 10, 64)
	if err != nil {
		return errors.Wrapf(err, "invalid host count %q", countTok)
	}

	for remaining > 0 {
		byCount := uint8(33 - bits.Len64(remaining))
		byAlign := largestAlignedPrefixLen(base)
		l := byCount
		if byAlign > l {
			l = byAlign
		}
		blockSize := uint64(1) << (32 - l)

		out.appendIPv4Dedup(snap, NewIPv4Net(base, l), p.hostname)

		base += uint32(blockSize)
		remaining -= blockSize
	}
	return nil
}

// largestAlignedPrefixLen returns the smallest prefix length L >= 8 such
// that base is a multiple of 2^(32-L) - the finest alignment base
// permits. The floor of 8 is a deliberate quirk carried from the source
// registries and must not be tightened.
func largestAlignedPrefixLen(base uint32) uint8 {
	for l := uint8(8); l < 32; l++ {
		blockSize := uint64(1) << (32 - l)
		if uint64(base)%blockSize == 0 {
			return l
		}
	}
	return 32
}

func (p DelegatedProcessor) emitIPv6(snap Snapshot, out *Outputs, addrTok, lenTok string) error {
	n, err := ParseIPv6Net(fmt.Sprintf("%s/%s", strings.TrimSpace(addrTok), strings.TrimSpace(lenTok)))
	if err != nil {
		return err
	}
	out.appendIPv6Dedup(snap, n, p.hostname)
	return nil
}

func (p DelegatedProcessor) emitAsn(snap Snapshot, out *Outputs, startTok, countTok string) error {
	start, err := strconv.ParseUint(strings.TrimSpace(startTok), 10, 32)
	if err != nil {
		return errors.Wrapf(err, "invalid asn start %q", startTok)
	}
	count, err := strconv.ParseUint(strings.TrimSpace(countTok), 10, 64)
	if err != nil {
		return errors.Wrapf(err, "invalid asn count %q", countTok)
	}
	out.appendASNDedup(snap, AsnRange{Start: uint32(start), End: start + count}, p.hostname)
	return nil
}

// WriteCompiled writes the three compiled tables to outDir, in append
// order (IANA stage first, then each RIR in the fixed order RunPipeline
// ran them), via gocsv's headerless struct marshaling.
func WriteCompiled(out *Outputs, outDir string) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return errors.Wrapf(err, "creating output directory %s", outDir)
	}
	if err := writeCompiledIPv4(out, filepath.Join(outDir, "ipv4")); err != nil {
		return err
	}
	if err := writeCompiledIPv6(out, filepath.Join(outDir, "ipv6")); err != nil {
		return err
	}
	if err := writeCompiledAsn(out, filepath.Join(outDir, "asn")); err != nil {
		return err
	}
	return nil
}

func writeCompiledIPv4(out *Outputs, path string) error {
	rows := make([]compiledRow, 0, len(out.IPv4))
	for _, e := range out.IPv4 {
		rows = append(rows, compiledRow{Resource: e.Key.String(), Hostname: out.ids.name(e.ServerID)})
	}
	return writeCompiledRows(rows, path)
}

func writeCompiledIPv6(out *Outputs, path string) error {
	rows := make([]compiledRow, 0, len(out.IPv6))
	for _, e := range out.IPv6 {
		rows = append(rows, compiledRow{Resource: e.Key.String(), Hostname: out.ids.name(e.ServerID)})
	}
	return writeCompiledRows(rows, path)
}

func writeCompiledAsn(out *Outputs, path string) error {
	rows := make([]compiledRow, 0, len(out.ASN))
	for _, e := range out.ASN {
		resource := fmt.Sprintf("%d-%d", e.Key.Start, e.Key.End-1)
		rows = append(rows, compiledRow{Resource: resource, Hostname: out.ids.name(e.ServerID)})
	}
	return writeCompiledRows(rows, path)
}

func writeCompiledRows(rows []compiledRow, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	defer f.Close()
	if err := gocsv.MarshalWithoutHeaders(rows, f); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	return nil
}
