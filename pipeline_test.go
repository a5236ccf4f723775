package whoisproxy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func mkdirAllT(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(path, 0o755))
}

// TestIPv4HostCountSplit exercises the delegated-extended host-count to
// CIDR splitting algorithm directly: a non-power-of-two count starting on
// a fully-aligned base must still decompose to the minimal sequence of
// blocks, preferring the widest block the remaining count allows at each
// step and falling back to alignment only when the base forces it.
func TestIPv4HostCountSplit(t *testing.T) {
	out := NewOutputs()
	snap := buildSnapshot(out)
	p := DelegatedProcessor{rir: "test", hostname: "whois.test.net"}

	require.NoError(t, p.emitIPv4(snap, out, "10.0.0.0", "3"))

	require.Len(t, out.IPv4, 2)
	require.Equal(t, "10.0.0.0/31", out.IPv4[0].Key.String())
	require.Equal(t, "10.0.0.2/32", out.IPv4[1].Key.String())
}

// TestIPv4HostCountSplitAlignmentFloor checks the minimum-alignment-of-8
// quirk: even a base aligned only to /8 never yields a block wider than
// /8, regardless of how large the host count is.
func TestIPv4HostCountSplitAlignmentFloor(t *testing.T) {
	require.Equal(t, uint8(8), largestAlignedPrefixLen(0))
	require.Equal(t, uint8(8), largestAlignedPrefixLen(0x0A000000)) // 10.0.0.0
}

func TestDelegatedDeduplication(t *testing.T) {
	out := NewOutputs()
	out.appendIPv4(mustIPv4Net(t, "50.0.0.0/8"), "whois.afrinic.net")
	snap := buildSnapshot(out)

	p := DelegatedProcessor{rir: "afrinic", hostname: "whois.afrinic.net"}
	// Same server as the existing covering /8: dropped.
	require.NoError(t, p.emitIPv4(snap, out, "50.1.0.0", "65536"))
	require.Len(t, out.IPv4, 1, "sub-allocation routing to the same server as its parent must be dropped")

	// Different server: kept.
	p2 := DelegatedProcessor{rir: "other", hostname: "whois.other.net"}
	require.NoError(t, p2.emitIPv4(snap, out, "50.2.0.0", "65536"))
	require.Len(t, out.IPv4, 2)
}

func TestDelegatedIPv6AndAsn(t *testing.T) {
	out := NewOutputs()
	snap := buildSnapshot(out)
	p := DelegatedProcessor{rir: "ripe", hostname: "whois.ripe.net"}

	require.NoError(t, p.emitIPv6(snap, out, "2001:0db8::", "32"))
	require.Len(t, out.IPv6, 1)
	require.Equal(t, 0, out.IPv6[0].ServerID)

	snap = buildSnapshot(out)
	require.NoError(t, p.emitAsn(snap, out, "1230", "1"))
	require.Len(t, out.ASN, 1)
	require.Equal(t, AsnRange{Start: 1230, End: 1231}, out.ASN[0].Key)
}

// writeFixture lays out a minimal source tree that RunPipeline can
// compile: an iana/ directory with the four IANA tables, and one
// delegated-extended file per RIR.
func writeFixture(t *testing.T, dir string) {
	t.Helper()
	mkdirAllT(t, filepath.Join(dir, "iana"))
	for _, rir := range []string{"afrinic", "apnic", "arin", "lacnic", "ripe"} {
		mkdirAllT(t, filepath.Join(dir, rir))
	}

	writeTestFile(t, filepath.Join(dir, "iana", "ipv4-address-space.csv"),
		"Prefix,Designation,Date,Whois,RDAP\n"+
			"0/8,Reserved,1981-09,,\n"+
			"60/8,TEST-IANA,2003-04,whois.example.net,\n")
	writeTestFile(t, filepath.Join(dir, "iana", "ipv6-unicast-address-assignments.csv"),
		"Prefix,Designation,Date,Whois,RDAP\n"+
			"2001:0200::/23,APNIC,1999-07,whois.apnic.net,\n")
	writeTestFile(t, filepath.Join(dir, "iana", "as-numbers-1.csv"),
		"Number,Description,Whois,RDAP\n"+
			"0-6,IANA,,\n"+
			"7,RIPE,whois.ripe.net,\n")
	writeTestFile(t, filepath.Join(dir, "iana", "as-numbers-2.csv"),
		"Number,Description,Whois,RDAP\n"+
			"65536-65600,IANA,,\n")

	writeTestFile(t, filepath.Join(dir, "afrinic", "delegated-afrinic-extended-latest"),
		"afrinic|ZA|ipv4|41.0.0.0|2097152|20030101|allocated\n"+
			"afrinic|ZA|ipv6|2001:4200::|32|20030101|allocated\n"+
			"afrinic|ZA|asn|1300|1|20030101|allocated\n")
	for _, rir := range []string{"apnic", "arin", "lacnic"} {
		writeTestFile(t, filepath.Join(dir, rir, "delegated-"+rir+"-extended-latest"), "")
	}
	writeTestFile(t, filepath.Join(dir, "ripe", "delegated-ripencc-extended-latest"), "")
}

func TestRunPipelineEndToEnd(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir)

	out, err := RunPipeline(dir)
	require.NoError(t, err)

	require.NotEmpty(t, out.IPv4)
	require.Equal(t, "0.0.0.0/8", out.IPv4[0].Key.String())
	require.Equal(t, "", out.ids.name(out.IPv4[0].ServerID))

	require.NotEmpty(t, out.IPv6)
	require.NotEmpty(t, out.ASN)

	var sawAfrinicIPv4 bool
	for _, e := range out.IPv4 {
		if out.ids.name(e.ServerID) == "whois.afrinic.net" {
			sawAfrinicIPv4 = true
		}
	}
	require.True(t, sawAfrinicIPv4, "delegated afrinic ipv4 record must survive to the output")
}

// TestPipelineIdempotence runs the pipeline twice against the same
// source tree and checks the compiled output is byte-identical both
// times.
func TestPipelineIdempotence(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir)

	out1, err := RunPipeline(dir)
	require.NoError(t, err)
	out2, err := RunPipeline(dir)
	require.NoError(t, err)

	outDir1 := filepath.Join(t.TempDir(), "run1")
	outDir2 := filepath.Join(t.TempDir(), "run2")
	require.NoError(t, WriteCompiled(out1, outDir1))
	require.NoError(t, WriteCompiled(out2, outDir2))

	for _, name := range []string{"ipv4", "ipv6", "asn"} {
		b1, err := os.ReadFile(filepath.Join(outDir1, name))
		require.NoError(t, err)
		b2, err := os.ReadFile(filepath.Join(outDir2, name))
		require.NoError(t, err)
		require.Equal(t, b1, b2, name)
	}
}
