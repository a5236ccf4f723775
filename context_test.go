package whoisproxy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTestFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func TestContextLookupScenarios(t *testing.T) {
	dir := t.TempDir()

	ipv4Path := filepath.Join(dir, "ipv4")
	ipv6Path := filepath.Join(dir, "ipv6")
	asnPath := filepath.Join(dir, "asn")

	writeTestFile(t, ipv4Path, "1.0.0.0/24,first-server\n2.0.0.0/16,second-server\n4.0.0.0/8,\n")
	writeTestFile(t, ipv6Path, "2::/32,second-server\n")
	writeTestFile(t, asnPath, "300-599,first-server\n2500-2599,third-server\n")

	ctx, err := FromCompiled(ipv4Path, ipv6Path, asnPath)
	require.NoError(t, err)

	tests := []struct {
		query    string
		expected string
		found    bool
	}{
		{"asdf", "", false},
		{"1.0.0.0", "first-server", true},
		{"2.0.0.0/16", "second-server", true},
		{"4.0.0.0/8", "", false},
		{"0002::/32", "second-server", true},
		{"::1", "", false},
		{"AS500", "first-server", true},
		{"AS500-AS2500", "", false},
		{"AS2500-AS2600", "third-server", true},
	}
	for _, tt := range tests {
		host, ok := ctx.Lookup(tt.query)
		require.Equal(t, tt.found, ok, tt.query)
		require.Equal(t, tt.expected, host, tt.query)
	}
}

func TestContextMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := FromCompiled(filepath.Join(dir, "ipv4"), filepath.Join(dir, "ipv6"), filepath.Join(dir, "asn"))
	require.Error(t, err)
}
