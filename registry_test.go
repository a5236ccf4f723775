package whoisproxy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestServerRegistry(t *testing.T) {
	reg := NewServerRegistry("whois.ripe.net", "whois.arin.net", "", "whois.ripe.net")
	require.Equal(t, 3, reg.Len())

	id, ok := reg.IDOf("whois.arin.net")
	require.True(t, ok)
	name, ok := reg.NameOf(id)
	require.True(t, ok)
	require.Equal(t, "whois.arin.net", name)

	_, ok = reg.IDOf("whois.lacnic.net")
	require.False(t, ok)

	emptyID, ok := reg.IDOf("")
	require.True(t, ok)
	name, ok = reg.NameOf(emptyID)
	require.True(t, ok)
	require.Equal(t, "", name)

	_, ok = reg.NameOf(99)
	require.False(t, ok)
}

func TestServerRegistrySortedIDs(t *testing.T) {
	reg := NewServerRegistry("zzz", "aaa", "mmm")
	firstName, ok := reg.NameOf(0)
	require.True(t, ok)
	require.Equal(t, "aaa", firstName)
	lastName, ok := reg.NameOf(reg.Len() - 1)
	require.True(t, ok)
	require.Equal(t, "zzz", lastName)
}
