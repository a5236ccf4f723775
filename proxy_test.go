package whoisproxy

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"
)

// reserveAddr picks a free loopback port via nettest's local-listener
// helper, binding and releasing it. Good enough for a test fixture;
// Start() re-binds it a moment later.
func reserveAddr(t *testing.T) string {
	t.Helper()
	l, err := nettest.NewLocalListener("tcp")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

// startMockUpstream accepts exactly one connection, echoes back a canned
// referral line, and closes. It returns the port clients should dial.
func startMockUpstream(t *testing.T, response string) (port string, gotQuery chan string) {
	t.Helper()
	l, err := nettest.NewLocalListener("tcp")
	require.NoError(t, err)
	_, port, err = net.SplitHostPort(l.Addr().String())
	require.NoError(t, err)

	gotQuery = make(chan string, 1)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		defer l.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		gotQuery <- line
		conn.Write([]byte(response))
	}()
	return port, gotQuery
}

func dialAndQuery(t *testing.T, addr, query string) string {
	t.Helper()
	var conn net.Conn
	var err error
	require.Eventually(t, func() bool {
		conn, err = net.DialTimeout("tcp", addr, 100*time.Millisecond)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	defer conn.Close()

	_, err = conn.Write([]byte(query + "\r\n"))
	require.NoError(t, err)

	buf := make([]byte, 4096)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _ := conn.Read(buf)
	return string(buf[:n])
}

// TestServerProxiesQuery drives a full client -> proxy -> upstream round
// trip: the proxy must resolve the query through the live Context, dial
// the referred server, forward the query line, and splice the response
// back to the client unmodified.
func TestServerProxiesQuery(t *testing.T) {
	upstreamPort, gotQuery := startMockUpstream(t, "referral data\r\n")

	reg := NewServerRegistry("127.0.0.1")
	id, ok := reg.IDOf("127.0.0.1")
	require.True(t, ok)
	asn := BuildAsnIndex([]AsnEntry{{Key: mustAsnRange(t, "AS64512"), ServerID: id}})
	ctx := &Context{
		registry: reg,
		ipv4:     BuildPrefixTrie[IPv4Net](nil),
		ipv6:     BuildPrefixTrie[IPv6Net](nil),
		asn:      asn,
	}

	addr := reserveAddr(t)
	srv := NewServer("test", addr, "whois.iana.org", NewAtomicContext(ctx))
	srv.upstreamPort = upstreamPort
	go srv.Start()

	resp := dialAndQuery(t, addr, "AS64512")
	require.Equal(t, "referral data\r\n", resp)

	select {
	case q := <-gotQuery:
		require.Equal(t, "AS64512\r\n", q)
	case <-time.After(2 * time.Second):
		t.Fatal("upstream never received a query")
	}
}

// TestServerFallsBackToDefault checks that a query the Context can't
// resolve is sent to the configured default server instead of dropped.
func TestServerFallsBackToDefault(t *testing.T) {
	upstreamPort, gotQuery := startMockUpstream(t, "default referral\r\n")

	reg := NewServerRegistry()
	ctx := &Context{
		registry: reg,
		ipv4:     BuildPrefixTrie[IPv4Net](nil),
		ipv6:     BuildPrefixTrie[IPv6Net](nil),
		asn:      BuildAsnIndex(nil),
	}

	addr := reserveAddr(t)
	srv := NewServer("test", addr, "127.0.0.1", NewAtomicContext(ctx))
	srv.upstreamPort = upstreamPort
	go srv.Start()

	resp := dialAndQuery(t, addr, "AS999999")
	require.Equal(t, "default referral\r\n", resp)

	select {
	case q := <-gotQuery:
		require.Equal(t, "AS999999\r\n", q)
	case <-time.After(2 * time.Second):
		t.Fatal("upstream never received a query")
	}
}
