/*
Package whoisproxy implements a WHOIS referral proxy: it accepts client
connections on a TCP port, reads the query line, decides which authoritative
WHOIS server is responsible for the queried resource, and streams the
referral server's reply back to the client.

Routing is driven by three in-memory lookup structures, built once from a
set of compiled CSV tables and held inside a Context:

  - an IPv4 prefix trie
  - an IPv6 prefix trie
  - an ASN range index

Context

A Context bundles the three indexes with a ServerRegistry that interns
WHOIS server hostnames to small integer ids. Contexts are immutable once
built; a Watcher swaps the live Context for a newly compiled one when the
files on disk change.

	ctx, err := whoisproxy.FromCompiled("data/ipv4", "data/ipv6", "data/asn")
	host, ok := ctx.Lookup("192.0.2.1")

Proxy

A Server accepts WHOIS client connections, resolves the query through a
live Context, and splices bytes between the client and the upstream
server. A Watcher polls the compiled files for changes and swaps the
Context held by an AtomicContext without interrupting in-flight queries.

	atomic := whoisproxy.NewAtomicContext(ctx)
	srv := whoisproxy.NewServer("main", "0.0.0.0:4343", "whois.iana.org", atomic)
	panic(srv.Start())

Compile

RunPipeline and WriteCompiled turn IANA and RIR "delegated-extended"
source files into the compiled CSVs a Context loads at start-up. The
cmd/whois-compile and cmd/whois-proxy binaries wrap these two halves for
operators.
*/
package whoisproxy
