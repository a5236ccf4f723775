package whoisproxy

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Server is a single WHOIS-referral listener: it accepts client
// connections, resolves each query line through the live Context, and
// proxies the conversation to the resolved upstream WHOIS server.
// One goroutine per client connection.
type Server struct {
	id            string
	addr          string
	defaultServer string
	upstreamPort  string
	ctx           *AtomicContext
	metrics       *serverMetrics
	dialer        net.Dialer
}

var _ Listener = &Server{}

// NewServer returns a proxy listener bound to addr (host:port, typically
// "0.0.0.0:4343"), routing through ctx and falling back to defaultServer
// when a query resolves to no server.
func NewServer(id, addr, defaultServer string, ctx *AtomicContext) *Server {
	return &Server{
		id:            id,
		addr:          addr,
		defaultServer: defaultServer,
		upstreamPort:  "43",
		ctx:           ctx,
		metrics:       newServerMetrics("proxy", id),
	}
}

func (s *Server) String() string { return s.id }

// Start opens the listening socket and runs the accept loop until it
// fails (typically on Close or a fatal socket error).
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	defer l.Close()

	Log.WithFields(logrus.Fields{"id": s.id, "addr": s.addr}).Info("starting whois proxy listener")
	for {
		conn, err := l.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

// handleConn services exactly one client connection end to end. All
// failures are logged and close both sockets; they never propagate to
// the accept loop.
func (s *Server) handleConn(c net.Conn) {
	start := time.Now()
	s.metrics.connections.Add(1)
	defer c.Close()

	client := c.RemoteAddr().String()
	log := Log.WithFields(logrus.Fields{"id": s.id, "client": client})

	query, err := readQueryLine(c)
	if err != nil {
		s.metrics.errors.Add(1)
		log.WithError(err).Debug("failed to read query line")
		return
	}

	upstream, ok := s.ctx.Load().Lookup(query)
	if !ok {
		upstream = s.defaultServer
	}
	log = log.WithFields(logrus.Fields{"query": query, "upstream": upstream})
	log.Debug("routing query")

	uc, err := s.dialer.DialContext(context.Background(), "tcp", net.JoinHostPort(upstream, s.upstreamPort))
	if err != nil {
		s.metrics.errors.Add(1)
		log.WithError(err).Debug("failed to dial upstream")
		return
	}
	defer uc.Close()

	written, err := io.WriteString(uc, query+"\r\n")
	s.metrics.bytesUp.Add(int64(written))
	if err != nil {
		s.metrics.errors.Add(1)
		log.WithError(err).Debug("failed to write query to upstream")
		return
	}

	downBytes, err := s.splice(c, uc)
	s.metrics.bytesDown.Add(downBytes)
	if err != nil {
		s.metrics.errors.Add(1)
		log.WithError(err).Debug("error copying response")
	}

	log.WithFields(logrus.Fields{
		"elapsed-ms": time.Since(start).Milliseconds(),
		"bytes-down": downBytes,
	}).Debug("completed query")
}

// splice copies upstream's response to the client. The upstream's write
// half is shut down independently of its read half first, since the
// client has nothing further to send after its one query line; this lets
// the upstream finish its response without that half-close prematurely
// tearing down the upstream->client direction.
func (s *Server) splice(client net.Conn, upstream net.Conn) (down int64, err error) {
	if tc, ok := upstream.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}
	return io.Copy(client, upstream)
}

// readQueryLine reads exactly one \n-terminated line and strips a
// trailing \r, per the wire protocol.
func readQueryLine(c net.Conn) (string, error) {
	r := bufio.NewReader(c)
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
