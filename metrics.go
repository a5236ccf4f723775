package whoisproxy

import "expvar"

// serverMetrics are the expvar counters for one Server, following
// vars.go's getVarInt("proxy", id, name) convention.
type serverMetrics struct {
	connections *expvar.Int
	errors      *expvar.Int
	bytesUp     *expvar.Int
	bytesDown   *expvar.Int
}

func newServerMetrics(base, id string) *serverMetrics {
	return &serverMetrics{
		connections: getVarInt(base, id, "connections"),
		errors:      getVarInt(base, id, "errors"),
		bytesUp:     getVarInt(base, id, "bytes-up"),
		bytesDown:   getVarInt(base, id, "bytes-down"),
	}
}
