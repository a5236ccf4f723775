package whoisproxy

import (
	"expvar"
	"fmt"
)

// getVarInt returns the *expvar.Int for the given path, creating it on
// first use. Used for per-listener and per-reloader counters.
func getVarInt(base, id, name string) *expvar.Int {
	fullname := fmt.Sprintf("whoisproxy.%s.%s.%s", base, id, name)
	if v := expvar.Get(fullname); v != nil {
		return v.(*expvar.Int)
	}
	return expvar.NewInt(fullname)
}
