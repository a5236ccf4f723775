package whoisproxy

import "fmt"

// Listener is anything that accepts incoming WHOIS client connections and
// routes them through a Context.
type Listener interface {
	Start() error
	fmt.Stringer
}
