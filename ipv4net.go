package whoisproxy

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// IPv4Net is a (32-bit address, prefix-length) pair. The address's host
// bits below PrefixLen are always zero.
type IPv4Net struct {
	Addr      uint32
	PrefixLen uint8
}

// ParseIPv4Net parses "a.b.c.d/n" or a bare "a.b.c.d" (treated as /32).
func ParseIPv4Net(s string) (IPv4Net, error) {
	addrPart, lenPart, hasSlash := strings.Cut(s, "/")
	addr, err := parseIPv4Addr(addrPart)
	if err != nil {
		return IPv4Net{}, errors.Wrapf(err, "invalid ipv4 address %q", s)
	}
	prefixLen := 32
	if hasSlash {
		prefixLen, err = strconv.Atoi(lenPart)
		if err != nil || prefixLen < 0 || prefixLen > 32 {
			return IPv4Net{}, errors.Errorf("invalid ipv4 prefix length in %q", s)
		}
	}
	return NewIPv4Net(addr, uint8(prefixLen)), nil
}

// NewIPv4Net builds a net from an address and prefix length, masking off
// any host bits below the prefix.
func NewIPv4Net(addr uint32, prefixLen uint8) IPv4Net {
	return IPv4Net{Addr: addr & ipv4Mask(prefixLen), PrefixLen: prefixLen}
}

func parseIPv4Addr(s string) (uint32, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return 0, errors.Errorf("not a dotted-quad address: %q", s)
	}
	var addr uint32
	for _, p := range parts {
		octet, err := strconv.Atoi(p)
		if err != nil || octet < 0 || octet > 255 {
			return 0, errors.Errorf("invalid octet %q in %q", p, s)
		}
		addr = addr<<8 | uint32(octet)
	}
	return addr, nil
}

func ipv4Mask(prefixLen uint8) uint32 {
	if prefixLen == 0 {
		return 0
	}
	return ^uint32(0) << (32 - prefixLen)
}

// Broadcast returns addr | (2^(32-len) - 1).
func (n IPv4Net) Broadcast() uint32 {
	return n.Addr | ^ipv4Mask(n.PrefixLen)
}

// Contains reports whether n's prefix covers child's prefix: n is at least
// as wide and the leading PrefixLen bits of both addresses agree.
func (n IPv4Net) Contains(child IPv4Net) bool {
	if n.PrefixLen > child.PrefixLen {
		return false
	}
	return n.Addr == (child.Addr & ipv4Mask(n.PrefixLen))
}

// Compare orders by address then prefix length, for deterministic sorts.
func (n IPv4Net) Compare(o IPv4Net) int {
	if n.Addr != o.Addr {
		if n.Addr < o.Addr {
			return -1
		}
		return 1
	}
	if n.PrefixLen != o.PrefixLen {
		if n.PrefixLen < o.PrefixLen {
			return -1
		}
		return 1
	}
	return 0
}

func (n IPv4Net) String() string {
	a := n.Addr
	return fmt.Sprintf("%d.%d.%d.%d/%d", a>>24&0xff, a>>16&0xff, a>>8&0xff, a&0xff, n.PrefixLen)
}

// Bytes returns the address as a 4-byte big-endian slice, for use with the
// generic bitwise trie.
func (n IPv4Net) Bytes() []byte {
	return []byte{byte(n.Addr >> 24), byte(n.Addr >> 16), byte(n.Addr >> 8), byte(n.Addr)}
}
