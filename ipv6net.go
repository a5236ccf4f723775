package whoisproxy

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// IPv6Net is a (128-bit address, prefix-length) pair, stored as two 64-bit
// halves (high, low) in network order. Host bits below PrefixLen are
// always zero.
type IPv6Net struct {
	Hi, Lo    uint64
	PrefixLen uint8
}

// ParseIPv6Net parses "h:h::h/n" or a bare address (treated as /128).
func ParseIPv6Net(s string) (IPv6Net, error) {
	addrPart, lenPart, hasSlash := strings.Cut(s, "/")
	ip := net.ParseIP(strings.TrimSpace(addrPart))
	if ip == nil || ip.To4() != nil {
		return IPv6Net{}, errors.Errorf("invalid ipv6 address %q", s)
	}
	ip16 := ip.To16()
	hi := beUint64(ip16[0:8])
	lo := beUint64(ip16[8:16])
	prefixLen := 128
	if hasSlash {
		var err error
		prefixLen, err = strconv.Atoi(lenPart)
		if err != nil || prefixLen < 0 || prefixLen > 128 {
			return IPv6Net{}, errors.Errorf("invalid ipv6 prefix length in %q", s)
		}
	}
	return NewIPv6Net(hi, lo, uint8(prefixLen)), nil
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}

// NewIPv6Net builds a net from a 128-bit address and prefix length,
// masking off any host bits below the prefix.
func NewIPv6Net(hi, lo uint64, prefixLen uint8) IPv6Net {
	mhi, mlo := ipv6Mask(prefixLen)
	return IPv6Net{Hi: hi & mhi, Lo: lo & mlo, PrefixLen: prefixLen}
}

// ipv6Mask returns the (hi, lo) mask for the given prefix length.
func ipv6Mask(prefixLen uint8) (hi, lo uint64) {
	switch {
	case prefixLen == 0:
		return 0, 0
	case prefixLen <= 64:
		return ^uint64(0) << (64 - prefixLen), 0
	case prefixLen == 128:
		return ^uint64(0), ^uint64(0)
	default:
		return ^uint64(0), ^uint64(0) << (128 - prefixLen)
	}
}

// Contains reports whether n's prefix covers child's prefix.
func (n IPv6Net) Contains(child IPv6Net) bool {
	if n.PrefixLen > child.PrefixLen {
		return false
	}
	mhi, mlo := ipv6Mask(n.PrefixLen)
	return n.Hi == (child.Hi&mhi) && n.Lo == (child.Lo&mlo)
}

// Compare orders by address then prefix length, for deterministic sorts.
func (n IPv6Net) Compare(o IPv6Net) int {
	if n.Hi != o.Hi {
		if n.Hi < o.Hi {
			return -1
		}
		return 1
	}
	if n.Lo != o.Lo {
		if n.Lo < o.Lo {
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

func (n IPv6Net) String() string {
	b := n.Bytes()
	ip := net.IP(b)
	return fmt.Sprintf("%s/%d", ip.String(), n.PrefixLen)
}

// Bytes returns the address as a 16-byte big-endian slice, for use with the
// generic bitwise trie.
func (n IPv6Net) Bytes() []byte {
	b := make([]byte, 16)
	for i := 0; i < 8; i++ {
		b[i] = byte(n.Hi >> (56 - 8*i))
		b[8+i] = byte(n.Lo >> (56 - 8*i))
	}
	return b
}
