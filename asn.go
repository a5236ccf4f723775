package whoisproxy

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// AsnRange is a half-open interval [Start, End) over 32-bit AS numbers.
// End is 64-bit so the terminal range [4294967295, 4294967296) can be
// represented without wrapping to zero; every other range fits in 32 bits.
type AsnRange struct {
	Start uint32
	End   uint64
}

// NewAsnRange builds the range for a single ASN, [n, n+1).
func NewAsnRange(n uint32) AsnRange {
	return AsnRange{Start: n, End: uint64(n) + 1}
}

// ParseAsnRange parses "AS<n>" (case-insensitive), yielding the single-ASN
// range [n, n+1), or "AS<n>-AS<m>" (optional whitespace before the dash),
// yielding the half-open range [n, m) directly - m is exclusive here,
// unlike the compiled on-disk format (context.go's parseCompiledAsnRange),
// which stores an inclusive upper bound and adds 1 itself.
func ParseAsnRange(s string) (AsnRange, error) {
	s = strings.TrimSpace(s)
	upper := strings.ToUpper(s)
	if idx := strings.Index(upper, "-"); idx >= 0 {
		left := strings.TrimSpace(s[:idx])
		right := strings.TrimSpace(s[idx+1:])
		start, err := parseASToken(left)
		if err != nil {
			return AsnRange{}, err
		}
		end, err := parseASToken(right)
		if err != nil {
			return AsnRange{}, err
		}
		if end < start {
			return AsnRange{}, errors.Errorf("asn range end before start in %q", s)
		}
		return AsnRange{Start: start, End: uint64(end)}, nil
	}
	n, err := parseASToken(s)
	if err != nil {
		return AsnRange{}, err
	}
	return NewAsnRange(n), nil
}

func parseASToken(s string) (uint32, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	if !strings.HasPrefix(upper, "AS") {
		return 0, errors.Errorf("not an ASN token: %q", s)
	}
	n, err := strconv.ParseUint(upper[2:], 10, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid ASN in %q", s)
	}
	return uint32(n), nil
}

// Contains reports whether r entirely encloses q: r.Start <= q.Start and
// r.End >= q.End, comparing on the half-open 64-bit representation.
func (r AsnRange) Contains(q AsnRange) bool {
	return r.Start <= q.Start && r.End >= q.End
}

// size returns the width of the range, End - Start. Because End is a
// 64-bit exclusive bound, the full range [0, 4294967296) has width 2^32
// rather than zero.
func (r AsnRange) size() uint64 {
	return r.End - uint64(r.Start)
}

// Compare orders by start then size, for deterministic sorts.
func (r AsnRange) Compare(o AsnRange) int {
	if r.Start != o.Start {
		if r.Start < o.Start {
			return -1
		}
		return 1
	}
	rs, os := r.size(), o.size()
	if rs != os {
		if rs < os {
			return -1
		}
		return 1
	}
	return 0
}

func (r AsnRange) String() string {
	if r.End == uint64(r.Start)+1 {
		return fmt.Sprintf("AS%d", r.Start)
	}
	return fmt.Sprintf("AS%d-AS%d", r.Start, r.End-1)
}
