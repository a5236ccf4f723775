package whoisproxy

import "sort"

// AsnEntry pairs an AsnRange with the server-id it routes to.
type AsnEntry struct {
	Key      AsnRange
	ServerID int
}

// AsnIndex is a one-shot build / many-query smallest-enclosing-range
// index over ASN ranges: an augmented interval tree keyed by Start, each
// node additionally storing the maximum End across its subtree so a
// query can prune subtrees that cannot possibly contain it.
//
// Because AsnRange.End is always a true 64-bit exclusive bound (never a
// wrapped 32-bit value - see asn.go and DESIGN.md), no wrap-around side
// list is needed: every range, including the terminal [4294967295,
// 4294967296), compares correctly with ordinary integer arithmetic.
type AsnIndex struct {
	root *asnNode
}

type asnNode struct {
	entry    AsnRange
	serverID int
	maxEnd   uint64
	left     *asnNode
	right    *asnNode
}

// BuildAsnIndex constructs an index from a finite, unordered slice of
// entries. Later entries with an identical key overwrite earlier ones at
// query time is not meaningful for a tree keyed on Start with duplicates
// allowed; both survive as distinct nodes and the tie-break rule in the
// data model (either may be returned) applies.
func BuildAsnIndex(entries []AsnEntry) *AsnIndex {
	sorted := make([]AsnEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Key.Start != sorted[j].Key.Start {
			return sorted[i].Key.Start < sorted[j].Key.Start
		}
		return sorted[i].Key.End < sorted[j].Key.End
	})
	return &AsnIndex{root: buildAsnSubtree(sorted)}
}

// buildAsnSubtree builds a reasonably balanced tree from a Start-sorted
// slice by always splitting at the median.
func buildAsnSubtree(sorted []AsnEntry) *asnNode {
	if len(sorted) == 0 {
		return nil
	}
	mid := len(sorted) / 2
	n := &asnNode{
		entry:    sorted[mid].Key,
		serverID: sorted[mid].ServerID,
		maxEnd:   sorted[mid].Key.End,
	}
	n.left = buildAsnSubtree(sorted[:mid])
	n.right = buildAsnSubtree(sorted[mid+1:])
	if n.left != nil && n.left.maxEnd > n.maxEnd {
		n.maxEnd = n.left.maxEnd
	}
	if n.right != nil && n.right.maxEnd > n.maxEnd {
		n.maxEnd = n.right.maxEnd
	}
	return n
}

// LongestMatch returns the narrowest range that encloses q: Start <=
// q.Start and End >= q.End. Ties may return either candidate.
func (t *AsnIndex) LongestMatch(q AsnRange) (AsnEntry, bool) {
	var best asnNode
	found := false
	var walk func(n *asnNode)
	walk = func(n *asnNode) {
		if n == nil || n.maxEnd < q.End {
			return
		}
		walk(n.left)
		if n.entry.Start <= q.Start && n.entry.End >= q.End {
			if !found || n.entry.size() < best.entry.size() {
				best, found = *n, true
			}
		}
		if n.entry.Start <= q.Start {
			walk(n.right)
		}
	}
	walk(t.root)
	if !found {
		return AsnEntry{}, false
	}
	return AsnEntry{Key: best.entry, ServerID: best.serverID}, true
}

// LongestMatchValue is a convenience projection onto LongestMatch's
// server-id.
func (t *AsnIndex) LongestMatchValue(q AsnRange) (int, bool) {
	e, ok := t.LongestMatch(q)
	if !ok {
		return 0, false
	}
	return e.ServerID, true
}
