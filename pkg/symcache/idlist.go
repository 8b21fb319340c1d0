package symcache

import "sort"

// idListInline is the number of ids an IdList can hold without allocating.
// The overwhelming majority of symbols carry no per-setting restriction at
// all, and of those that do, most name only a handful of ids — this keeps
// the common "no restriction" case down to a single length check.
const idListInline = 4

// IdList is a compact set of small non-negative 32-bit setting ids with
// frequent membership tests. Up to idListInline members it stores ids
// inline and scans linearly; beyond that it spills to a sorted slice and
// binary-searches.
type IdList struct {
	inline    [idListInline]int32
	inlineLen int
	overflow  []int32 // sorted, deduplicated; nil until needed
}

// Empty reports whether the list carries no ids at all — the "no
// restriction" case for allowed/forbidden/exec-only semantics.
func (l *IdList) Empty() bool {
	return l.inlineLen == 0 && len(l.overflow) == 0
}

// Insert adds id to the set. Idempotent.
func (l *IdList) Insert(id int32) {
	if l.Contains(id) {
		return
	}
	if l.overflow == nil && l.inlineLen < idListInline {
		l.inline[l.inlineLen] = id
		l.inlineLen++
		return
	}
	l.spill()
	idx := sort.Search(len(l.overflow), func(i int) bool { return l.overflow[i] >= id })
	l.overflow = append(l.overflow, 0)
	copy(l.overflow[idx+1:], l.overflow[idx:])
	l.overflow[idx] = id
}

// Contains reports set membership.
func (l *IdList) Contains(id int32) bool {
	if l.overflow != nil {
		idx := sort.Search(len(l.overflow), func(i int) bool { return l.overflow[i] >= id })
		return idx < len(l.overflow) && l.overflow[idx] == id
	}
	for i := 0; i < l.inlineLen; i++ {
		if l.inline[i] == id {
			return true
		}
	}
	return false
}

// spill migrates the inline ids into the overflow slice, sorted.
func (l *IdList) spill() {
	if l.overflow != nil {
		return
	}
	l.overflow = make([]int32, l.inlineLen, l.inlineLen+1)
	copy(l.overflow, l.inline[:l.inlineLen])
	sort.Slice(l.overflow, func(i, j int) bool { return l.overflow[i] < l.overflow[j] })
	l.inlineLen = 0
}

// Reset clears the list back to empty, reusing the inline array and
// dropping any overflow slice.
func (l *IdList) Reset() {
	l.inlineLen = 0
	l.overflow = nil
}

// Len returns the number of distinct ids currently stored.
func (l *IdList) Len() int {
	if l.overflow != nil {
		return len(l.overflow)
	}
	return l.inlineLen
}
