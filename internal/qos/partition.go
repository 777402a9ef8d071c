package qos

import "path/filepath"

// partitionsMatch implements rule 10 of spec.md §4.2: at least one pair
// (r, w) with r in readerNames, w in writerNames matches as glob
// patterns ('*', '?'). An empty partition set matches only the empty
// partition name. Two names that both contain wildcards never match,
// even when textually identical: a pattern is only ever matched
// against a concrete name, in either direction.
func partitionsMatch(readerNames, writerNames []string) bool {
	rs := readerNames
	if len(rs) == 0 {
		rs = []string{""}
	}
	ws := writerNames
	if len(ws) == 0 {
		ws = []string{""}
	}

	for _, r := range rs {
		for _, w := range ws {
			if partitionPairMatches(r, w) {
				return true
			}
		}
	}
	return false
}

func partitionPairMatches(r, w string) bool {
	rHasGlob := hasGlob(r)
	wHasGlob := hasGlob(w)

	// Two wildcard patterns never match each other, even when identical.
	if rHasGlob && wHasGlob {
		return false
	}
	if r == w {
		return true
	}
	if rHasGlob {
		matched, err := filepath.Match(r, w)
		return err == nil && matched
	}
	if wHasGlob {
		matched, err := filepath.Match(w, r)
		return err == nil && matched
	}
	return false
}

func hasGlob(s string) bool {
	for _, c := range s {
		if c == '*' || c == '?' {
			return true
		}
	}
	return false
}

// representationsIntersect implements rule 11: the intersection of the
// two allowed-representation sets must be non-empty. An empty set on
// either side is treated as "representation 0 (XCDR1) only", matching
// the spec's implied default.
func representationsIntersect(readerValues, writerValues []int32) bool {
	rv := readerValues
	if len(rv) == 0 {
		rv = []int32{0}
	}
	wv := writerValues
	if len(wv) == 0 {
		wv = []int32{0}
	}

	set := make(map[int32]struct{}, len(wv))
	for _, v := range wv {
		set[v] = struct{}{}
	}
	for _, v := range rv {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}
