package qos

import "time"

// MatchResult is either a match or carries the first incompatible
// policy id, for listener reporting (spec.md §4.2).
type MatchResult struct {
	Compatible bool
	FirstBad   PolicyID
}

func ok() MatchResult                { return MatchResult{Compatible: true} }
func bad(p PolicyID) MatchResult     { return MatchResult{Compatible: false, FirstBad: p} }

// Match evaluates reader QoS r against writer QoS w following the
// ordered rule list in spec.md §4.2, returning the first violated
// policy if any. Matching is symmetric: Match(r, w) and the reversed
// call on the peer's own r/w pairing always agree, since every rule
// below is a pure function of (r, w) with no hidden state.
func Match(r, w Qos) MatchResult {
	// Rule 1: topic/type name, skipped when matching against a built-in
	// writer/reader (they carry no real topic/type names).
	if !r.IsBuiltin && !w.IsBuiltin {
		if r.TopicName != w.TopicName || r.TypeName != w.TypeName {
			return bad(PolicyTopicData)
		}
	}

	// Rule 2: reliability, R.kind <= W.kind on BEST_EFFORT < RELIABLE.
	if r.Reliability > w.Reliability {
		return bad(PolicyReliability)
	}

	// Rule 3: durability, ordered VOLATILE < TRANSIENT_LOCAL < TRANSIENT < PERSISTENT.
	if r.Durability > w.Durability {
		return bad(PolicyDurability)
	}

	// Rule 4: deadline, R.period <= W.period (Infinite is the maximum).
	if durLess(w.Deadline.Period, r.Deadline.Period) {
		return bad(PolicyDeadline)
	}

	// Rule 5: latency budget, R.duration <= W.duration.
	if w.LatencyBudget.Duration < r.LatencyBudget.Duration {
		return bad(PolicyLatencyBudget)
	}

	// Rule 6: ownership kind must be identical.
	if r.Ownership != w.Ownership {
		return bad(PolicyOwnership)
	}

	// Rule 7: liveliness, R.kind <= W.kind and R.lease <= W.lease.
	if r.Liveliness.Kind > w.Liveliness.Kind {
		return bad(PolicyLiveliness)
	}
	if durLess(w.Liveliness.LeaseDuration, r.Liveliness.LeaseDuration) {
		return bad(PolicyLiveliness)
	}

	// Rule 8: destination order, R.kind <= W.kind.
	if r.DestinationOrder.Kind > w.DestinationOrder.Kind {
		return bad(PolicyDestinationOrder)
	}

	// Rule 9: presentation: access_scope ordered, coherent/ordered required<=offered.
	if r.Presentation.AccessScope > w.Presentation.AccessScope {
		return bad(PolicyPresentation)
	}
	if r.Presentation.CoherentAccess && !w.Presentation.CoherentAccess {
		return bad(PolicyPresentation)
	}
	if r.Presentation.OrderedAccess && !w.Presentation.OrderedAccess {
		return bad(PolicyPresentation)
	}

	// Rule 10: partition, at least one (r,w) pair glob-matches.
	if !partitionsMatch(r.Partition.Names, w.Partition.Names) {
		return bad(PolicyPartition)
	}

	// Rule 11: data representation, intersection must be non-empty.
	if !representationsIntersect(r.DataRepresentation.Values, w.DataRepresentation.Values) {
		return bad(PolicyDataRepresentation)
	}

	return ok()
}

// durLess reports whether a < b. Both sides may be Infinite; ordinary
// time.Duration comparison already treats Infinite as the maximum since
// it's defined as the largest representable duration.
func durLess(a, b time.Duration) bool {
	return a < b
}
