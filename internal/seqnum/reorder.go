package seqnum

// Reorder holds samples received out of order, keyed by sequence number,
// and delivers a contiguous prefix as gaps fill in. It is reader-side
// state: one instance per matched writer while that match is
// OUT_OF_SYNC/TL_CATCHUP.
type Reorder struct {
	delivered SeqNum              // highest seq already handed to the application
	pending   map[SeqNum]any      // seq -> opaque sample payload, seq > delivered
}

// NewReorder creates a reorder buffer that has delivered everything up to
// and including deliveredUpTo (use Sentinel if nothing has been delivered).
func NewReorder(deliveredUpTo SeqNum) *Reorder {
	if deliveredUpTo.None() {
		deliveredUpTo = 0
	}
	return &Reorder{
		delivered: deliveredUpTo,
		pending:   make(map[SeqNum]any),
	}
}

// Delivered returns the highest sequence number handed to the application.
func (r *Reorder) Delivered() SeqNum {
	return r.delivered
}

// Receive accepts a sample at seq. It returns the contiguous run of
// samples (starting at seq if seq == delivered+1) now ready for
// delivery, in order, and advances Delivered() past them. If seq does
// not extend the contiguous prefix, the sample is buffered and nil is
// returned.
func (r *Reorder) Receive(seq SeqNum, payload any) []any {
	if seq <= r.delivered {
		return nil // duplicate or stale
	}
	if seq != r.delivered+1 {
		r.pending[seq] = payload
		return nil
	}

	out := []any{payload}
	next := seq + 1
	for {
		p, ok := r.pending[next]
		if !ok {
			break
		}
		out = append(out, p)
		delete(r.pending, next)
		next++
	}
	r.delivered = next - 1
	return out
}

// Gap instructs the buffer to give up waiting for [from, to]: those
// sequence numbers are treated as never-coming, and delivery resumes
// from whatever contiguous run now follows. Returns newly deliverable
// samples, same as Receive.
func (r *Reorder) Gap(from, to SeqNum) []any {
	if to <= r.delivered {
		return nil
	}
	if from <= r.delivered+1 {
		r.delivered = to
	} else {
		return nil // gap doesn't touch the contiguous frontier yet
	}

	out := []any{}
	next := r.delivered + 1
	for {
		p, ok := r.pending[next]
		if !ok {
			break
		}
		out = append(out, p)
		delete(r.pending, next)
		next++
	}
	r.delivered = next - 1
	if len(out) == 0 {
		return nil
	}
	return out
}

// Missing returns the set of sequence numbers in (delivered, upTo] that
// have not yet been buffered — the candidate nack set.
func (r *Reorder) Missing(upTo SeqNum) []SeqNum {
	var missing []SeqNum
	for s := r.delivered + 1; s <= upTo; s++ {
		if _, ok := r.pending[s]; !ok {
			missing = append(missing, s)
		}
	}
	return missing
}

// PendingCount returns the number of buffered out-of-order samples.
func (r *Reorder) PendingCount() int {
	return len(r.pending)
}
