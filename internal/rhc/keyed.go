package rhc

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/rtpsmesh/ddscore/internal/qos"
	"github.com/rtpsmesh/ddscore/internal/serdata"
	"github.com/rtpsmesh/ddscore/internal/tkmap"
)

// rhcMetrics holds OTel metric instruments for the reader history
// cache, registered against the global delegating provider at import
// time the same way the writer history cache's instruments are.
var rhcMetrics struct {
	accepted metric.Int64Counter
	rejected metric.Int64Counter
	filtered metric.Int64Counter
	lost     metric.Int64Counter
}

func init() {
	m := otel.Meter("github.com/rtpsmesh/ddscore/internal/rhc")
	rhcMetrics.accepted, _ = m.Int64Counter("ddscore.rhc.accepted",
		metric.WithDescription("Samples accepted into a reader history cache"),
		metric.WithUnit("{sample}"),
	)
	rhcMetrics.rejected, _ = m.Int64Counter("ddscore.rhc.rejected",
		metric.WithDescription("Samples rejected by RESOURCE_LIMITS or ownership arbitration"),
		metric.WithUnit("{sample}"),
	)
	rhcMetrics.filtered, _ = m.Int64Counter("ddscore.rhc.filtered",
		metric.WithDescription("Samples dropped by TIME_BASED_FILTER"),
		metric.WithUnit("{sample}"),
	)
	rhcMetrics.lost, _ = m.Int64Counter("ddscore.rhc.sample_lost",
		metric.WithDescription("Samples discarded because their source timestamp regressed for the originating writer"),
		metric.WithUnit("{sample}"),
	)
}

// SampleLostFunc is invoked once per sample discarded because its
// source timestamp moved backward relative to the last sample accepted
// from the same writer — spec.md §4.4's SAMPLE_LOST trigger, distinct
// from an ordinary TIME_BASED_FILTER drop (which is neither lost nor an
// error, just deferred).
type SampleLostFunc func(inst tkmap.InstanceID, writerIID uint64)

type slot struct {
	sd      *serdata.Serdata
	state   SampleState
	srcTS   time.Time
	rxTS    time.Time
	writer  uint64
}

type instance struct {
	state               InstanceState
	view                ViewState
	queue               []*slot
	disposedGeneration  int
	noWritersGeneration int
	owningWriter        uint64
	owningStrength      int32
	writers             map[uint64]bool
	lastAcceptedTime    time.Time
	hasLastAccepted     bool
	lastSourceTime      map[uint64]time.Time // per-writer, for SAMPLE_LOST detection
}

// Keyed is the real RHC: per-instance sample queues bounded by QoS
// HISTORY/RESOURCE_LIMITS, with time-based filtering and exclusive
// ownership arbitration.
type Keyed struct {
	mu sync.Mutex

	history      qos.History
	resourceLim  qos.ResourceLimits
	minSeparation time.Duration
	exclusive    bool
	reliable     bool

	instances map[tkmap.InstanceID]*instance
	order     []tkmap.InstanceID // stable instance iteration order

	onSampleLost SampleLostFunc
}

// SetSampleLostListener registers fn to be called (outside k's lock)
// whenever Store discards a sample for a regressed source timestamp.
// Optional; a nil listener just leaves the condition counted in
// rhcMetrics.lost.
func (k *Keyed) SetSampleLostListener(fn SampleLostFunc) {
	k.mu.Lock()
	k.onSampleLost = fn
	k.mu.Unlock()
}

// NewKeyed creates the real RHC implementation, parameterized by the
// reader's effective QoS (HISTORY, RESOURCE_LIMITS, TIME_BASED_FILTER,
// OWNERSHIP, RELIABILITY).
func NewKeyed(q qos.Qos) *Keyed {
	return &Keyed{
		history:       q.History,
		resourceLim:   q.ResourceLimits,
		minSeparation: q.TimeBasedFilter.MinimumSeparation,
		exclusive:     q.Ownership == qos.OwnershipExclusive,
		reliable:      q.Reliability == qos.Reliable,
		instances:     make(map[tkmap.InstanceID]*instance),
	}
}

func (k *Keyed) getOrCreate(tk tkmap.InstanceID) *instance {
	inst, ok := k.instances[tk]
	if !ok {
		inst = &instance{state: Alive, view: New, writers: make(map[uint64]bool), lastSourceTime: make(map[uint64]time.Time)}
		k.instances[tk] = inst
		k.order = append(k.order, tk)
	}
	return inst
}

func (k *Keyed) Store(wi WriterInfo, sd *serdata.Serdata, tk tkmap.InstanceID) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	inst := k.getOrCreate(tk)
	now := time.Now()

	if k.exclusive && len(inst.queue) > 0 {
		if wi.Strength < inst.owningStrength {
			rhcMetrics.rejected.Add(context.Background(), 1)
			return false
		}
		if wi.Strength > inst.owningStrength {
			inst.owningWriter = wi.WriterIID
			inst.owningStrength = wi.Strength
		}
	} else if k.exclusive {
		inst.owningWriter = wi.WriterIID
		inst.owningStrength = wi.Strength
	}

	if last, ok := inst.lastSourceTime[wi.WriterIID]; ok && sd.SourceTimestamp().Before(last) {
		rhcMetrics.lost.Add(context.Background(), 1)
		if k.onSampleLost != nil {
			fn, instID, writerIID := k.onSampleLost, tk, wi.WriterIID
			k.mu.Unlock()
			fn(instID, writerIID)
			k.mu.Lock()
		}
		return false
	}
	inst.lastSourceTime[wi.WriterIID] = sd.SourceTimestamp()

	switch sd.Kind() {
	case serdata.KindKey:
		if sd.StatusInfo().Dispose() {
			inst.state = NotAliveDisposed
			inst.disposedGeneration++
		}
		if sd.StatusInfo().Unregister() {
			delete(inst.writers, wi.WriterIID)
			if len(inst.writers) == 0 {
				inst.state = NotAliveNoWriters
				inst.noWritersGeneration++
			}
		}
		k.appendLocked(inst, sd, wi.WriterIID, now)
		rhcMetrics.accepted.Add(context.Background(), 1)
		return true
	}

	// KindData.
	if k.minSeparation > 0 && inst.hasLastAccepted && now.Sub(inst.lastAcceptedTime) < k.minSeparation {
		rhcMetrics.filtered.Add(context.Background(), 1)
		return false // filtered, not lost
	}

	if !inst.writers[wi.WriterIID] {
		inst.writers[wi.WriterIID] = true
		inst.view = New
	}
	inst.state = Alive
	inst.lastAcceptedTime = now
	inst.hasLastAccepted = true

	if !k.admitLocked(inst) {
		rhcMetrics.rejected.Add(context.Background(), 1)
		return false
	}

	k.appendLocked(inst, sd, wi.WriterIID, now)
	rhcMetrics.accepted.Add(context.Background(), 1)
	return true
}

// admitLocked enforces HISTORY/RESOURCE_LIMITS before a new sample is
// appended, evicting or rejecting as spec.md §4.4 describes.
func (k *Keyed) admitLocked(inst *instance) bool {
	if k.history.Kind == qos.KeepLast && k.history.Depth > 0 {
		for len(inst.queue) >= k.history.Depth {
			if !k.evictOldestLocked(inst) {
				break
			}
		}
		return true
	}

	limit := k.resourceLim.MaxSamplesPerInstance
	if limit <= 0 {
		return true
	}
	if len(inst.queue) < limit {
		return true
	}
	if k.reliable {
		return false
	}
	k.evictOldestLocked(inst)
	return true
}

// evictOldestLocked drops the oldest NOT_READ sample, preferring not to
// drop the single most recent slot (which may carry the instance's
// latest state-change marker). Returns false if nothing could be
// evicted.
func (k *Keyed) evictOldestLocked(inst *instance) bool {
	if len(inst.queue) == 0 {
		return false
	}
	limit := len(inst.queue) - 1
	for i := 0; i < limit; i++ {
		if inst.queue[i].state == NotRead {
			inst.queue = append(inst.queue[:i], inst.queue[i+1:]...)
			return true
		}
	}
	if len(inst.queue) > 1 {
		inst.queue = inst.queue[1:]
		return true
	}
	return false
}

func (k *Keyed) appendLocked(inst *instance, sd *serdata.Serdata, writerIID uint64, now time.Time) {
	inst.queue = append(inst.queue, &slot{sd: sd, state: NotRead, srcTS: sd.SourceTimestamp(), rxTS: now, writer: writerIID})
}

func matchMask(mask, bit Mask) bool { return mask&bit != 0 }

func sampleBit(s SampleState) Mask {
	if s == Read {
		return MaskSampleRead
	}
	return MaskSampleNotRead
}

func viewBit(v ViewState) Mask {
	if v == NotNew {
		return MaskViewNotNew
	}
	return MaskViewNew
}

func instanceBit(s InstanceState) Mask {
	switch s {
	case NotAliveDisposed:
		return MaskInstanceDisposed
	case NotAliveNoWriters:
		return MaskInstanceNoWriters
	default:
		return MaskInstanceAlive
	}
}

func (k *Keyed) collect(spec ReadSpec, remove bool) []Sample {
	k.mu.Lock()
	defer k.mu.Unlock()

	max := spec.MaxSamples
	if max <= 0 {
		max = 1 << 30
	}

	var out []Sample
	for _, tkID := range k.order {
		inst, ok := k.instances[tkID]
		if !ok || !matchMask(spec.InstanceStates, instanceBit(inst.state)) {
			continue
		}
		matchedAny := false
		kept := inst.queue[:0:0]
		for _, sl := range inst.queue {
			if len(out) >= max {
				kept = append(kept, sl)
				continue
			}
			if matchMask(spec.SampleStates, sampleBit(sl.state)) && matchMask(spec.ViewStates, viewBit(inst.view)) {
				out = append(out, Sample{
					Instance:      tkID,
					Serdata:       sl.sd,
					SampleState:   sl.state,
					ViewState:     inst.view,
					InstanceState: inst.state,
					SourceTime:    sl.srcTS,
					ReceptionTime: sl.rxTS,
					WriterInstance: sl.writer,
				})
				matchedAny = true
				if remove {
					continue
				}
				sl.state = Read
			}
			kept = append(kept, sl)
		}
		inst.queue = kept
		if matchedAny {
			inst.view = NotNew
		}
	}
	return out
}

func (k *Keyed) Take(spec ReadSpec) []Sample { return k.collect(spec, true) }
func (k *Keyed) Read(spec ReadSpec) []Sample { return k.collect(spec, false) }

func (k *Keyed) HasDataAvailable() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, inst := range k.instances {
		for _, sl := range inst.queue {
			if sl.state == NotRead {
				return true
			}
		}
	}
	return false
}

func (k *Keyed) InstanceCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.instances)
}

var _ RHC = (*Keyed)(nil)
