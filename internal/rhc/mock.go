package rhc

import (
	"sync"

	"github.com/rtpsmesh/ddscore/internal/serdata"
	"github.com/rtpsmesh/ddscore/internal/tkmap"
)

// Mock is the minimal RHC implementation of spec.md §9's "at least two
// implementations" guidance: a flat unbounded queue with no history
// bounding, filtering, or ownership arbitration, for exercising higher
// layers (matcher, reliable delivery) without the real store's
// bookkeeping.
type Mock struct {
	mu       sync.Mutex
	samples  []Sample
	accept   bool
}

// NewMock creates a Mock RHC. When accept is false, Store always
// rejects — useful for exercising a writer's retransmit/backpressure
// path against a reader that never drains.
func NewMock(accept bool) *Mock {
	return &Mock{accept: accept}
}

func (m *Mock) Store(wi WriterInfo, sd *serdata.Serdata, tk tkmap.InstanceID) bool {
	if !m.accept {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, Sample{
		Instance:       tk,
		Serdata:        sd,
		SampleState:    NotRead,
		ViewState:      New,
		InstanceState:  Alive,
		WriterInstance: wi.WriterIID,
	})
	return true
}

func (m *Mock) Take(spec ReadSpec) []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.samples
	m.samples = nil
	return out
}

func (m *Mock) Read(spec ReadSpec) []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sample, len(m.samples))
	copy(out, m.samples)
	return out
}

func (m *Mock) HasDataAvailable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.samples) > 0
}

func (m *Mock) InstanceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[tkmap.InstanceID]bool)
	for _, s := range m.samples {
		seen[s.Instance] = true
	}
	return len(seen)
}

var _ RHC = (*Mock)(nil)
