// Package tkmap interns (topic, key-hash) pairs into stable numeric
// instance ids (iid), per spec.md §3's InstanceId: "a stable numeric
// handle minted per distinct (topic, key-hash) pair. Lives as long as
// any reader or writer references it."
package tkmap

import (
	"sync"

	"github.com/rtpsmesh/ddscore/internal/serdata"
)

// InstanceID is a process-local handle for a (topic, key-hash) pair.
type InstanceID uint64

type tkKey struct {
	topic string
	key   serdata.KeyHash
}

// Map interns (topic, key-hash) pairs into InstanceIDs, refcounted so an
// instance id is retired only once every referencing reader/writer has
// released it.
type Map struct {
	mu       sync.Mutex
	next     InstanceID
	byKey    map[tkKey]InstanceID
	refcount map[InstanceID]int
	idToKey  map[InstanceID]tkKey
}

// New creates an empty instance map.
func New() *Map {
	return &Map{
		byKey:    make(map[tkKey]InstanceID),
		refcount: make(map[InstanceID]int),
		idToKey:  make(map[InstanceID]tkKey),
	}
}

// Intern returns the InstanceID for (topic, key), minting a new one if
// this is the first reference, and increments its refcount.
func (m *Map) Intern(topic string, key serdata.KeyHash) InstanceID {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := tkKey{topic: topic, key: key}
	id, ok := m.byKey[k]
	if !ok {
		m.next++
		id = m.next
		m.byKey[k] = id
		m.idToKey[id] = k
	}
	m.refcount[id]++
	return id
}

// Release decrements the refcount for id, retiring it once it reaches
// zero. Returns true if the instance id was retired by this call.
func (m *Map) Release(id InstanceID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refcount[id]--
	if m.refcount[id] > 0 {
		return false
	}

	delete(m.refcount, id)
	if k, ok := m.idToKey[id]; ok {
		delete(m.byKey, k)
		delete(m.idToKey, id)
	}
	return true
}

// Lookup returns the InstanceID already interned for (topic, key),
// without minting a new one or changing its refcount.
func (m *Map) Lookup(topic string, key serdata.KeyHash) (InstanceID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byKey[tkKey{topic: topic, key: key}]
	return id, ok
}

// RefCount returns the current refcount for id, for diagnostics/tests.
func (m *Map) RefCount(id InstanceID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refcount[id]
}

// Len returns the number of currently-live instance ids.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byKey)
}
