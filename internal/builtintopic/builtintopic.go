// Package builtintopic implements the built-in discovery WHC of spec.md
// §2 (component 11): a virtual Writer History Cache whose instances are
// not user data but snapshots of the live entity index — one DATA sample
// per participant, topic, publication (writer), or subscription
// (reader), keyed by the entity's GUID. It satisfies the same whc.WHC
// contract as a user writer's cache so readers (local or remote, via the
// DCPSParticipant/Topic/Publication/Subscription built-in topics) can
// consume it identically.
package builtintopic

import (
	"context"
	"time"

	"github.com/rtpsmesh/ddscore/internal/guid"
	"github.com/rtpsmesh/ddscore/internal/qos"
	"github.com/rtpsmesh/ddscore/internal/serdata"
	"github.com/rtpsmesh/ddscore/internal/seqnum"
	"github.com/rtpsmesh/ddscore/internal/tkmap"
	"github.com/rtpsmesh/ddscore/internal/whc"
)

// Topic names the four built-in discovery topics.
type Topic string

const (
	TopicParticipant Topic = "DCPSParticipant"
	TopicTopic       Topic = "DCPSTopic"
	TopicPublication Topic = "DCPSPublication"
	TopicSubscription Topic = "DCPSSubscription"
)

// ParticipantInfo, TopicInfo, EndpointInfo are the payload shapes
// serialized into built-in topic samples. The core treats the
// serialized bytes as opaque (spec.md §1); this package only needs a
// stable encoding to round-trip them for local delivery.
type ParticipantInfo struct {
	GUID guid.GUID
}

type TopicInfo struct {
	GUID     guid.GUID
	Name     string
	TypeName string
	Qos      qos.Qos
}

type EndpointInfo struct {
	GUID             guid.GUID
	ParticipantGUID  guid.GUID
	TopicName        string
	TypeName         string
	Qos              qos.Qos
}

// WHC is the built-in-topic virtual cache for one of the four topics.
// Built-in topics are always KEEP_LAST(1) keyed by GUID: a live entity
// has exactly one outstanding sample, updated in place.
type WHC struct {
	*whc.Keyed
	topic Topic
	tk    *tkmap.Map
	seq   seqnum.SeqNum
}

// New creates the virtual WHC for one built-in topic.
func New(topic Topic) *WHC {
	return &WHC{
		Keyed: whc.NewKeyed(true, 1),
		topic: topic,
		tk:    tkmap.New(),
		seq:   seqnum.Sentinel,
	}
}

func (w *WHC) nextSeq() seqnum.SeqNum {
	if w.seq.None() {
		w.seq = 1
	} else {
		w.seq++
	}
	return w.seq
}

func keyHashForGUID(g guid.GUID) serdata.KeyHash {
	var kh serdata.KeyHash
	copy(kh[:12], g.Prefix[:])
	copy(kh[12:], g.EntityID[:])
	return kh
}

// PublishAlive inserts or refreshes the sample for entity g, encoding
// payload as an opaque blob (the caller-provided encode function; real
// wire encoding is an external collaborator's job per spec.md §1).
func (w *WHC) PublishAlive(g guid.GUID, encode func() []byte) error {
	key := keyHashForGUID(g)
	inst := w.tk.Intern(string(w.topic), key)
	sd := serdata.New(serdata.KindData, key, time.Now(), 0, encode())
	return w.Insert(context.Background(), w.nextSeq(), time.Time{}, sd, inst)
}

// PublishDisposed marks an entity's instance NOT_ALIVE_DISPOSED (the
// entity left: participant lost, endpoint deleted). The key-only sample
// carries no payload.
func (w *WHC) PublishDisposed(g guid.GUID) error {
	key := keyHashForGUID(g)
	inst := w.tk.Intern(string(w.topic), key)
	sd := serdata.New(serdata.KindKey, key, time.Now(), serdata.StatusDispose, nil)
	return w.Insert(context.Background(), w.nextSeq(), time.Time{}, sd, inst)
}

