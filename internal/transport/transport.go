// Package transport defines the submessage shapes the core exchanges
// with the wire layer (spec.md §6): the core only ever sees these
// fields, never the surrounding RTPS frame, locator, or encryption —
// that is an external collaborator's job.
package transport

import (
	"github.com/rtpsmesh/ddscore/internal/guid"
	"github.com/rtpsmesh/ddscore/internal/seqnum"
)

// Data carries one full sample.
type Data struct {
	WriterGUID guid.GUID
	ReaderGUID guid.GUID // zero value means "unicast to no one in particular" / multicast
	Seq        seqnum.SeqNum
	Payload    []byte
	InlineQos  []byte
}

// DataFrag carries one fragment of a sample too large for one Data.
type DataFrag struct {
	WriterGUID guid.GUID
	ReaderGUID guid.GUID
	Seq        seqnum.SeqNum
	FragNum    uint32
	FragSize   uint32
	SampleSize uint32
	Payload    []byte
}

// Heartbeat announces a writer's [first, last] window.
type Heartbeat struct {
	WriterGUID guid.GUID
	ReaderGUID guid.GUID
	First      seqnum.SeqNum
	Last       seqnum.SeqNum
	Count      int64
	Final      bool
	Liveliness bool // a liveliness-only heartbeat, not tied to new data
}

// HeartbeatFrag announces the fragment count available for a
// partially-sent large sample.
type HeartbeatFrag struct {
	WriterGUID  guid.GUID
	ReaderGUID  guid.GUID
	Seq         seqnum.SeqNum
	LastFragNum uint32
	Count       int64
}

// AckNack is the reader's acknowledgement plus missing-fragment
// request: Base is the first unreceived seq, Bitmap marks further gaps
// above Base.
type AckNack struct {
	ReaderGUID guid.GUID
	WriterGUID guid.GUID
	Base       seqnum.SeqNum
	Bitmap     *seqnum.Bitmap
	Count      int64
	Final      bool
}

// NackFrag requests retransmission of specific fragments of one sample.
type NackFrag struct {
	ReaderGUID guid.GUID
	WriterGUID guid.GUID
	Seq        seqnum.SeqNum
	Bitmap     *seqnum.Bitmap
	Count      int64
}

// Gap tells a reader that a seqno range will never be sent (already
// dropped from the WHC, or irrelevant).
type Gap struct {
	WriterGUID guid.GUID
	ReaderGUID guid.GUID
	Start      seqnum.SeqNum
	Bitmap     *seqnum.Bitmap
}

// Sender is the outbound half of the transport boundary: the core
// calls these to emit submessages, oblivious to framing/locators.
type Sender interface {
	SendData(Data)
	SendDataFrag(DataFrag)
	SendHeartbeat(Heartbeat)
	SendHeartbeatFrag(HeartbeatFrag)
	SendAckNack(AckNack)
	SendNackFrag(NackFrag)
	SendGap(Gap)
}

// Loopback is a Sender that delivers directly to in-process peers
// instead of a network — the default for same-process pub/sub and for
// tests.
type Loopback struct {
	OnData          func(Data)
	OnDataFrag      func(DataFrag)
	OnHeartbeat     func(Heartbeat)
	OnHeartbeatFrag func(HeartbeatFrag)
	OnAckNack       func(AckNack)
	OnNackFrag      func(NackFrag)
	OnGap           func(Gap)
}

func (l *Loopback) SendData(d Data) {
	if l.OnData != nil {
		l.OnData(d)
	}
}
func (l *Loopback) SendDataFrag(d DataFrag) {
	if l.OnDataFrag != nil {
		l.OnDataFrag(d)
	}
}
func (l *Loopback) SendHeartbeat(h Heartbeat) {
	if l.OnHeartbeat != nil {
		l.OnHeartbeat(h)
	}
}
func (l *Loopback) SendHeartbeatFrag(h HeartbeatFrag) {
	if l.OnHeartbeatFrag != nil {
		l.OnHeartbeatFrag(h)
	}
}
func (l *Loopback) SendAckNack(a AckNack) {
	if l.OnAckNack != nil {
		l.OnAckNack(a)
	}
}
func (l *Loopback) SendNackFrag(n NackFrag) {
	if l.OnNackFrag != nil {
		l.OnNackFrag(n)
	}
}
func (l *Loopback) SendGap(g Gap) {
	if l.OnGap != nil {
		l.OnGap(g)
	}
}

var _ Sender = (*Loopback)(nil)
