// Package ddsevents dispatches entity status changes to listeners
// (spec.md §4.7's STATUS_CB_IMPL) and, when a JetStream context is
// attached, mirrors built-in discovery topic changes onto durable NATS
// subjects for external observability consumers — a side channel, never
// a backing store for WHC/RHC state.
package ddsevents

import "github.com/rtpsmesh/ddscore/internal/guid"

// StatusKind enumerates the status-change notifications the core can
// raise (spec.md §4.5/§4.6's listener callbacks).
type StatusKind string

const (
	StatusPublicationMatched    StatusKind = "PUBLICATION_MATCHED"
	StatusSubscriptionMatched   StatusKind = "SUBSCRIPTION_MATCHED"
	StatusRequestedIncompatible StatusKind = "REQUESTED_INCOMPATIBLE_QOS"
	StatusOfferedIncompatible   StatusKind = "OFFERED_INCOMPATIBLE_QOS"
	StatusLivelinessLost        StatusKind = "LIVELINESS_LOST"
	StatusLivelinessChanged     StatusKind = "LIVELINESS_CHANGED"
	StatusSampleRejected        StatusKind = "SAMPLE_REJECTED"
	StatusSampleLost            StatusKind = "SAMPLE_LOST"
	StatusDataAvailable         StatusKind = "DATA_AVAILABLE"
	StatusDataOnReaders         StatusKind = "DATA_ON_READERS"

	// StatusDiscoveryAlive/StatusDiscoveryGone are not DDS listener
	// statuses; they drive the built-in-topic JetStream mirror only.
	StatusDiscoveryAlive StatusKind = "DISCOVERY_ALIVE"
	StatusDiscoveryGone  StatusKind = "DISCOVERY_GONE"
)

// Event is one status change raised against an entity.
type Event struct {
	Kind   StatusKind
	Entity guid.GUID

	// Count is the "total_count_change"-style delta DDS status structs
	// carry (e.g. PUBLICATION_MATCHED(-1) on teardown).
	Count int32

	// Policy names the first-incompatible-policy id as a string, set
	// only for *_INCOMPATIBLE_QOS events.
	Policy string

	// Topic is set for discovery mirror events.
	Topic string
}
