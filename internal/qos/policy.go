// Package qos holds the QoS object and the RxO compatibility matcher
// (spec.md §4.2).
package qos

import "time"

// PolicyID identifies a QoS policy, used to report the first-violated
// policy back to a listener on a failed match (spec.md §6).
type PolicyID int

const (
	PolicyUserData PolicyID = iota
	PolicyTopicData
	PolicyGroupData
	PolicyDurability
	PolicyDurabilityService
	PolicyPresentation
	PolicyDeadline
	PolicyLatencyBudget
	PolicyOwnership
	PolicyOwnershipStrength
	PolicyLiveliness
	PolicyTimeBasedFilter
	PolicyPartition
	PolicyReliability
	PolicyTransportPriority
	PolicyLifespan
	PolicyDestinationOrder
	PolicyHistory
	PolicyResourceLimits
	PolicyEntityFactory
	PolicyWriterDataLifecycle
	PolicyReaderDataLifecycle
	PolicyWriterBatching
	PolicyIgnoreLocal
	PolicyPropertyList
	PolicyTypeConsistency
	PolicyDataRepresentation
	PolicyEntityName
)

var policyNames = [...]string{
	"USER_DATA", "TOPIC_DATA", "GROUP_DATA", "DURABILITY",
	"DURABILITY_SERVICE", "PRESENTATION", "DEADLINE", "LATENCY_BUDGET",
	"OWNERSHIP", "OWNERSHIP_STRENGTH", "LIVELINESS", "TIME_BASED_FILTER",
	"PARTITION", "RELIABILITY", "TRANSPORT_PRIORITY", "LIFESPAN",
	"DESTINATION_ORDER", "HISTORY", "RESOURCE_LIMITS", "ENTITY_FACTORY",
	"WRITER_DATA_LIFECYCLE", "READER_DATA_LIFECYCLE", "WRITER_BATCHING",
	"IGNORELOCAL", "PROPERTY_LIST", "TYPE_CONSISTENCY",
	"DATA_REPRESENTATION", "ENTITY_NAME",
}

func (p PolicyID) String() string {
	if int(p) >= 0 && int(p) < len(policyNames) {
		return policyNames[p]
	}
	return "UNKNOWN_POLICY"
}

// ReliabilityKind orders BEST_EFFORT < RELIABLE.
type ReliabilityKind int

const (
	BestEffort ReliabilityKind = iota
	Reliable
)

// DurabilityKind orders VOLATILE < TRANSIENT_LOCAL < TRANSIENT < PERSISTENT.
type DurabilityKind int

const (
	Volatile DurabilityKind = iota
	TransientLocal
	Transient
	Persistent
)

// LivelinessKind orders AUTOMATIC < MANUAL_BY_PARTICIPANT < MANUAL_BY_TOPIC.
type LivelinessKind int

const (
	Automatic LivelinessKind = iota
	ManualByParticipant
	ManualByTopic
)

// DestinationOrderKind orders BY_RECEPTION_TIMESTAMP < BY_SOURCE_TIMESTAMP.
type DestinationOrderKind int

const (
	ByReceptionTimestamp DestinationOrderKind = iota
	BySourceTimestamp
)

// OwnershipKind is an exact-match-only policy (spec.md §4.2 rule 6).
type OwnershipKind int

const (
	OwnershipShared OwnershipKind = iota
	OwnershipExclusive
)

// HistoryKind selects KEEP_LAST(depth) vs KEEP_ALL.
type HistoryKind int

const (
	KeepLast HistoryKind = iota
	KeepAll
)

// PresentationAccessScope orders INSTANCE < TOPIC < GROUP.
type PresentationAccessScope int

const (
	ScopeInstance PresentationAccessScope = iota
	ScopeTopic
	ScopeGroup
)

// Infinite is the "infinite" duration sentinel used by Deadline and
// Liveliness lease durations; treated as the maximum value when ordering.
const Infinite = time.Duration(1<<63 - 1)

// Deadline is the DEADLINE policy.
type Deadline struct {
	Period time.Duration
}

// LatencyBudget is the LATENCY_BUDGET policy.
type LatencyBudget struct {
	Duration time.Duration
}

// Liveliness is the LIVELINESS policy.
type Liveliness struct {
	Kind          LivelinessKind
	LeaseDuration time.Duration
}

// DestinationOrder is the DESTINATION_ORDER policy.
type DestinationOrder struct {
	Kind DestinationOrderKind
}

// Presentation is the PRESENTATION policy.
type Presentation struct {
	AccessScope    PresentationAccessScope
	CoherentAccess bool
	OrderedAccess  bool
}

// Partition is the PARTITION policy: a set of glob-pattern names.
type Partition struct {
	Names []string
}

// History is the HISTORY policy.
type History struct {
	Kind  HistoryKind
	Depth int // meaningful only for KeepLast
}

// ResourceLimits is the RESOURCE_LIMITS policy.
type ResourceLimits struct {
	MaxSamples             int // <=0 means unlimited
	MaxInstances           int
	MaxSamplesPerInstance  int
}

// TimeBasedFilter is the TIME_BASED_FILTER policy (reader-only).
type TimeBasedFilter struct {
	MinimumSeparation time.Duration
}

// DataRepresentation is the DATA_REPRESENTATION policy: the set of
// representation ids a writer offers or a reader accepts.
type DataRepresentation struct {
	Values []int32
}

// OwnershipStrength is the OWNERSHIP_STRENGTH policy (writer-only).
type OwnershipStrength struct {
	Value int32
}

// Qos bundles every policy recognized by the matcher (spec.md §6's
// table). TopicName/TypeName are carried alongside for rule 1, but are
// ignored when matching against a built-in-topic writer/reader (those
// lack real topic/type names) per spec.md §4.2's last paragraph.
type Qos struct {
	TopicName string
	TypeName  string
	IsBuiltin bool

	Reliability        ReliabilityKind
	Durability         DurabilityKind
	Deadline           Deadline
	LatencyBudget      LatencyBudget
	Ownership          OwnershipKind
	OwnershipStrength  OwnershipStrength
	Liveliness         Liveliness
	TimeBasedFilter    TimeBasedFilter
	DestinationOrder   DestinationOrder
	Presentation       Presentation
	Partition          Partition
	History            History
	ResourceLimits     ResourceLimits
	DataRepresentation DataRepresentation
}

// Default returns a Qos with the RTPS-conventional defaults: best-effort
// volatile KEEP_LAST(1), no deadline/filter, instance-scope presentation.
func Default(topic, typeName string) Qos {
	return Qos{
		TopicName:     topic,
		TypeName:      typeName,
		Reliability:   BestEffort,
		Durability:    Volatile,
		Deadline:      Deadline{Period: Infinite},
		LatencyBudget: LatencyBudget{Duration: 0},
		Ownership:     OwnershipShared,
		Liveliness:    Liveliness{Kind: Automatic, LeaseDuration: Infinite},
		DestinationOrder: DestinationOrder{Kind: ByReceptionTimestamp},
		Presentation:     Presentation{AccessScope: ScopeInstance},
		History:          History{Kind: KeepLast, Depth: 1},
		DataRepresentation: DataRepresentation{Values: []int32{0}},
	}
}
