package ddsevents

import (
	"fmt"

	"github.com/nats-io/nats.go"
)

const (
	// StreamDiscovery is the JetStream stream mirroring built-in topic
	// (DCPSParticipant/Topic/Publication/Subscription) changes.
	StreamDiscovery = "DDS_DISCOVERY"

	// SubjectDiscoveryPrefix namespaces discovery subjects by built-in
	// topic name: "discovery.<topic>".
	SubjectDiscoveryPrefix = "discovery."
)

// SubjectForTopic returns the mirror subject for a built-in topic name.
func SubjectForTopic(topic string) string {
	return SubjectDiscoveryPrefix + topic
}

// EnsureStreams creates the discovery mirror stream if absent. Called
// once at daemon startup when JetStream is enabled.
func EnsureStreams(js nats.JetStreamContext) error {
	if _, err := js.StreamInfo(StreamDiscovery); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:     StreamDiscovery,
			Subjects: []string{SubjectDiscoveryPrefix + ">"},
			Storage:  nats.FileStorage,
			MaxMsgs:  10000,
			MaxBytes: 100 << 20,
		})
		if err != nil {
			return fmt.Errorf("ddsevents: create %s stream: %w", StreamDiscovery, err)
		}
	}
	return nil
}
