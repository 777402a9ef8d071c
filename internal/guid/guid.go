// Package guid implements the GUID identifier of spec.md §3: a 16-byte
// identifier split into a 12-byte participant prefix and a 4-byte entity
// id. Entity ids encode kind (writer/reader/topic/...) and a source bit
// (user/builtin/vendor).
package guid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Prefix is the 12-byte participant prefix, unique for the lifetime of a
// participant.
type Prefix [12]byte

// EntityKind identifies what kind of entity an EntityID names.
type EntityKind byte

const (
	KindUnknown EntityKind = iota
	KindParticipant
	KindWriter
	KindReader
	KindTopic
)

// Source distinguishes user-created entities from built-in (discovery)
// and vendor-specific ones.
type Source byte

const (
	SourceUser Source = iota
	SourceBuiltin
	SourceVendor
)

// EntityID is the 4-byte suffix: 3 bytes of a per-participant counter
// plus 1 byte encoding kind and source.
type EntityID [4]byte

// NewEntityID packs a counter, kind, and source into an EntityID.
func NewEntityID(counter uint32, kind EntityKind, src Source) EntityID {
	var id EntityID
	id[0] = byte(counter >> 16)
	id[1] = byte(counter >> 8)
	id[2] = byte(counter)
	id[3] = byte(kind)<<4 | byte(src)
	return id
}

func (e EntityID) Kind() EntityKind { return EntityKind(e[3] >> 4) }
func (e EntityID) Source() Source   { return Source(e[3] & 0x0f) }

// GUID is the full 16-byte identifier: Prefix (participant) + EntityID.
type GUID struct {
	Prefix   Prefix
	EntityID EntityID
}

func (g GUID) String() string {
	return fmt.Sprintf("%s:%s", hex.EncodeToString(g.Prefix[:]), hex.EncodeToString(g.EntityID[:]))
}

// NewPrefix generates a fresh random participant prefix. Invariant:
// GUIDs are globally unique for the lifetime of a participant, so
// collisions here would violate that invariant — 96 bits of randomness
// makes that astronomically unlikely.
func NewPrefix() (Prefix, error) {
	var p Prefix
	if _, err := rand.Read(p[:]); err != nil {
		return Prefix{}, fmt.Errorf("guid: generate prefix: %w", err)
	}
	return p, nil
}

// Entity builds the GUID for an entity owned by the participant with
// this prefix.
func (p Prefix) Entity(id EntityID) GUID {
	return GUID{Prefix: p, EntityID: id}
}

// Participant returns the GUID naming the participant itself (the
// well-known all-zero entity id within its prefix).
func (p Prefix) Participant() GUID {
	return GUID{Prefix: p, EntityID: NewEntityID(0, KindParticipant, SourceUser)}
}
