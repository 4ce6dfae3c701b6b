package vsc

import (
	"fmt"

	"github.com/gogpu/tbdr/cmdstream"
)

// Tag identifies the stream an overflow record refers to. Tags live in the
// two low bits of the record, below the pitch.
type Tag uint64

const (
	TagNone      Tag = 0
	TagPrimList  Tag = 1
	TagSecondary Tag = 3

	tagMask = 3
)

// TagOf returns the record tag for a stream.
func TagOf(kind cmdstream.StreamKind) Tag {
	if kind == cmdstream.StreamSecondary {
		return TagSecondary
	}
	return TagPrimList
}

// Stream returns the stream a tag refers to.
func (t Tag) Stream() (cmdstream.StreamKind, bool) {
	switch t {
	case TagPrimList:
		return cmdstream.StreamPrimList, true
	case TagSecondary:
		return cmdstream.StreamSecondary, true
	}
	return 0, false
}

// VersionedPitch is a stream pitch together with the number of times the
// stream has grown.
type VersionedPitch struct {
	Pitch      uint32
	Generation uint32
}

// Older reports whether v predates o.
func (v VersionedPitch) Older(o VersionedPitch) bool {
	return v.Generation < o.Generation
}

func (v VersionedPitch) String() string {
	return fmt.Sprintf("%#x@%d", v.Pitch, v.Generation)
}

// Record is a decoded overflow record.
type Record struct {
	Tag     Tag
	Version VersionedPitch
}

// Encode packs an overflow record into a control word: the generation in
// the high half, the pitch in the low half with the tag in its two low bits.
// The pitch must be a multiple of 4.
func Encode(tag Tag, v VersionedPitch) uint64 {
	return uint64(v.Generation)<<32 | uint64(v.Pitch&^tagMask) | uint64(tag&tagMask)
}

// Decode unpacks a control word. It reports false for an empty word.
func Decode(w uint64) (Record, bool) {
	if w == 0 {
		return Record{}, false
	}
	return Record{
		Tag: Tag(w & tagMask),
		Version: VersionedPitch{
			Pitch:      uint32(w) &^ tagMask,
			Generation: uint32(w >> 32),
		},
	}, true
}
