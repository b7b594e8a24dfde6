// Package media defines the frame types that flow through the classcast
// pipeline, from capture producers through fragmentation and multicast
// delivery to receivers.
package media

import "sync/atomic"

// FrameKind identifies which capture source a frame belongs to. The values
// are stable wire constants carried in every multicast datagram header.
type FrameKind byte

// Supported frame kinds.
const (
	KindScreen FrameKind = 0
	KindAudio  FrameKind = 1
	KindWebcam FrameKind = 2
)

// String returns the kind name for logging.
func (k FrameKind) String() string {
	switch k {
	case KindScreen:
		return "screen"
	case KindAudio:
		return "audio"
	case KindWebcam:
		return "webcam"
	default:
		return "unknown"
	}
}

// Valid reports whether k is one of the defined frame kinds. Receivers use
// it to reject datagrams with a corrupted kind byte.
func (k FrameKind) Valid() bool {
	return k <= KindWebcam
}

// Frame is a single compressed capture unit (one screen picture, one audio
// chunk, one webcam picture) ready for fragmentation. Frames are produced by
// a capture producer, transmitted once, and discarded; multicast delivery is
// fire-and-forget, so a Frame is never retransmitted.
type Frame struct {
	ID      uint32
	Kind    FrameKind
	Payload []byte
}

// Sequencer hands out monotonically increasing frame IDs, one counter per
// kind, so receivers can use the ID as their only ordering anchor. Safe for
// concurrent use by multiple capture producers.
type Sequencer struct {
	counters [3]atomic.Uint32
}

// Next returns the next frame ID for the given kind, starting at 1.
func (s *Sequencer) Next(kind FrameKind) uint32 {
	return s.counters[kind].Add(1)
}
