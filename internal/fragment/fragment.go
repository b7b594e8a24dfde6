// Package fragment splits oversized frames into MTU-sized multicast
// datagrams and reassembles them on the receiving side. Fragments carry no
// ordering or delivery guarantee; the frame ID in each header is the only
// anchor a receiver has.
package fragment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/alfarid/classcast/internal/media"
)

// HeaderSize is the fixed datagram header:
// FrameID(4) + Kind(1) + Index(2) + Count(2), all big-endian.
const HeaderSize = 9

// DefaultChunkSize is the default per-fragment data budget. 1400 bytes plus
// the header stays under a 1500-byte Ethernet MTU with room for IP and UDP
// headers, avoiding IP-level fragmentation.
const DefaultChunkSize = 1400

// Sentinel errors for splitting and datagram parsing.
var (
	ErrFrameTooLarge = errors.New("fragment: payload exceeds 65535 fragments")
	ErrShortDatagram = errors.New("fragment: datagram shorter than header")
	ErrBadKind       = errors.New("fragment: invalid frame kind")
	ErrBadIndex      = errors.New("fragment: fragment index outside count")
)

// Fragment is one bounded slice of a frame's payload.
// Invariant: 0 <= Index < Count; all fragments of one frame share FrameID
// and Count.
type Fragment struct {
	FrameID uint32
	Kind    media.FrameKind
	Index   uint16
	Count   uint16
	Data    []byte
}

// AppendTo appends the fragment's wire form (header then data) to buf and
// returns the extended slice.
func (f Fragment) AppendTo(buf []byte) []byte {
	var hdr [HeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], f.FrameID)
	hdr[4] = byte(f.Kind)
	binary.BigEndian.PutUint16(hdr[5:7], f.Index)
	binary.BigEndian.PutUint16(hdr[7:9], f.Count)
	buf = append(buf, hdr[:]...)
	return append(buf, f.Data...)
}

// Parse decodes one datagram into a Fragment. The returned Data aliases
// datagram, so callers that retain fragments across reads must copy first
// (the multicast receiver does).
func Parse(datagram []byte) (Fragment, error) {
	if len(datagram) < HeaderSize {
		return Fragment{}, fmt.Errorf("%w: %d bytes", ErrShortDatagram, len(datagram))
	}

	f := Fragment{
		FrameID: binary.BigEndian.Uint32(datagram[0:4]),
		Kind:    media.FrameKind(datagram[4]),
		Index:   binary.BigEndian.Uint16(datagram[5:7]),
		Count:   binary.BigEndian.Uint16(datagram[7:9]),
		Data:    datagram[HeaderSize:],
	}
	if !f.Kind.Valid() {
		return Fragment{}, fmt.Errorf("%w: %d", ErrBadKind, datagram[4])
	}
	if f.Count == 0 || f.Index >= f.Count {
		return Fragment{}, fmt.Errorf("%w: index %d, count %d", ErrBadIndex, f.Index, f.Count)
	}
	return f, nil
}

// Split cuts frame.Payload into fragments of at most chunkSize data bytes.
// The final fragment may be shorter; a frame no larger than chunkSize still
// yields a single fragment with Count 1, and an empty payload yields one
// empty fragment so the frame is announced at all. A payload that would need
// more than 65535 fragments cannot be expressed in the 16-bit count field
// and is rejected with ErrFrameTooLarge.
func Split(frame media.Frame, chunkSize int) ([]Fragment, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	payload := frame.Payload
	count := (len(payload) + chunkSize - 1) / chunkSize
	if count == 0 {
		count = 1
	}
	if count > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d bytes over %d-byte chunks needs %d",
			ErrFrameTooLarge, len(payload), chunkSize, count)
	}

	frags := make([]Fragment, 0, count)
	for i := 0; i < count; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		frags = append(frags, Fragment{
			FrameID: frame.ID,
			Kind:    frame.Kind,
			Index:   uint16(i),
			Count:   uint16(count),
			Data:    payload[start:end],
		})
	}
	return frags, nil
}
