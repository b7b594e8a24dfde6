package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// lenPrefixSize is the width of the length prefix preceding every message.
const lenPrefixSize = 4

// DefaultMaxMessageSize bounds the memory a single control message may
// claim. Large enough for a whiteboard sync or exam sheet, small enough to
// reject pathological length prefixes.
const DefaultMaxMessageSize = 10 * 1024 * 1024

// Framer converts a byte-oriented duplex stream into discrete control
// messages. Every message travels as a 4-byte big-endian length prefix
// followed by exactly that many payload bytes; the reader tolerates the
// transport delivering arbitrarily small or large chunks per read.
//
// Read and Write are each safe for use by one goroutine; callers that write
// from several goroutines must serialize (session.ControlChannel does).
type Framer struct {
	rw      io.ReadWriter
	maxSize uint32
}

// NewFramer wraps rw. maxSize bounds the accepted message length; zero
// selects DefaultMaxMessageSize.
func NewFramer(rw io.ReadWriter, maxSize uint32) *Framer {
	if maxSize == 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &Framer{rw: rw, maxSize: maxSize}
}

// Write encodes msg and writes prefix and payload as a single Write call so
// a serialized caller can never interleave two messages' bytes.
func (f *Framer) Write(msg Message) error {
	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	if uint32(len(payload)) > f.maxSize {
		return &ProtocolError{Reason: fmt.Sprintf("outgoing message %d bytes", len(payload)), Err: ErrMessageTooLarge}
	}

	buf := make([]byte, lenPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:lenPrefixSize], uint32(len(payload)))
	copy(buf[lenPrefixSize:], payload)

	if _, err := f.rw.Write(buf); err != nil {
		return fmt.Errorf("wire: write message: %w", err)
	}
	return nil
}

// Read blocks until a full message is available and returns it decoded.
// A declared length above the configured maximum is a *ProtocolError; the
// caller must treat it as terminal and close the channel. Stream closure
// mid-message surfaces as io.ErrUnexpectedEOF; closure on a message
// boundary as io.EOF.
func (f *Framer) Read() (Message, error) {
	var prefix [lenPrefixSize]byte
	if _, err := io.ReadFull(f.rw, prefix[:]); err != nil {
		if err == io.EOF {
			return Message{}, io.EOF
		}
		return Message{}, fmt.Errorf("wire: read length prefix: %w", err)
	}

	length := binary.BigEndian.Uint32(prefix[:])
	if length > f.maxSize {
		return Message{}, &ProtocolError{Reason: fmt.Sprintf("declared length %d, max %d", length, f.maxSize), Err: ErrMessageTooLarge}
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(f.rw, payload); err != nil {
			return Message{}, fmt.Errorf("wire: read message payload: %w", err)
		}
	}

	return DecodeMessage(payload)
}
