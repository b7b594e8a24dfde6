package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"testing"
)

// chunkedReader delivers at most chunk bytes per Read, simulating a TCP
// stream that fragments messages arbitrarily.
type chunkedReader struct {
	buf   *bytes.Buffer
	chunk int
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if len(p) > c.chunk {
		p = p[:c.chunk]
	}
	return c.buf.Read(p)
}

func (c *chunkedReader) Write(p []byte) (int, error) {
	return c.buf.Write(p)
}

func TestFramerRoundTripChunked(t *testing.T) {
	t.Parallel()

	var sent []Message
	var buf bytes.Buffer
	out := NewFramer(&buf, 0)
	for i := 0; i < 20; i++ {
		msg, err := NewMessage(MsgChat, Chat{SenderName: "alice", Content: fmt.Sprintf("line %d", i)})
		if err != nil {
			t.Fatal(err)
		}
		if err := out.Write(msg); err != nil {
			t.Fatal(err)
		}
		sent = append(sent, msg)
	}

	for _, chunk := range []int{1, 2, 3, 7, 1024} {
		stream := &chunkedReader{buf: bytes.NewBuffer(bytes.Clone(buf.Bytes())), chunk: chunk}
		in := NewFramer(stream, 0)

		for i, want := range sent {
			got, err := in.Read()
			if err != nil {
				t.Fatalf("chunk %d: read message %d: %v", chunk, i, err)
			}
			if got.Type != want.Type {
				t.Fatalf("chunk %d: message %d type = %s, want %s", chunk, i, got.Type, want.Type)
			}
			var body Chat
			if err := got.DecodeBody(&body); err != nil {
				t.Fatal(err)
			}
			if body.Content != fmt.Sprintf("line %d", i) {
				t.Fatalf("chunk %d: message %d content = %q", chunk, i, body.Content)
			}
		}
		if _, err := in.Read(); err != io.EOF {
			t.Fatalf("chunk %d: expected EOF after last message, got %v", chunk, err)
		}
	}
}

func TestFramerBodylessMessage(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	f := NewFramer(&buf, 0)
	ping, err := NewMessage(MsgPing, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Write(ping); err != nil {
		t.Fatal(err)
	}

	got, err := f.Read()
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != MsgPing {
		t.Fatalf("type = %s, want %s", got.Type, MsgPing)
	}
	if len(got.Body) != 0 {
		t.Fatalf("expected empty body, got %d bytes", len(got.Body))
	}
}

func TestFramerOversizedLength(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], 1<<30)
	buf.Write(prefix[:])

	f := NewFramer(&buf, 1024)
	_, err := f.Read()
	if err == nil {
		t.Fatal("expected error on oversized length prefix")
	}
	var pv *ProtocolError
	if !errors.As(err, &pv) {
		t.Fatalf("error = %v, want *ProtocolError", err)
	}
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("error = %v, want ErrMessageTooLarge", err)
	}
}

func TestFramerClosedMidMessage(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], 10)
	buf.Write(prefix[:])
	buf.Write([]byte{1, 2, 3}) // only 3 of 10 declared bytes

	f := NewFramer(&buf, 0)
	_, err := f.Read()
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("error = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestFramerRejectsOversizedWrite(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	f := NewFramer(&buf, 16)
	msg, err := NewMessage(MsgChat, Chat{Content: "this body does not fit in sixteen bytes"})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Write(msg); !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("error = %v, want ErrMessageTooLarge", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("rejected write left %d bytes on the stream", buf.Len())
	}
}
