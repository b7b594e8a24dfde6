package wire

import (
	"errors"
	"testing"

	"github.com/alfarid/classcast/internal/quality"
)

func TestMessageBodyRoundTrip(t *testing.T) {
	t.Parallel()

	profile := quality.DefaultTable()[2]
	msg, err := NewMessage(MsgProfileChange, ProfileChange{Profile: profile})
	if err != nil {
		t.Fatal(err)
	}

	payload, err := msg.Encode()
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodeMessage(payload)
	if err != nil {
		t.Fatal(err)
	}

	var pc ProfileChange
	if err := decoded.DecodeBody(&pc); err != nil {
		t.Fatal(err)
	}
	if pc.Profile != profile {
		t.Fatalf("profile = %+v, want %+v", pc.Profile, profile)
	}
}

func TestDecodeMessageUnknownType(t *testing.T) {
	t.Parallel()

	msg := Message{Type: MsgType(200)}
	payload, err := msg.Encode()
	if err != nil {
		t.Fatal(err)
	}

	_, err = DecodeMessage(payload)
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("error = %v, want ErrUnknownType", err)
	}
	var pv *ProtocolError
	if !errors.As(err, &pv) {
		t.Fatalf("error = %v, want *ProtocolError", err)
	}
}

func TestDecodeMessageMalformedEnvelope(t *testing.T) {
	t.Parallel()

	_, err := DecodeMessage([]byte{0xff, 0x00, 0x01})
	var pv *ProtocolError
	if !errors.As(err, &pv) {
		t.Fatalf("error = %v, want *ProtocolError", err)
	}
}
