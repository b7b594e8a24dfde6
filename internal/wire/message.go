// Package wire implements the control-channel wire protocol: a catalog of
// typed messages, a CBOR envelope codec, and a length-prefixed framer that
// turns a byte stream into discrete messages.
package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/alfarid/classcast/internal/quality"
)

// MsgType identifies a control message. The set is closed: a received type
// outside the catalog is rejected at decode time rather than dispatched.
type MsgType uint8

// Control message catalog.
const (
	MsgHello MsgType = iota + 1
	MsgWelcome
	MsgPing
	MsgPong
	MsgChat
	MsgProfileChange
	MsgStreamStart
	MsgStreamStop
	MsgExamStart
	MsgExamAnswer
	MsgExamEnd
	MsgCommand
	MsgLockScreen
	MsgUnlockScreen
	MsgDisconnect

	msgEnd // one past the last valid type
)

var msgTypeNames = map[MsgType]string{
	MsgHello:         "hello",
	MsgWelcome:       "welcome",
	MsgPing:          "ping",
	MsgPong:          "pong",
	MsgChat:          "chat",
	MsgProfileChange: "profile-change",
	MsgStreamStart:   "stream-start",
	MsgStreamStop:    "stream-stop",
	MsgExamStart:     "exam-start",
	MsgExamAnswer:    "exam-answer",
	MsgExamEnd:       "exam-end",
	MsgCommand:       "command",
	MsgLockScreen:    "lock-screen",
	MsgUnlockScreen:  "unlock-screen",
	MsgDisconnect:    "disconnect",
}

// String returns the message type name for logging.
func (t MsgType) String() string {
	if name, ok := msgTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

// Valid reports whether t is a cataloged message type.
func (t MsgType) Valid() bool {
	return t >= MsgHello && t < msgEnd
}

// Message is a decoded control message: a type tag plus the still-encoded
// body. The body is decoded on demand via DecodeBody so handlers only pay for
// the types they care about.
type Message struct {
	Type MsgType
	Body cbor.RawMessage
}

// envelope is the on-wire shape of a message payload. Integer keys keep the
// envelope overhead to a few bytes per message.
type envelope struct {
	Type MsgType         `cbor:"1,keyasint"`
	Body cbor.RawMessage `cbor:"2,keyasint,omitempty"`
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
}

// NewMessage builds a Message of the given type, CBOR-encoding body. A nil
// body produces a bodyless message (ping, pong, stream-stop and friends).
func NewMessage(t MsgType, body any) (Message, error) {
	msg := Message{Type: t}
	if body != nil {
		raw, err := encMode.Marshal(body)
		if err != nil {
			return Message{}, fmt.Errorf("wire: encode %s body: %w", t, err)
		}
		msg.Body = raw
	}
	return msg, nil
}

// DecodeBody decodes the message body into v.
func (m Message) DecodeBody(v any) error {
	if err := cbor.Unmarshal(m.Body, v); err != nil {
		return fmt.Errorf("wire: decode %s body: %w", m.Type, err)
	}
	return nil
}

// Encode serializes the message into a framer payload.
func (m Message) Encode() ([]byte, error) {
	raw, err := encMode.Marshal(envelope{Type: m.Type, Body: m.Body})
	if err != nil {
		return nil, fmt.Errorf("wire: encode %s envelope: %w", m.Type, err)
	}
	return raw, nil
}

// DecodeMessage parses a framer payload into a Message. An uncataloged type
// is a protocol violation.
func DecodeMessage(payload []byte) (Message, error) {
	var env envelope
	if err := cbor.Unmarshal(payload, &env); err != nil {
		return Message{}, &ProtocolError{Reason: "malformed envelope", Err: err}
	}
	if !env.Type.Valid() {
		return Message{}, &ProtocolError{Reason: env.Type.String(), Err: ErrUnknownType}
	}
	return Message{Type: env.Type, Body: env.Body}, nil
}

// Hello is sent by a participant immediately after connecting.
type Hello struct {
	Name    string `cbor:"1,keyasint"`
	Version string `cbor:"2,keyasint,omitempty"`
}

// Welcome is the coordinator's reply to a Hello, completing the handshake.
type Welcome struct {
	ParticipantID string          `cbor:"1,keyasint"`
	Profile       quality.Profile `cbor:"2,keyasint"`
}

// Chat carries a chat line between the coordinator and participants.
// RecipientID is empty for a broadcast message.
type Chat struct {
	SenderID    string `cbor:"1,keyasint"`
	SenderName  string `cbor:"2,keyasint"`
	Content     string `cbor:"3,keyasint"`
	RecipientID string `cbor:"4,keyasint,omitempty"`
}

// ProfileChange announces the new active quality profile. The full profile
// is carried so participants need no table of their own.
type ProfileChange struct {
	Profile quality.Profile `cbor:"1,keyasint"`
}

// StreamState announces that a stream of the given kind started or stopped.
type StreamState struct {
	Kind byte `cbor:"1,keyasint"`
}

// ExamStart opens an exam for all participants.
type ExamStart struct {
	ExamID      string `cbor:"1,keyasint"`
	Title       string `cbor:"2,keyasint"`
	DurationSec int    `cbor:"3,keyasint"`
}

// ExamAnswer is a participant's answer to one exam question.
type ExamAnswer struct {
	ExamID     string `cbor:"1,keyasint"`
	QuestionID string `cbor:"2,keyasint"`
	Answer     string `cbor:"3,keyasint"`
}

// ExamEnd closes an exam.
type ExamEnd struct {
	ExamID string `cbor:"1,keyasint"`
}

// Command is a remote command for a participant machine.
type Command struct {
	Name string   `cbor:"1,keyasint"`
	Args []string `cbor:"2,keyasint,omitempty"`
}

// LockScreen asks a participant to lock its screen, optionally showing a
// message. Unlock is the bodyless MsgUnlockScreen.
type LockScreen struct {
	Message string `cbor:"1,keyasint,omitempty"`
}

// Disconnect announces an orderly departure.
type Disconnect struct {
	Reason string `cbor:"1,keyasint,omitempty"`
}
