package session

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/alfarid/classcast/internal/wire"
)

func TestChannelDispatchPreservesOrder(t *testing.T) {
	t.Parallel()

	local, remote := net.Pipe()
	defer remote.Close()

	received := make(chan string, 64)
	ch := NewControlChannel(local, 0, nil)
	ch.OnMessage(func(msg wire.Message) {
		var chat wire.Chat
		if err := msg.DecodeBody(&chat); err != nil {
			t.Errorf("decode chat: %v", err)
			return
		}
		received <- chat.Content
	})
	ch.Start()
	defer ch.Close()

	sender := wire.NewFramer(remote, 0)
	const n = 50
	for i := 0; i < n; i++ {
		msg, err := wire.NewMessage(wire.MsgChat, wire.Chat{Content: fmt.Sprintf("msg %d", i)})
		if err != nil {
			t.Fatal(err)
		}
		if err := sender.Write(msg); err != nil {
			t.Fatal(err)
		}
	}

	for i := 0; i < n; i++ {
		select {
		case got := <-received:
			if want := fmt.Sprintf("msg %d", i); got != want {
				t.Fatalf("message %d = %q, want %q (order violated)", i, got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
}

func TestChannelSerializesConcurrentSends(t *testing.T) {
	t.Parallel()

	local, remote := net.Pipe()
	defer remote.Close()

	ch := NewControlChannel(local, 0, nil)
	ch.Start()
	defer ch.Close()

	const senders, perSender = 8, 20
	var wg sync.WaitGroup
	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				msg, err := wire.NewMessage(wire.MsgChat, wire.Chat{SenderID: fmt.Sprintf("%d", s), Content: fmt.Sprintf("%d/%d", s, i)})
				if err != nil {
					t.Error(err)
					return
				}
				if err := ch.Send(msg); err != nil {
					t.Errorf("send: %v", err)
					return
				}
			}
		}(s)
	}

	// If two Sends ever interleaved their bytes, some read below would fail
	// to decode.
	reader := wire.NewFramer(remote, 0)
	for i := 0; i < senders*perSender; i++ {
		remote.SetReadDeadline(time.Now().Add(2 * time.Second))
		msg, err := reader.Read()
		if err != nil {
			t.Fatalf("read message %d: %v", i, err)
		}
		if msg.Type != wire.MsgChat {
			t.Fatalf("message %d type = %s", i, msg.Type)
		}
	}
	wg.Wait()
}

func TestChannelProtocolViolationIsTerminal(t *testing.T) {
	t.Parallel()

	local, remote := net.Pipe()
	defer remote.Close()

	terminal := make(chan error, 1)
	ch := NewControlChannel(local, 1024, nil)
	ch.OnClosed(func(err error) {
		terminal <- err
	})
	ch.Start()
	defer ch.Close()

	// A length prefix far beyond the 1 KB maximum.
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], 1<<30)
	if _, err := remote.Write(prefix[:]); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-terminal:
		var pv *wire.ProtocolError
		if !errors.As(err, &pv) {
			t.Fatalf("terminal error = %v, want *wire.ProtocolError", err)
		}
		if !errors.Is(err, wire.ErrMessageTooLarge) {
			t.Fatalf("terminal error = %v, want ErrMessageTooLarge", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel never reported the violation")
	}

	// The violation closed the conn; the peer's next write fails.
	remote.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := remote.Write([]byte{0}); err == nil {
		t.Fatal("expected write to a closed conn to fail")
	}
}

func TestChannelPeerEOFSurfacesOnce(t *testing.T) {
	t.Parallel()

	local, remote := net.Pipe()

	terminal := make(chan error, 2)
	ch := NewControlChannel(local, 0, nil)
	ch.OnClosed(func(err error) {
		terminal <- err
	})
	ch.Start()
	defer ch.Close()

	remote.Close()

	select {
	case err := <-terminal:
		if err != nil {
			t.Fatalf("orderly EOF reported error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect never surfaced")
	}

	select {
	case <-terminal:
		t.Fatal("terminal event fired twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannelCloseSuppressesCallbacks(t *testing.T) {
	t.Parallel()

	local, remote := net.Pipe()
	defer remote.Close()

	terminal := make(chan error, 1)
	ch := NewControlChannel(local, 0, nil)
	ch.OnClosed(func(err error) {
		terminal <- err
	})
	ch.Start()

	if err := ch.Close(); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-terminal:
		t.Fatalf("onClosed fired after owner-initiated Close: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	if err := ch.Send(wire.Message{Type: wire.MsgPing}); !errors.Is(err, net.ErrClosed) {
		t.Fatalf("Send after Close = %v, want net.ErrClosed", err)
	}
}
