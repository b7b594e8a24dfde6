package multicast

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/alfarid/classcast/internal/fragment"
	"github.com/alfarid/classcast/internal/media"
)

// expireInterval bounds how often the receive loop sweeps stale reassembly
// buffers. Expiry happens between reads, so the sweep must not rely on
// datagrams arriving.
const expireInterval = 500 * time.Millisecond

// ErrReceiverUsed is returned by Start on a receiver that already ran.
var ErrReceiverUsed = errors.New("multicast: receiver already used")

// FrameHandler receives each completed frame. It runs on the receiver's
// read loop; long-running handlers should hand the frame off.
type FrameHandler func(*media.Frame)

// ReceiverStats counts datagram and frame outcomes on the receiving side.
type ReceiverStats struct {
	DatagramsReceived uint64
	BadDatagrams      uint64
	Reassembly        fragment.Stats
}

// Receiver joins the multicast group and turns incoming datagrams back into
// frames through a private Reassembler. Frames that never complete are
// dropped silently; loss is a normal outcome on this path.
//
// A Receiver is single-use: once stopped it cannot be restarted. Create a
// new Receiver to rejoin the group.
type Receiver struct {
	log     *slog.Logger
	cfg     GroupConfig
	timeout time.Duration

	conn    *net.UDPConn
	pconn   *ipv4.PacketConn
	group   *net.UDPAddr
	ifi     *net.Interface
	started atomic.Bool
	stopped atomic.Bool
	done    chan struct{}

	datagrams    atomic.Uint64
	badDatagrams atomic.Uint64
	reasm        *fragment.Reassembler
}

// NewReceiver creates a Receiver for the group. reassemblyTimeout bounds how
// long an incomplete frame may wait for missing fragments; non-positive
// selects fragment.DefaultTimeout.
func NewReceiver(cfg GroupConfig, reassemblyTimeout time.Duration, log *slog.Logger) *Receiver {
	if log == nil {
		log = slog.Default()
	}
	return &Receiver{
		log:     log.With("component", "receiver"),
		cfg:     cfg,
		timeout: reassemblyTimeout,
	}
}

// Start joins the group and launches the receive loop. onFrame is invoked
// once per completed frame, on the loop goroutine, and never after Stop
// returns. Starting a receiver that already ran returns ErrReceiverUsed;
// a failed Start may be retried.
func (r *Receiver) Start(onFrame FrameHandler) error {
	if onFrame == nil {
		return errors.New("multicast: nil frame handler")
	}
	if r.started.Load() || r.stopped.Load() {
		return ErrReceiverUsed
	}

	group, err := r.cfg.groupAddr()
	if err != nil {
		return err
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: r.cfg.Port})
	if err != nil {
		return fmt.Errorf("multicast: bind receive socket: %w", err)
	}

	var ifi *net.Interface
	if r.cfg.Interface != "" {
		ifi, err = net.InterfaceByName(r.cfg.Interface)
		if err != nil {
			conn.Close()
			return fmt.Errorf("multicast: interface %q: %w", r.cfg.Interface, err)
		}
	}

	p := ipv4.NewPacketConn(conn)
	if err := p.JoinGroup(ifi, group); err != nil {
		conn.Close()
		return fmt.Errorf("multicast: join group %s: %w", group.IP, err)
	}
	if err := conn.SetReadBuffer(defaultSocketBuffer); err != nil {
		r.log.Warn("could not enlarge receive buffer", "error", err)
	}

	r.conn = conn
	r.pconn = p
	r.group = group
	r.ifi = ifi
	r.done = make(chan struct{})
	r.reasm = fragment.NewReassembler(r.timeout)

	r.started.Store(true)
	r.log.Info("joined multicast group", "group", group.IP, "port", group.Port)

	go r.readLoop(onFrame)
	return nil
}

// readLoop reads datagrams until the socket is closed by Stop.
func (r *Receiver) readLoop(onFrame FrameHandler) {
	defer close(r.done)

	buf := make([]byte, readBufferSize)
	nextExpire := time.Now().Add(expireInterval)

	for {
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if !r.stopped.Load() {
				r.log.Error("receive loop terminated", "error", err)
			}
			return
		}
		r.datagrams.Add(1)

		// A malformed datagram has no peer to blame or notify: count it
		// and move on.
		f, err := fragment.Parse(buf[:n])
		if err != nil {
			r.badDatagrams.Add(1)
			continue
		}

		if frame := r.reasm.Feed(f); frame != nil {
			onFrame(frame)
		}

		if now := time.Now(); now.After(nextExpire) {
			r.reasm.Expire(now)
			nextExpire = now.Add(expireInterval)
		}
	}
}

// Stats returns a snapshot of the receive counters.
func (r *Receiver) Stats() ReceiverStats {
	s := ReceiverStats{
		DatagramsReceived: r.datagrams.Load(),
		BadDatagrams:      r.badDatagrams.Load(),
	}
	if r.reasm != nil {
		s.Reassembly = r.reasm.Stats()
	}
	return s
}

// Stop leaves the group, closes the socket, and waits for the receive loop
// to exit. No frame handler invocation happens after Stop returns. Stop is
// idempotent; calling it before Start is a no-op.
func (r *Receiver) Stop() {
	if r.conn == nil || r.stopped.Swap(true) {
		return
	}

	if err := r.pconn.LeaveGroup(r.ifi, r.group); err != nil {
		r.log.Warn("leave group", "error", err)
	}
	r.conn.Close()
	<-r.done
	r.log.Info("receiver stopped", "datagrams", r.datagrams.Load(), "bad_datagrams", r.badDatagrams.Load())
}
