// Package multicast carries fragmented frames over a UDP multicast group:
// one Broadcaster publishes on behalf of the presenter, any number of
// Receivers subscribe. Delivery is fire-and-forget; a slow or absent
// receiver never affects the broadcaster or other receivers.
package multicast

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"golang.org/x/net/ipv4"

	"github.com/alfarid/classcast/internal/fragment"
	"github.com/alfarid/classcast/internal/media"
)

// readBufferSize is sized for one full datagram with headroom.
const readBufferSize = 64 * 1024

// defaultSocketBuffer enlarges the kernel send/receive buffers to absorb
// bursts at high frame rates.
const defaultSocketBuffer = 1 << 20

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("multicast: broadcaster closed")

// GroupConfig describes the multicast group both sides use.
type GroupConfig struct {
	Group     string // multicast group address, e.g. "239.255.255.250"
	Port      int
	TTL       int    // hop limit; single-subnet deployments want a small value
	Interface string // optional interface name for the receiver's group join
	ChunkSize int    // per-fragment data budget; 0 selects fragment.DefaultChunkSize
}

// groupAddr resolves and checks the configured group address.
func (c GroupConfig) groupAddr() (*net.UDPAddr, error) {
	ip := net.ParseIP(c.Group)
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("multicast: %q is not an IPv4 address", c.Group)
	}
	if !ip.IsMulticast() {
		return nil, fmt.Errorf("multicast: %s is not a multicast address", ip)
	}
	return &net.UDPAddr{IP: ip, Port: c.Port}, nil
}

// BroadcastStats counts datagrams published by a Broadcaster.
type BroadcastStats struct {
	FragmentsSent uint64
	BytesSent     uint64
}

// Broadcaster publishes fragments to the multicast group. One broadcaster
// serves an unbounded number of receivers: the cost of a send is independent
// of participant count, which is the whole point of multicast here.
//
// Send is safe for concurrent use, though the intended shape is a single
// publish goroutine per presenter.
type Broadcaster struct {
	log       *slog.Logger
	conn      *net.UDPConn
	dst       *net.UDPAddr
	chunkSize int
	closed    atomic.Bool

	fragmentsSent atomic.Uint64
	bytesSent     atomic.Uint64
}

// NewBroadcaster opens the outbound multicast socket with the configured
// hop limit, loopback enabled so same-host receivers hear the stream, and
// an enlarged send buffer.
func NewBroadcaster(cfg GroupConfig, log *slog.Logger) (*Broadcaster, error) {
	if log == nil {
		log = slog.Default()
	}

	dst, err := cfg.groupAddr()
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return nil, fmt.Errorf("multicast: open send socket: %w", err)
	}

	p := ipv4.NewPacketConn(conn)
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 1
	}
	if err := p.SetMulticastTTL(ttl); err != nil {
		conn.Close()
		return nil, fmt.Errorf("multicast: set TTL: %w", err)
	}
	if err := p.SetMulticastLoopback(true); err != nil {
		conn.Close()
		return nil, fmt.Errorf("multicast: set loopback: %w", err)
	}
	if err := conn.SetWriteBuffer(defaultSocketBuffer); err != nil {
		log.Warn("could not enlarge send buffer", "error", err)
	}

	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = fragment.DefaultChunkSize
	}

	log.Info("multicast broadcaster ready", "group", dst.IP, "port", dst.Port, "ttl", ttl, "chunk_size", chunkSize)

	return &Broadcaster{
		log:       log.With("component", "broadcaster"),
		conn:      conn,
		dst:       dst,
		chunkSize: chunkSize,
	}, nil
}

// ChunkSize returns the per-fragment data budget in effect.
func (b *Broadcaster) ChunkSize() int {
	return b.chunkSize
}

// Send publishes one fragment, best-effort and non-blocking apart from the
// kernel send buffer.
func (b *Broadcaster) Send(f fragment.Fragment) error {
	if b.closed.Load() {
		return ErrClosed
	}

	buf := f.AppendTo(make([]byte, 0, fragment.HeaderSize+len(f.Data)))
	if _, err := b.conn.WriteToUDP(buf, b.dst); err != nil {
		return fmt.Errorf("multicast: send fragment: %w", err)
	}

	b.fragmentsSent.Add(1)
	b.bytesSent.Add(uint64(len(buf)))
	return nil
}

// SendFrame fragments frame at the broadcaster's chunk size and publishes
// every fragment. A frame too large for the fragment count field is rejected
// whole rather than sent truncated. It stops at the first socket failure;
// lost datagrams on an otherwise healthy socket are invisible here, as
// multicast intends.
func (b *Broadcaster) SendFrame(frame media.Frame) error {
	frags, err := fragment.Split(frame, b.chunkSize)
	if err != nil {
		return err
	}
	for _, f := range frags {
		if err := b.Send(f); err != nil {
			return err
		}
	}
	return nil
}

// Stats returns a snapshot of the publish counters.
func (b *Broadcaster) Stats() BroadcastStats {
	return BroadcastStats{
		FragmentsSent: b.fragmentsSent.Load(),
		BytesSent:     b.bytesSent.Load(),
	}
}

// Close releases the socket. Subsequent Sends return ErrClosed.
func (b *Broadcaster) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.log.Info("broadcaster closed", "fragments_sent", b.fragmentsSent.Load(), "bytes_sent", b.bytesSent.Load())
	return b.conn.Close()
}
