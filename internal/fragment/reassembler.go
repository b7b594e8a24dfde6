package fragment

import (
	"sync"
	"time"

	"github.com/alfarid/classcast/internal/media"
)

// DefaultTimeout is how long an incomplete buffer may wait for its missing
// fragments before being dropped. Multicast guarantees nothing, so this is
// deliberately short: at streaming frame rates a replacement arrives within
// a few hundred milliseconds anyway.
const DefaultTimeout = 2 * time.Second

// Stats counts reassembly outcomes. Loss is expected under normal operation
// and is reported here rather than as errors.
type Stats struct {
	FramesCompleted uint64
	FramesDropped   uint64
	Duplicates      uint64
	StaleFragments  uint64
}

// buffer collects the fragments of one in-flight frame.
type buffer struct {
	frameID  uint32
	count    uint16
	filled   uint16
	slots    [][]byte
	size     int
	deadline time.Time
}

// Reassembler rebuilds frames from out-of-order fragments. It keeps at most
// one buffer per frame kind: a fragment for a newer frame ID supersedes an
// incomplete older buffer of the same kind, because a stale frame is worse
// than a gap. Safe for concurrent use, though each receiver owns a private
// instance fed from a single read loop.
type Reassembler struct {
	mu            sync.Mutex
	timeout       time.Duration
	inflight      map[media.FrameKind]*buffer
	lastCompleted map[media.FrameKind]uint32
	stats         Stats
}

// NewReassembler creates a Reassembler. A non-positive timeout selects
// DefaultTimeout.
func NewReassembler(timeout time.Duration) *Reassembler {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Reassembler{
		timeout:       timeout,
		inflight:      make(map[media.FrameKind]*buffer),
		lastCompleted: make(map[media.FrameKind]uint32),
	}
}

// Feed adds one fragment. It returns the completed frame once all Count
// slots are filled, or nil while the frame is still incomplete or the
// fragment was discarded. Duplicate indexes are ignored; fragments for a
// frame already delivered or already superseded are dropped silently.
func (r *Reassembler) Feed(f Fragment) *media.Frame {
	return r.feed(f, time.Now())
}

func (r *Reassembler) feed(f Fragment, now time.Time) *media.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()

	if last, ok := r.lastCompleted[f.Kind]; ok && f.FrameID <= last {
		// Late straggler for a frame already delivered.
		r.stats.StaleFragments++
		return nil
	}

	buf := r.inflight[f.Kind]
	switch {
	case buf == nil:
		buf = r.newBuffer(f, now)
	case f.FrameID > buf.frameID:
		// Newer frame wins over an incomplete older one.
		r.stats.FramesDropped++
		buf = r.newBuffer(f, now)
	case f.FrameID < buf.frameID:
		r.stats.StaleFragments++
		return nil
	case f.Count != buf.count:
		// Same frame ID with a different count: corrupt stream, start over
		// from the fragment in hand.
		r.stats.FramesDropped++
		buf = r.newBuffer(f, now)
	}

	if buf.slots[f.Index] != nil {
		r.stats.Duplicates++
		return nil
	}

	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	buf.slots[f.Index] = data
	buf.size += len(data)
	buf.filled++

	if buf.filled < buf.count {
		return nil
	}

	payload := make([]byte, 0, buf.size)
	for _, slot := range buf.slots {
		payload = append(payload, slot...)
	}
	delete(r.inflight, f.Kind)
	r.lastCompleted[f.Kind] = buf.frameID
	r.stats.FramesCompleted++

	return &media.Frame{ID: buf.frameID, Kind: f.Kind, Payload: payload}
}

func (r *Reassembler) newBuffer(f Fragment, now time.Time) *buffer {
	buf := &buffer{
		frameID:  f.FrameID,
		count:    f.Count,
		slots:    make([][]byte, f.Count),
		deadline: now.Add(r.timeout),
	}
	r.inflight[f.Kind] = buf
	return buf
}

// Expire drops incomplete buffers whose deadline has passed and returns the
// number dropped. Receivers call it opportunistically from the read loop so
// a lost fragment can never wedge the pipeline.
func (r *Reassembler) Expire(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := 0
	for kind, buf := range r.inflight {
		if now.After(buf.deadline) {
			delete(r.inflight, kind)
			r.stats.FramesDropped++
			dropped++
		}
	}
	return dropped
}

// Stats returns a snapshot of the reassembly counters.
func (r *Reassembler) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
