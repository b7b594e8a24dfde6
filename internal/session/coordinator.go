package session

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alfarid/classcast/internal/quality"
	"github.com/alfarid/classcast/internal/wire"
)

// ErrCoordinatorClosed is returned by AddParticipant after Close.
var ErrCoordinatorClosed = errors.New("session: coordinator closed")

// ParticipantSession ties a participant's identity to its control channel.
// Sessions are owned exclusively by the coordinator's roster: created on a
// successful handshake, destroyed on disconnect or explicit removal.
type ParticipantSession struct {
	ID       string
	Name     string
	Channel  *ControlChannel
	JoinedAt time.Time
}

// RosterHandler observes roster changes: the new participant count and the
// profile now in effect.
type RosterHandler func(count int, active quality.Profile)

// ProfileListener is how capture producers learn about profile transitions.
// Producers must apply the new parameters from the start of their next
// frame, never mid-fragmentation, so a frame's fragment count stays
// consistent; reading ActiveProfile once per frame gives exactly that.
type ProfileListener func(quality.Profile)

// SessionHandler receives application messages from one participant's
// channel. Handlers must not call RemoveParticipant or Close on their own
// session synchronously; see ControlChannel.Close.
type SessionHandler func(*ParticipantSession, wire.Message)

// Coordinator maintains the roster of connected participants and the active
// quality profile. Roster and profile live behind a single mutex, so a
// profile transition is atomic with respect to concurrent ActiveProfile
// reads from capture producers.
type Coordinator struct {
	log        *slog.Logger
	table      quality.Table
	maxMsgSize uint32

	mu     sync.Mutex
	roster map[string]*ParticipantSession
	active quality.Profile
	closed bool

	// Registration is rare; all three are guarded by mu so late
	// registration cannot race the dispatch paths.
	rosterHandlers   []RosterHandler
	profileListeners []ProfileListener
	handler          SessionHandler
}

// NewCoordinator validates the profile table and creates a coordinator with
// an empty roster. An invalid table is a configuration error and fatal at
// startup.
func NewCoordinator(table quality.Table, maxMsgSize uint32, log *slog.Logger) (*Coordinator, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		log:        log.With("component", "coordinator"),
		table:      table,
		maxMsgSize: maxMsgSize,
		roster:     make(map[string]*ParticipantSession),
		active:     table.SelectForCount(0),
	}, nil
}

// OnRosterChanged registers a handler invoked after every membership change.
func (c *Coordinator) OnRosterChanged(h RosterHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rosterHandlers = append(c.rosterHandlers, h)
}

// OnProfileChange registers a capture-producer listener invoked whenever
// the active profile actually changes.
func (c *Coordinator) OnProfileChange(l ProfileListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profileListeners = append(c.profileListeners, l)
}

// OnMessage registers the application message handler shared by all
// sessions. Pings are answered internally and not forwarded.
func (c *Coordinator) OnMessage(h SessionHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// AddParticipant admits an established connection under the given name: it
// creates the session, welcomes the participant with its ID and the active
// profile, and starts the channel. The roster change may trigger a profile
// transition, announced to every participant and to the capture producers.
func (c *Coordinator) AddParticipant(conn net.Conn, name string) (*ParticipantSession, error) {
	sess := &ParticipantSession{
		ID:       uuid.NewString(),
		Name:     name,
		Channel:  NewControlChannel(conn, c.maxMsgSize, c.log),
		JoinedAt: time.Now(),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return nil, ErrCoordinatorClosed
	}
	c.roster[sess.ID] = sess
	count, changed, active := c.reselectLocked()
	c.mu.Unlock()

	sess.Channel.OnMessage(func(msg wire.Message) {
		c.dispatch(sess, msg)
	})
	sess.Channel.OnClosed(func(err error) {
		if err != nil {
			c.log.Warn("participant channel failed", "participant", sess.Name, "error", err)
		}
		c.remove(sess.ID, false)
	})

	welcome, err := wire.NewMessage(wire.MsgWelcome, wire.Welcome{ParticipantID: sess.ID, Profile: active})
	if err != nil {
		c.remove(sess.ID, true)
		return nil, err
	}
	sess.Channel.Start()
	if err := sess.Channel.Send(welcome); err != nil {
		c.remove(sess.ID, true)
		return nil, fmt.Errorf("session: welcome %s: %w", sess.Name, err)
	}

	c.log.Info("participant joined", "participant", sess.Name, "id", sess.ID, "count", count)
	c.afterRosterChange(count, changed, active)
	return sess, nil
}

// RemoveParticipant removes a session and closes its channel. Unknown IDs
// are a no-op. Must not be called from the session's own message handler.
func (c *Coordinator) RemoveParticipant(id string) {
	c.remove(id, true)
}

// remove takes a session out of the roster. closeChannel is false on the
// channel-terminated path, where the channel is already dead and closing it
// from its own dispatch goroutine would deadlock.
func (c *Coordinator) remove(id string, closeChannel bool) {
	c.mu.Lock()
	sess, ok := c.roster[id]
	if ok {
		delete(c.roster, id)
	}
	count, changed, active := c.reselectLocked()
	c.mu.Unlock()

	if !ok {
		return
	}
	if closeChannel {
		sess.Channel.Close()
	}
	c.log.Info("participant left", "participant", sess.Name, "id", id, "count", count)
	c.afterRosterChange(count, changed, active)
}

// reselectLocked recomputes the active profile for the current roster size.
// Caller holds c.mu.
func (c *Coordinator) reselectLocked() (count int, changed bool, active quality.Profile) {
	count = len(c.roster)
	next := c.table.SelectForCount(count)
	if next.Name != c.active.Name {
		c.active = next
		changed = true
	}
	return count, changed, c.active
}

// afterRosterChange runs the observers outside the lock and, on an actual
// profile transition, tells the producers and announces the new profile to
// every participant.
func (c *Coordinator) afterRosterChange(count int, changed bool, active quality.Profile) {
	c.mu.Lock()
	rosterHandlers := append([]RosterHandler(nil), c.rosterHandlers...)
	profileListeners := append([]ProfileListener(nil), c.profileListeners...)
	c.mu.Unlock()

	for _, h := range rosterHandlers {
		h(count, active)
	}
	if !changed {
		return
	}

	c.log.Info("quality profile changed", "profile", active.Name, "fps", active.FPS, "quality", active.CompressionQuality, "participants", count)
	for _, l := range profileListeners {
		l(active)
	}

	msg, err := wire.NewMessage(wire.MsgProfileChange, wire.ProfileChange{Profile: active})
	if err != nil {
		c.log.Error("encode profile change", "error", err)
		return
	}
	c.Broadcast(msg)
}

// dispatch answers pings and forwards everything else to the application
// handler.
func (c *Coordinator) dispatch(sess *ParticipantSession, msg wire.Message) {
	if msg.Type == wire.MsgPing {
		pong, err := wire.NewMessage(wire.MsgPong, nil)
		if err == nil {
			if err := sess.Channel.Send(pong); err != nil {
				c.log.Debug("pong failed", "participant", sess.Name, "error", err)
			}
		}
		return
	}
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler != nil {
		handler(sess, msg)
	}
}

// Broadcast sends msg to every participant. Send failures are logged and
// left to each channel's terminal event; one dead peer must not keep the
// message from the rest.
func (c *Coordinator) Broadcast(msg wire.Message) {
	for _, sess := range c.Participants() {
		if err := sess.Channel.Send(msg); err != nil {
			c.log.Warn("broadcast send failed", "participant", sess.Name, "type", msg.Type.String(), "error", err)
		}
	}
}

// Participants returns a snapshot of the roster.
func (c *Coordinator) Participants() []*ParticipantSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*ParticipantSession, 0, len(c.roster))
	for _, sess := range c.roster {
		out = append(out, sess)
	}
	return out
}

// Count returns the current roster size.
func (c *Coordinator) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.roster)
}

// ActiveProfile returns the profile currently in effect. Capture producers
// call it at the start of each frame.
func (c *Coordinator) ActiveProfile() quality.Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Close shuts the coordinator down, cascading Close to every control
// channel. Subsequent AddParticipant calls fail with ErrCoordinatorClosed.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sessions := make([]*ParticipantSession, 0, len(c.roster))
	for _, sess := range c.roster {
		sessions = append(sessions, sess)
	}
	c.roster = make(map[string]*ParticipantSession)
	c.mu.Unlock()

	for _, sess := range sessions {
		sess.Channel.Close()
	}
	c.log.Info("coordinator closed", "participants_disconnected", len(sessions))
	return nil
}
