// Package quality maps classroom size to stream parameters. Profile
// selection and bandwidth estimation are pure functions over an immutable
// table, so capture producers and the session coordinator can call them from
// any goroutine.
package quality

import (
	"errors"
	"fmt"
)

// ProfileName is a closed set of profile identifiers. Using named constants
// instead of free-form strings means an unknown profile is a compile-time
// mistake, not a runtime lookup miss.
type ProfileName string

// The built-in profile names, ordered from highest to lowest fidelity.
const (
	ProfileSmall  ProfileName = "small"
	ProfileMedium ProfileName = "medium"
	ProfileLarge  ProfileName = "large"
	ProfileUltra  ProfileName = "ultra"
)

// Profile is an immutable bundle of stream parameters selected by
// participant count. It is shared read-only by all capture producers and
// carried inside a profile-change control message when it changes.
type Profile struct {
	Name               ProfileName `cbor:"1,keyasint" mapstructure:"name"`
	MaxParticipants    int         `cbor:"2,keyasint" mapstructure:"max_participants"`
	FPS                int         `cbor:"3,keyasint" mapstructure:"fps"`
	CompressionQuality int         `cbor:"4,keyasint" mapstructure:"compression_quality"`
	AudioSampleRate    int         `cbor:"5,keyasint" mapstructure:"audio_sample_rate"`
	EnableWebcam       bool        `cbor:"6,keyasint" mapstructure:"enable_webcam"`
	EnableWhiteboard   bool        `cbor:"7,keyasint" mapstructure:"enable_whiteboard"`
}

// Table is an ordered list of profiles with ascending MaxParticipants.
// It is static configuration, never mutated at runtime.
type Table []Profile

// DefaultTable returns the built-in profile ladder. The thresholds come from
// classroom sizes the system was tuned for: full fidelity up to 10 seats,
// progressively constrained up to 100.
func DefaultTable() Table {
	return Table{
		{Name: ProfileSmall, MaxParticipants: 10, FPS: 30, CompressionQuality: 85, AudioSampleRate: 48000, EnableWebcam: true, EnableWhiteboard: true},
		{Name: ProfileMedium, MaxParticipants: 25, FPS: 24, CompressionQuality: 70, AudioSampleRate: 44100, EnableWebcam: true, EnableWhiteboard: true},
		{Name: ProfileLarge, MaxParticipants: 50, FPS: 15, CompressionQuality: 60, AudioSampleRate: 32000, EnableWebcam: false, EnableWhiteboard: true},
		{Name: ProfileUltra, MaxParticipants: 100, FPS: 10, CompressionQuality: 50, AudioSampleRate: 24000, EnableWebcam: false, EnableWhiteboard: false},
	}
}

// SelectForCount returns the first profile whose MaxParticipants covers n.
// When n exceeds every threshold it returns the last (most constrained)
// profile: the system must always produce some usable stream rather than
// fail on an oversubscribed classroom.
//
// SelectForCount must only be called on a validated table.
func (t Table) SelectForCount(n int) Profile {
	for _, p := range t {
		if n <= p.MaxParticipants {
			return p
		}
	}
	return t[len(t)-1]
}

// ErrEmptyTable is returned by Validate for a table with no profiles.
// An empty table is a fatal configuration error at startup.
var ErrEmptyTable = errors.New("quality: profile table is empty")

// Validate checks the table invariants: non-empty, thresholds strictly
// ascending, and every field within a usable range.
func (t Table) Validate() error {
	if len(t) == 0 {
		return ErrEmptyTable
	}
	prev := 0
	for i, p := range t {
		if p.Name == "" {
			return fmt.Errorf("quality: profile %d has no name", i)
		}
		if p.MaxParticipants <= prev {
			return fmt.Errorf("quality: profile %q: max_participants %d not above previous threshold %d", p.Name, p.MaxParticipants, prev)
		}
		if p.FPS <= 0 {
			return fmt.Errorf("quality: profile %q: fps %d", p.Name, p.FPS)
		}
		if p.CompressionQuality < 1 || p.CompressionQuality > 100 {
			return fmt.Errorf("quality: profile %q: compression_quality %d outside 1-100", p.Name, p.CompressionQuality)
		}
		if p.AudioSampleRate <= 0 {
			return fmt.Errorf("quality: profile %q: audio_sample_rate %d", p.Name, p.AudioSampleRate)
		}
		prev = p.MaxParticipants
	}
	return nil
}
