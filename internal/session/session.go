// Package session tracks which rider identity is active and reacts to
// identity changes.
package session

import (
	"github.com/rs/zerolog/log"

	"github.com/mycyclingcity/tachod/internal/hw"
	"github.com/mycyclingcity/tachod/internal/netsync"
)

// Origin records where the active tag came from.
type Origin int

const (
	// FromDefaultConfig: the tag configured as the device default.
	FromDefaultConfig Origin = iota
	// FromRadioDetection: a tag read off the RFID reader. Radio tags are
	// volatile; they never overwrite the persisted default.
	FromRadioDetection
)

// IdentityNotFound is the sentinel shown when a completed lookup reported no
// assigned identity for the tag.
const IdentityNotFound = "NULL"

// Resolver is what the session needs from the network engine.
type Resolver interface {
	ResolveUsername(tag string) netsync.Resolution
	Connected() bool
	AuthError() bool
}

// Telemetry is what the session needs from the telemetry engine.
type Telemetry interface {
	Reset()
}

// Cues is the feedback surface for identity events.
type Cues interface {
	TagDetected()
}

// Manager owns the tag session state: active tag, its origin, the resolved
// display identity, and the bookkeeping for change detection and upload
// synchronization.
type Manager struct {
	reader    hw.TagReader
	telemetry Telemetry
	resolver  Resolver
	cues      Cues

	active   string
	origin   Origin
	identity string

	// lastActed is the last tag a session action ran for; comparing
	// against it makes change detection idempotent within a tick.
	lastActed string
	// lastSynced is the last tag telemetry was successfully uploaded for.
	// It moves only on confirmed upload success, so an unsent interval is
	// never silently attributed to the wrong rider.
	lastSynced string
}

func NewManager(reader hw.TagReader, telemetry Telemetry, resolver Resolver, cues Cues) *Manager {
	return &Manager{
		reader:    reader,
		telemetry: telemetry,
		resolver:  resolver,
		cues:      cues,
	}
}

// SetDefault installs the configured default tag as the active identity,
// used at operational-mode entry and whenever no radio tag has been seen.
func (m *Manager) SetDefault(tag string) {
	m.active = tag
	m.origin = FromDefaultConfig
}

// Active returns the currently active tag identifier.
func (m *Manager) Active() string { return m.active }

// Origin returns the provenance of the active tag.
func (m *Manager) Origin() Origin { return m.origin }

// Identity returns the resolved display identity: a name, IdentityNotFound,
// or "" while unresolved.
func (m *Manager) Identity() string { return m.identity }

// LastSynced returns the last tag with a confirmed telemetry upload.
func (m *Manager) LastSynced() string { return m.lastSynced }

// MarkSynced records a confirmed upload for the given tag.
func (m *Manager) MarkSynced(tag string) { m.lastSynced = tag }

// ClearSync forgets session history so the current identity is treated as
// new on the next tick. Called when leaving configuration mode.
func (m *Manager) ClearSync() {
	m.lastActed = ""
	m.lastSynced = ""
}

// Tick polls the reader and runs the identity-change protocol. A change
// plays the feedback cue (once, even when the radio path already cued in the
// same tick), resets telemetry, and — when the link is usable — resolves the
// display identity.
func (m *Manager) Tick() {
	cued := false
	if uid, ok := m.reader.Poll(); ok && uid != m.active {
		log.Info().Str("tag", uid).Msg("tag detected")
		m.active = uid
		m.origin = FromRadioDetection
		m.cues.TagDetected()
		cued = true
	}

	if m.active == "" || m.active == m.lastActed {
		return
	}

	log.Info().Str("tag", m.active).Str("previous", m.lastActed).Msg("rider change")
	if !cued {
		m.cues.TagDetected()
	}

	m.telemetry.Reset()
	m.lastActed = m.active

	if !m.resolver.Connected() || m.resolver.AuthError() {
		return
	}
	res := m.resolver.ResolveUsername(m.active)
	if !res.Attempted {
		// keep whatever identity we knew; an unasked question is not "no"
		return
	}
	if !res.Found {
		m.identity = IdentityNotFound
		return
	}
	m.identity = res.Name
}
