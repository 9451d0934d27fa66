package config

import (
	"errors"
	"fmt"
	"sync/atomic"

	"playtestbot/internal/model"
	"playtestbot/internal/roster"
	"playtestbot/internal/submission"
)

// Snapshot is the runtime configuration consumed by the scheduler and the
// command handlers. A Snapshot is never modified after it is published;
// reconfiguration builds a new one and swaps it in.
type Snapshot struct {
	Roster          roster.Roster
	Markers         submission.Markers
	ResponseChannel model.ChannelRef
	// VoiceTemplate is the resource cloned for every approved game.
	VoiceTemplate model.ChannelRef
}

// Holder publishes the current Snapshot to concurrent readers.
type Holder struct {
	p atomic.Pointer[Snapshot]
}

// NewHolder returns a holder with s published (an empty snapshot if nil).
func NewHolder(s *Snapshot) *Holder {
	h := &Holder{}
	h.Store(s)
	return h
}

// Load returns the current snapshot; never nil.
func (h *Holder) Load() *Snapshot {
	if s := h.p.Load(); s != nil {
		return s
	}
	return &Snapshot{}
}

// Store publishes s.
func (h *Holder) Store(s *Snapshot) {
	if s == nil {
		s = &Snapshot{}
	}
	h.p.Store(s)
}

// StaticSnapshot builds a snapshot from the Static section. It returns an
// empty snapshot when the section is absent. Invalid events are reported in
// the joined error and skipped.
func (c *Config) StaticSnapshot() (*Snapshot, error) {
	s := &Snapshot{}
	if c.Static == nil {
		return s, nil
	}

	s.Markers = submission.Markers{
		Approve: c.Static.ApproveMarker,
		OnDeck:  c.Static.OnDeckMarker,
	}
	s.ResponseChannel = model.ChannelRef(c.Static.ResponseChannel)
	s.VoiceTemplate = model.ChannelRef(c.Static.VoiceTemplate)

	var errs []error
	for i, se := range c.Static.Events {
		ev, err := roster.NewEvent(se.Day, se.Name, se.Timezone, se.Start, model.ChannelRef(se.Channel), model.UserRef(se.Host))
		if err != nil {
			errs = append(errs, fmt.Errorf("static.events[%d]: %w", i, err))
			continue
		}
		s.Roster = s.Roster.With(ev)
	}
	return s, errors.Join(errs...)
}

// Underlay returns a copy of s whose roster starts with events. Events
// already in s replace same-named ones from the underlay.
func (s *Snapshot) Underlay(events []model.Event) *Snapshot {
	out := *s
	r := roster.New(events...)
	for _, ev := range s.Roster.All() {
		r = r.With(ev)
	}
	out.Roster = r
	return &out
}
