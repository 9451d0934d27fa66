package submission

import (
	"slices"

	"playtestbot/internal/model"
)

// Markers are the configured reaction identities. An empty identity is
// unconfigured and never matches.
type Markers struct {
	Approve string `yaml:"approve" json:"approve"`
	OnDeck  string `yaml:"on_deck" json:"on_deck"`
}

// Tag returns a copy of g whose Approved and OnDeck flags reflect the
// reactions observed on its source message. Other fields are untouched.
func Tag(g model.Game, reactions []string, m Markers) model.Game {
	g.Approved = m.Approve != "" && slices.Contains(reactions, m.Approve)
	g.OnDeck = m.OnDeck != "" && slices.Contains(reactions, m.OnDeck)
	return g
}
