package submission

import (
	"regexp"
	"strings"

	"playtestbot/internal/model"
)

const slotCount = 6

// markerPattern matches one bullet marker token: the custom emoji form
// <:Bullet_3:123>, the shortcode form :bullet_3: and a bare Bullet3.
var markerPattern = regexp.MustCompile(`(?i)<a?:bullet_?([1-6]):\d+>|:bullet_?([1-6]):|\bbullet_?([1-6])\b`)

// slotLabels lists the accepted labels per slot, longest first.
var slotLabels = [slotCount][]string{
	{"name of game", "game name", "name"},
	{"number of players", "players"},
	{"total time", "length", "time"},
	{"description of game", "description", "desc"},
	{"playtesting platform", "platform"},
	{"any additional info", "additional info", "info"},
}

const placeholderName = "name of game"

type token struct {
	slot       int
	start, end int
}

// Parse extracts a Game from a chat message. The boolean is false when the
// text is not a submission; that is the normal result for ordinary chat.
//
// A submission is marker 1 followed by markers 2..5 in order, optionally
// followed by marker 6. Each marker's text runs to the next marker or the end
// of the message and may start with its label.
func Parse(text string, author model.UserRef) (model.Game, bool) {
	tokens := tokenize(text)

	for i, tok := range tokens {
		if tok.slot != 1 {
			continue
		}
		spans, ok := slotSpans(text, tokens[i:])
		if !ok {
			continue
		}
		return build(spans, author)
	}
	return model.Game{}, false
}

func tokenize(text string) []token {
	matches := markerPattern.FindAllStringSubmatchIndex(text, -1)
	tokens := make([]token, 0, len(matches))
	for _, m := range matches {
		slot := 0
		for g := 1; g <= 3; g++ {
			if m[2*g] >= 0 {
				slot = int(text[m[2*g]] - '0')
				break
			}
		}
		tokens = append(tokens, token{slot: slot, start: m[0], end: m[1]})
	}
	return tokens
}

// slotSpans validates marker order starting at tokens[0] and returns the
// raw text of each slot. spans[5] is nil when marker 6 is absent.
func slotSpans(text string, tokens []token) ([slotCount]*string, bool) {
	var spans [slotCount]*string
	if len(tokens) < 5 {
		return spans, false
	}
	for k := 0; k < 5; k++ {
		if tokens[k].slot != k+1 {
			return spans, false
		}
	}

	// The span of token k ends where the next token starts.
	end := func(k int) int {
		if k+1 < len(tokens) {
			return tokens[k+1].start
		}
		return len(text)
	}

	for k := 0; k < 5; k++ {
		s := text[tokens[k].end:end(k)]
		spans[k] = &s
	}
	if len(tokens) > 5 && tokens[5].slot == 6 {
		s := text[tokens[5].end:end(5)]
		spans[5] = &s
	}
	return spans, true
}

func build(spans [slotCount]*string, author model.UserRef) (model.Game, bool) {
	var fields [slotCount]string
	for k := 0; k < slotCount; k++ {
		if spans[k] == nil {
			continue
		}
		fields[k] = strings.TrimSpace(stripLabel(*spans[k], k))
	}

	g := model.Game{
		Name:        stripNewlines(fields[0]),
		Players:     fields[1],
		Length:      fields[2],
		Description: fields[3],
		Platform:    stripNewlines(fields[4]),
		Submitter:   author,
	}
	if spans[5] != nil && fields[5] != "" {
		info := fields[5]
		g.Info = &info
	}

	// Posting the blank template is not a submission.
	if g.Name == "" || strings.Contains(strings.ToLower(g.Name), placeholderName) {
		return model.Game{}, false
	}
	if g.Players == "" || g.Length == "" || g.Description == "" || g.Platform == "" {
		return model.Game{}, false
	}
	return g, true
}

// stripLabel removes an optional, optionally bolded "label:" prefix.
func stripLabel(span string, slot int) string {
	s := trimBold(span)
	for _, label := range slotLabels[slot] {
		if len(s) < len(label) || !strings.EqualFold(s[:len(label)], label) {
			continue
		}
		rest := trimBold(s[len(label):])
		if strings.HasPrefix(rest, ":") {
			return trimBold(rest[1:])
		}
	}
	return span
}

// trimBold drops leading whitespace and at most one "**" pair marker.
func trimBold(s string) string {
	s = strings.TrimLeft(s, " \t\r\n")
	if rest, ok := strings.CutPrefix(s, "**"); ok {
		s = strings.TrimLeft(rest, " \t\r\n")
	}
	return s
}

func stripNewlines(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}
