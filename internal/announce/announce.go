package announce

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"playtestbot/internal/model"
	"playtestbot/internal/recurrence"
)

// DefaultTemplate is the weekly "now accepting submissions" post.
const DefaultTemplate = `*Now accepting submissions for {{.Date}}*
**{{range $i, $z := .Zones}}{{if $i}}  ｜  {{end}}{{$z.Start}} - {{$z.End}} {{$z.Abbrev}}{{end}}**

Remember:
• **Playtesters** don't need to sign up, just join the voice chat when the session starts!
• Please type/write your pronouns in-game next to your display name when possible.
• Respect the rules of the event and its host {{.Host}}.

**Designers** please copy, paste, and fill out the following list into this channel to submit your game:

{{bullet 1}}   **Name of Game**:
{{bullet 2}}   **Number of Players**:
{{bullet 3}}   **Total Time**:
{{bullet 4}}   **Description of Game**:
{{bullet 5}}   **Playtesting Platform**:
{{bullet 6}}   **Any Additional Info**: *this is optional!*

We generally accept **six games** per session, and aim to make sure designers who have not playtested with us before or recently have an opportunity to share their games first.`

// Options configure a Composer.
type Options struct {
	// DisplayZones are IANA names; the session time is shown in each.
	DisplayZones  []string
	SessionLength time.Duration
	PreviewOffset time.Duration
	// Bullets are the six marker tokens printed in the blank template.
	Bullets []string
	// Template overrides DefaultTemplate when non-empty.
	Template string
}

// ZoneSpan is the session window in one display zone.
type ZoneSpan struct {
	Start  string
	End    string
	Abbrev string
}

// announcementData is the template input.
type announcementData struct {
	Event string
	Date  string
	Host  string
	Zones []ZoneSpan
	When  time.Time
}

// Composer renders the bot's posts.
type Composer struct {
	th      recurrence.Thresholds
	zones   []*time.Location
	length  time.Duration
	offset  time.Duration
	bullets [6]string
	tmpl    *template.Template
}

// New builds a Composer, loading the display zones and parsing the template.
func New(opts Options, th recurrence.Thresholds) (*Composer, error) {
	c := &Composer{
		th:     th,
		length: opts.SessionLength,
		offset: opts.PreviewOffset,
	}
	if c.length <= 0 {
		c.length = 3 * time.Hour
	}

	for _, name := range opts.DisplayZones {
		loc, err := time.LoadLocation(name)
		if err != nil {
			return nil, fmt.Errorf("announce: display zone %q: %w", name, err)
		}
		c.zones = append(c.zones, loc)
	}

	for i := range c.bullets {
		if i < len(opts.Bullets) && opts.Bullets[i] != "" {
			c.bullets[i] = opts.Bullets[i]
		} else {
			c.bullets[i] = fmt.Sprintf(":bullet_%d:", i+1)
		}
	}

	text := opts.Template
	if strings.TrimSpace(text) == "" {
		text = DefaultTemplate
	}
	tmpl, err := template.New("announcement").Funcs(template.FuncMap{
		"bullet": func(n int) string {
			if n < 1 || n > len(c.bullets) {
				return ""
			}
			return c.bullets[n-1]
		},
	}).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("announce: template: %w", err)
	}
	c.tmpl = tmpl
	return c, nil
}

// Announcement renders the post for the occurrence current at now plus the
// preview offset, which at Ending time is next week's.
func (c *Composer) Announcement(ev model.Event, now time.Time) (string, error) {
	when := c.th.Next(ev, now, c.offset)
	loc := ev.Location
	if loc == nil {
		loc = time.UTC
	}

	data := announcementData{
		Event: ev.Name,
		Date:  when.In(loc).Format("January 2"),
		Host:  ev.Host.Mention(),
		When:  when,
	}
	zones := c.zones
	if len(zones) == 0 {
		zones = []*time.Location{loc}
	}
	for _, z := range zones {
		start := when.In(z)
		end := start.Add(c.length)
		data.Zones = append(data.Zones, ZoneSpan{
			Start:  start.Format("3:04"),
			End:    end.Format("3:04"),
			Abbrev: end.Format("MST"),
		})
	}

	var b strings.Builder
	if err := c.tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("announce: render %q: %w", ev.Name, err)
	}
	return b.String(), nil
}

// StartRoster is the response-channel post made when an event starts.
func StartRoster(ev model.Event, games []model.Game) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Channels created for %s, %s. The following games are up tonight:\n", ev.Name, ev.Host.Mention())
	lines := make([]string, 0, len(games))
	for _, g := range games {
		if !g.Approved {
			continue
		}
		line := fmt.Sprintf("%s (%s by %s)", g.Name, g.Platform, g.Submitter.Mention())
		if g.OnDeck {
			line += " (on deck)"
		}
		lines = append(lines, line)
	}
	b.WriteString(strings.Join(lines, "\n"))
	return b.String()
}

// Started is the event-channel post made when an event starts.
func Started(ev model.Event, voice model.ChannelRef) string {
	return fmt.Sprintf("%s has started! Please join %s", ev.Name, voice.Mention())
}

// Cleanup reports the Ending transition's resource cleanup.
func Cleanup(ev model.Event, failed int) string {
	if failed == 0 {
		return "Cleaned up voice channels for " + ev.Name
	}
	return fmt.Sprintf("Cleaned up voice channels for %s, but %d %s could not be found or removed",
		ev.Name, failed, plural(failed, "channel", "channels"))
}

// Report lists the current submissions of an event.
func Report(name string, games []model.Game) string {
	var b strings.Builder
	fmt.Fprintf(&b, "There %s currently %d %s for %s\n",
		plural(len(games), "is", "are"), len(games), plural(len(games), "game", "games"), name)
	lines := make([]string, 0, len(games))
	for _, g := range games {
		lines = append(lines, fmt.Sprintf("%s (%s) by %s (%s)", g.Name, g.Platform, g.Submitter.Mention(), g.Status()))
	}
	b.WriteString(strings.Join(lines, "\n"))
	return b.String()
}

// EventList lists events with their next local start time.
func EventList(events []model.Event, now time.Time, th recurrence.Thresholds) string {
	lines := make([]string, 0, len(events))
	for _, ev := range events {
		loc := ev.Location
		if loc == nil {
			loc = time.UTC
		}
		next := th.Next(ev, now, 0).In(loc)
		lines = append(lines, fmt.Sprintf("%s - next running at %s", ev.Name, next.Format("January 2 15:04 MST")))
	}
	return "I know about the following events:\n" + strings.Join(lines, ",\n")
}

// NotFound answers a command naming an unknown event.
func NotFound(name string) string {
	return "I can't find an event called " + name
}

// Help lists the supported commands.
func Help() string {
	return "I respond to the following commands when tagged:\n" +
		"help\n" +
		"report for [event name]\n" +
		"list events\n" +
		"test post for [event name]\n" +
		"create channels for [event name]\n" +
		"delete channels for [event name]\n"
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
