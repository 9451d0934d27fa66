package discord

import (
	"slices"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
)

// discordEpoch is the first millisecond of 2015 in Unix milliseconds.
const discordEpoch = 1420070400000

// snowflakeAt returns the smallest snowflake minted at t, for use as an
// "after" cursor. Instants before the epoch map to "0".
func snowflakeAt(t time.Time) string {
	ms := t.UnixMilli() - discordEpoch
	if t.IsZero() || ms <= 0 {
		return "0"
	}
	return strconv.FormatUint(uint64(ms)<<22, 10)
}

// compareSnowflakes orders decimal snowflakes numerically.
func compareSnowflakes(a, b string) int {
	if len(a) != len(b) {
		return len(a) - len(b)
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func sortOldestFirst(msgs []*discordgo.Message) {
	slices.SortFunc(msgs, func(a, b *discordgo.Message) int { return compareSnowflakes(a.ID, b.ID) })
}
