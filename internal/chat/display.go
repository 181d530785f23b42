package chat

import (
	"time"

	"github.com/wabridge/wabridge/internal/message"
)

// MergeWindow is the gap under which adjacent same-direction messages are
// drawn as one visual run.
const MergeWindow = 5 * time.Minute

// DisplayMessage is a message with its visual merge flags. The flags only
// affect rendering; every message stays a separate entity.
type DisplayMessage struct {
	message.Message
	GroupedWithPrevious bool `json:"groupedWithPrevious"`
	GroupedWithNext     bool `json:"groupedWithNext"`
}

// DateGroup is a contiguous run of messages sharing one local calendar day.
type DateGroup struct {
	Date     string           `json:"date"` // YYYY-MM-DD in the display location
	Messages []DisplayMessage `json:"messages"`
}

// GroupForDisplay partitions messages into date groups in a single pass. A
// group ends whenever a message's local date differs from the message right
// before it; the input is never sorted, so out-of-order arrivals can produce
// several groups for the same date.
func GroupForDisplay(messages []message.Message, loc *time.Location) []DateGroup {
	if loc == nil {
		loc = time.Local
	}
	var groups []DateGroup
	current := ""
	for _, m := range messages {
		day := time.UnixMilli(m.TimestampMillis).In(loc).Format(time.DateOnly)
		if len(groups) == 0 || day != current {
			groups = append(groups, DateGroup{Date: day})
			current = day
		}
		g := &groups[len(groups)-1]
		g.Messages = append(g.Messages, DisplayMessage{Message: m})
	}

	for gi := range groups {
		msgs := groups[gi].Messages
		for i := 1; i < len(msgs); i++ {
			if mergesWith(msgs[i-1].Message, msgs[i].Message) {
				msgs[i-1].GroupedWithNext = true
				msgs[i].GroupedWithPrevious = true
			}
		}
	}
	return groups
}

func mergesWith(prev, cur message.Message) bool {
	if prev.Direction != cur.Direction {
		return false
	}
	gap := cur.TimestampMillis - prev.TimestampMillis
	if gap < 0 {
		gap = -gap
	}
	return gap < MergeWindow.Milliseconds()
}
