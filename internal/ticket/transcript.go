package ticket

import (
	"fmt"
	"strings"
	"time"

	"guild-warden/internal/platform"
)

const transcriptTimeLayout = "2006-01-02 15:04:05"

// Transcript renders history oldest first, one line per message.
func Transcript(t Ticket, closedBy string, closedAt time.Time, history []platform.HistoryMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ticket %s (%s)\n", t.ChannelName, t.ID)
	fmt.Fprintf(&b, "Category: %s\n", t.Category)
	fmt.Fprintf(&b, "Requester: %s (%s)\n", t.RequesterName, t.RequesterID)
	if t.ClaimedBy != "" {
		fmt.Fprintf(&b, "Claimed by: %s\n", t.ClaimedBy)
	}
	fmt.Fprintf(&b, "Closed by: %s at %s UTC\n\n", closedBy, closedAt.UTC().Format(transcriptTimeLayout))

	for _, msg := range history {
		fmt.Fprintf(&b, "[%s] %s: %s", msg.Timestamp.UTC().Format(transcriptTimeLayout), msg.AuthorName, msg.Content)
		if len(msg.Attachments) > 0 {
			fmt.Fprintf(&b, " [attachments: %s]", strings.Join(msg.Attachments, ", "))
		}
		b.WriteByte('\n')
	}
	return b.String()
}
