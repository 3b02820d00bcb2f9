package messenger

import (
	"fmt"
	"roguestock-notifier/pkg/notifier"
	"strings"
	"time"
)

// FormatNotice renders the message one subscriber receives for one item.
func FormatNotice(n notifier.Notice, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	checked := n.CheckedAt.In(loc).Format(notifier.TimeLayout)

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s: %q\n", header(n.Kind), n.Item.Key))
	b.WriteString(fmt.Sprintf("Match found for: %q.\n", n.Item.ProductName))
	b.WriteString(fmt.Sprintf("Currently searching %d/%d items", n.Tracking, n.Limit))
	b.WriteString("\n\n")
	b.WriteString(n.Summary)
	b.WriteString("\n\n")

	if n.Kind == notifier.FirstObservation {
		b.WriteString("First initial check on " + checked + "\n")
		b.WriteString("You will be notified everytime there is a change in stock.\n")
		b.WriteString("Will begin running in the background until \"stop\"\n")
	} else {
		b.WriteString("Checked On " + checked + "\n")
	}
	b.WriteString("Link " + n.Item.URL)
	return b.String()
}

func header(kind notifier.TransitionKind) string {
	switch kind {
	case notifier.FirstObservation:
		return "FIRST CHECK"
	case notifier.WentOutOfStock:
		return "SOLD OUT"
	default:
		return "RESTOCK"
	}
}
