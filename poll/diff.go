package poll

import (
	"roguestock-notifier/pkg/notifier"
	"strings"
)

const (
	inStockMark   = "✅"
	soldOutNotice = "Everything currently out of stock."
)

// Classify counts in-stock records and compares the count with prev.
// A nil prev means the item has never been fetched successfully.
func Classify(prev *int, records []notifier.StockRecord) (int, notifier.Transition) {
	var blocks, names []string
	tally := 0
	for _, r := range records {
		if !r.InStock {
			continue
		}
		tally++
		blocks = append(blocks, r.Name+"\n"+r.Price+"\nIn stock: "+inStockMark)
		names = append(names, r.Name+" "+inStockMark)
	}

	tr := notifier.Transition{
		Tally:      tally,
		Summary:    soldOutNotice,
		LogSummary: soldOutNotice,
	}
	if tally > 0 {
		tr.Summary = strings.Join(blocks, "\n\n")
		tr.LogSummary = strings.Join(names, ", ")
	}

	switch {
	case prev == nil:
		tr.Kind = notifier.FirstObservation
	case tally == 0 && *prev > 0:
		tr.Kind = notifier.WentOutOfStock
	case tally != *prev:
		tr.Kind = notifier.RestockOrCountChanged
	default:
		tr.Kind = notifier.NoChange
	}
	return tally, tr
}
