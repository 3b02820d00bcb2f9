// Package notifier contains the core domain types for the stock watch service.
package notifier

import "time"

// Shape tells the page reader how many product blocks a page carries.
type Shape string

const (
	ShapeSingle Shape = "single"
	ShapeMulti  Shape = "multi"
)

// TimeLayout is how check times appear in messages and the audit log.
const TimeLayout = "3:04:05 PM MST 1/2/2006"

// OutOfStockMarker is the availability text shown instead of an add-to-cart button.
const OutOfStockMarker = "Notify Me"

// CatalogItem is a statically configured product page, keyed by the command users type.
type CatalogItem struct {
	Key         string   // Command string, lowercase
	ProductName string   // Display name
	URL         string   // Remote locator
	Shape       Shape    // single or multi
	Noise       []string // Record names discarded as noise
}

// StockRecord is one product datum read from a page.
type StockRecord struct {
	Name    string
	Price   string // Raw price text
	InStock bool
}

// TransitionKind classifies one poll outcome for a catalog item.
type TransitionKind int

const (
	NoChange TransitionKind = iota
	FirstObservation
	WentOutOfStock
	RestockOrCountChanged
)

func (k TransitionKind) String() string {
	switch k {
	case FirstObservation:
		return "first_observation"
	case WentOutOfStock:
		return "went_out_of_stock"
	case RestockOrCountChanged:
		return "restock_or_count_changed"
	default:
		return "no_change"
	}
}

// Transition is the result of comparing a fetch against the previous tally.
type Transition struct {
	Kind       TransitionKind
	Tally      int    // In-stock count after this fetch
	Summary    string // Multi-line summary for messages
	LogSummary string // Single-line summary for the audit log
}

// Notify reports whether every subscriber should hear about this transition.
func (t Transition) Notify() bool {
	return t.Kind == WentOutOfStock || t.Kind == RestockOrCountChanged
}

// AuditRecord is one line of the stock change log.
type AuditRecord struct {
	Time        time.Time
	ProductName string
	Summary     string
	URL         string
}

// Notice is what one subscriber is told about one item.
// Kind FirstObservation selects the first-check message.
type Notice struct {
	Item      CatalogItem
	Kind      TransitionKind
	Summary   string
	Tracking  int // Items the subscriber is tracking
	Limit     int
	CheckedAt time.Time
}
