package scraper

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"roguestock-notifier/pkg/notifier"
	"strings"
	"testing"
	"time"
)

const singlePage = `<html><body>
<h1 class="product-title">  Widget  </h1>
<span class="price">$10</span>
<div class="bin-stock-availability">Add to Cart</div>
</body></html>`

const multiPage = `<html><body>
<div class="grouped-item">
  <div class="item-name">Ohio Bar</div><span class="price">$265.00</span>
  <div class="bin-stock-availability">Add to Cart</div>
</div>
<div class="grouped-item">
  <div class="item-name">Ohio Bar Cerakote</div><span class="price">$295.00</span>
  <div class="bin-stock-availability">Notify Me When Available</div>
</div>
<div class="grouped-item">
  <div class="item-name">Bar Wrap</div><span class="price">$9.00</span>
  <div class="bin-stock-availability">Add to Cart</div>
</div>
</body></html>`

func testScraper() *Scraper {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	s := New(&http.Client{Timeout: 5 * time.Second}, logger)
	s.attempts = 1
	return s
}

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		html  string
		shape notifier.Shape
		noise []string
		want  []notifier.StockRecord
	}{
		{
			name:  "single in stock",
			html:  singlePage,
			shape: notifier.ShapeSingle,
			want:  []notifier.StockRecord{{Name: "Widget", Price: "$10", InStock: true}},
		},
		{
			name:  "single with missing fields",
			html:  `<html><body><p>maintenance</p></body></html>`,
			shape: notifier.ShapeSingle,
			want:  []notifier.StockRecord{{Name: "", Price: "", InStock: true}},
		},
		{
			name:  "single sold out",
			html:  strings.Replace(singlePage, "Add to Cart", "Notify Me", 1),
			shape: notifier.ShapeSingle,
			want:  []notifier.StockRecord{{Name: "Widget", Price: "$10", InStock: false}},
		},
		{
			name:  "multi",
			html:  multiPage,
			shape: notifier.ShapeMulti,
			want: []notifier.StockRecord{
				{Name: "Ohio Bar", Price: "$265.00", InStock: true},
				{Name: "Ohio Bar Cerakote", Price: "$295.00", InStock: false},
				{Name: "Bar Wrap", Price: "$9.00", InStock: true},
			},
		},
		{
			name:  "multi with noise",
			html:  multiPage,
			shape: notifier.ShapeMulti,
			noise: []string{"Bar Wrap"},
			want: []notifier.StockRecord{
				{Name: "Ohio Bar", Price: "$265.00", InStock: true},
				{Name: "Ohio Bar Cerakote", Price: "$295.00", InStock: false},
			},
		},
		{
			name:  "multi with no blocks",
			html:  `<html><body></body></html>`,
			shape: notifier.ShapeMulti,
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(strings.NewReader(tt.html), tt.shape, tt.noise)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Parse() returned %d records, want %d: %+v", len(got), len(tt.want), got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("record %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/single":
			_, _ = w.Write([]byte(singlePage))
		case "/multi":
			_, _ = w.Write([]byte(multiPage))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s := testScraper()
	ctx := context.Background()

	records, err := s.Fetch(ctx, srv.URL+"/multi", notifier.ShapeMulti, []string{"Ohio Bar Cerakote"})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Fetch() returned %d records, want 2", len(records))
	}

	records, err = s.Fetch(ctx, srv.URL+"/single", notifier.ShapeSingle, nil)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(records) != 1 || records[0].Name != "Widget" {
		t.Errorf("Fetch() = %+v, want one Widget record", records)
	}

	if _, err := s.Fetch(ctx, srv.URL+"/missing", notifier.ShapeSingle, nil); !IsFetchError(err) {
		t.Errorf("Fetch() on 404 error = %v, want FetchError", err)
	}
}

func TestFetchTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	pageURL := srv.URL + "/gone"
	srv.Close()

	_, err := testScraper().Fetch(context.Background(), pageURL, notifier.ShapeSingle, nil)
	if err == nil {
		t.Fatal("Fetch() against closed server should fail")
	}
	if !IsFetchError(err) {
		t.Errorf("Fetch() error = %v, want FetchError", err)
	}
}
