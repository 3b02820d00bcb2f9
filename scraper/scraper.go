// Package scraper handles fetching and parsing product availability pages.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"roguestock-notifier/pkg/notifier"
	"slices"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"
)

// Selectors used on product pages.
const (
	groupSelector        = ".grouped-item"
	itemNameSelector     = ".item-name"
	productTitleSelector = ".product-title"
	priceSelector        = ".price"
	availabilitySelector = ".bin-stock-availability"
)

// FetchError indicates the page could not be retrieved.
// StatusCode is zero for transport failures.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsFetchError checks if an error is a FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// Scraper fetches and parses product pages.
type Scraper struct {
	client   *http.Client
	logger   *slog.Logger
	attempts uint
	delay    time.Duration
}

// New creates a new scraper.
func New(client *http.Client, logger *slog.Logger) *Scraper {
	return &Scraper{
		client:   client,
		logger:   logger,
		attempts: 3,
		delay:    500 * time.Millisecond,
	}
}

// Fetch returns the stock records on a page, skipping records named in noise.
func (s *Scraper) Fetch(ctx context.Context, pageURL string, shape notifier.Shape, noise []string) ([]notifier.StockRecord, error) {
	var records []notifier.StockRecord

	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}

			// Browser-like headers; some storefronts reject bare clients
			req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
			req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
			req.Header.Set("Accept-Language", "en-US,en;q=0.9")

			startTime := time.Now()
			resp, err := s.client.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				s.logger.Warn("HTTP request failed",
					"url", pageURL,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return &FetchError{URL: pageURL, Err: err}
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					s.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			s.logger.Debug("HTTP request completed",
				"url", pageURL,
				"status_code", resp.StatusCode,
				"duration_ms", duration.Milliseconds())

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				fe := &FetchError{URL: pageURL, StatusCode: resp.StatusCode}
				if resp.StatusCode < 500 {
					return retry.Unrecoverable(fe)
				}
				return fe
			}

			records, err = Parse(resp.Body, shape, noise)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("parse page: %w", err))
			}
			return nil
		},
		retry.Attempts(s.attempts),
		retry.Delay(s.delay),
		retry.MaxJitter(250*time.Millisecond),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Info("Retrying fetch after error", "url", pageURL, "attempt", n, "error", err)
		}),
	)
	if err != nil {
		if !IsFetchError(err) {
			return nil, &FetchError{URL: pageURL, Err: err}
		}
		return nil, fmt.Errorf("after retries: %w", err)
	}

	s.logger.Debug("Page parsed", "url", pageURL, "shape", shape, "records", len(records))
	return records, nil
}

// Parse extracts stock records from an HTML document.
// Missing fields yield empty strings rather than errors.
func Parse(body io.Reader, shape notifier.Shape, noise []string) ([]notifier.StockRecord, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, err
	}

	if shape != notifier.ShapeMulti {
		return []notifier.StockRecord{
			record(
				text(doc.Selection, productTitleSelector),
				text(doc.Selection, priceSelector),
				text(doc.Selection, availabilitySelector),
			),
		}, nil
	}

	var records []notifier.StockRecord
	doc.Find(groupSelector).Each(func(_ int, sel *goquery.Selection) {
		name := text(sel, itemNameSelector)
		if slices.Contains(noise, name) {
			return
		}
		records = append(records, record(name, text(sel, priceSelector), text(sel, availabilitySelector)))
	})
	return records, nil
}

func record(name, price, availability string) notifier.StockRecord {
	return notifier.StockRecord{
		Name:    name,
		Price:   price,
		InStock: !strings.Contains(availability, notifier.OutOfStockMarker),
	}
}

func text(sel *goquery.Selection, selector string) string {
	return strings.TrimSpace(sel.Find(selector).First().Text())
}
