// Package auditlog appends stock change records to a plain text log.
package auditlog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"roguestock-notifier/pkg/notifier"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/googleapi"
)

// Log appends audit lines to a local file or a Cloud Storage object.
type Log struct {
	client    *storage.Client
	logger    *slog.Logger
	loc       *time.Location
	localPath string
	bucket    string
	object    string

	mu sync.Mutex
}

// New creates an audit log. A non-empty localPath wins over the bucket.
func New(client *storage.Client, bucket, object, localPath string, loc *time.Location, logger *slog.Logger) *Log {
	if loc == nil {
		loc = time.Local
	}
	return &Log{
		client:    client,
		logger:    logger,
		loc:       loc,
		localPath: localPath,
		bucket:    bucket,
		object:    object,
	}
}

// FormatLine renders one record as "time | product | summary | link\n".
func FormatLine(rec notifier.AuditRecord, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return strings.Join([]string{
		rec.Time.In(loc).Format(notifier.TimeLayout),
		rec.ProductName,
		rec.Summary,
		rec.URL,
	}, " | ") + "\n"
}

// Append writes one record. Appends are serialized.
func (l *Log) Append(ctx context.Context, rec notifier.AuditRecord) error {
	line := FormatLine(rec, l.loc)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.localPath != "" {
		return l.appendLocal(line)
	}
	return l.appendObject(ctx, line)
}

func (l *Log) appendLocal(line string) error {
	if dir := filepath.Dir(l.localPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
	}
	f, err := os.OpenFile(l.localPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	if _, err := f.WriteString(line); err != nil {
		if closeErr := f.Close(); closeErr != nil {
			l.logger.Warn("Failed to close audit log after error", "error", closeErr)
		}
		return fmt.Errorf("write audit log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close audit log: %w", err)
	}
	return nil
}

// appendObject rewrites the object with the new line under a generation
// precondition, so a concurrent writer forces a re-read instead of a lost update.
func (l *Log) appendObject(ctx context.Context, line string) error {
	obj := l.client.Bucket(l.bucket).Object(l.object)

	err := retry.Do(
		func() error {
			existing, cond, err := l.readObject(ctx, obj)
			if err != nil {
				return err
			}

			w := obj.If(cond).NewWriter(ctx)
			w.ContentType = "text/plain; charset=utf-8"
			if _, err := w.Write(append(existing, line...)); err != nil {
				if closeErr := w.Close(); closeErr != nil {
					l.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", err)
			}
			if err := w.Close(); err != nil {
				return fmt.Errorf("close storage writer: %w", err)
			}
			return nil
		},
		retry.Attempts(5),
		retry.Delay(200*time.Millisecond),
		retry.MaxDelay(5*time.Second),
		retry.MaxJitter(500*time.Millisecond),
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, storage.ErrBucketNotExist)
		}),
		retry.OnRetry(func(n uint, err error) {
			if IsPreconditionFailed(err) {
				l.logger.Debug("Audit object changed concurrently, re-reading", "attempt", n, "object", l.object)
				return
			}
			l.logger.Info("Retrying audit append after error", "attempt", n, "object", l.object, "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("append after retries: %w", err)
	}
	l.logger.Debug("Audit line appended", "bucket", l.bucket, "object", l.object)
	return nil
}

func (l *Log) readObject(ctx context.Context, obj *storage.ObjectHandle) ([]byte, storage.Conditions, error) {
	r, err := obj.NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, storage.Conditions{DoesNotExist: true}, nil
	}
	if err != nil {
		return nil, storage.Conditions{}, fmt.Errorf("open storage reader: %w", err)
	}
	defer func() {
		if closeErr := r.Close(); closeErr != nil {
			l.logger.Warn("Failed to close storage reader", "error", closeErr)
		}
	}()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, storage.Conditions{}, fmt.Errorf("read from storage: %w", err)
	}
	return data, storage.Conditions{GenerationMatch: r.Attrs.Generation}, nil
}

// IsPreconditionFailed reports whether another writer changed the object first.
func IsPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
