package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	ErrTooLarge   = errors.New("attachment exceeds size ceiling")
	ErrNotAllowed = errors.New("attachment type is not allowed")
)

// DownloadError is returned for a single attachment that could not be
// fetched. It never aborts sibling downloads.
type DownloadError struct {
	Name       string
	StatusCode int
	Err        error
}

func (e *DownloadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download %s: status %d", e.Name, e.StatusCode)
	}
	return fmt.Sprintf("download %s: %v", e.Name, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// FileAllocator hands out unique scratch paths owned by the current request.
type FileAllocator interface {
	NewFile(ext string) string
}

type FetcherConfig struct {
	Limits      Limits
	AuthToken   string
	Timeout     time.Duration
	Concurrency int
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

type Fetcher struct {
	limits      Limits
	authToken   string
	concurrency int
	httpClient  *http.Client
	logger      *slog.Logger
}

func NewFetcher(cfg FetcherConfig) *Fetcher {
	limits := cfg.Limits
	defaults := DefaultLimits()
	if limits.Image <= 0 {
		limits.Image = defaults.Image
	}
	if limits.Video <= 0 {
		limits.Video = defaults.Video
	}
	if limits.Audio <= 0 {
		limits.Audio = defaults.Audio
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 3
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		limits:      limits,
		authToken:   strings.TrimSpace(cfg.AuthToken),
		concurrency: concurrency,
		httpClient:  client,
		logger:      logger,
	}
}

func (f *Fetcher) Limits() Limits {
	return f.limits
}

// FetchAll downloads every acceptable attachment. Rejected attachments are
// skipped and failed downloads are logged and skipped. The result keeps the
// input order.
func (f *Fetcher) FetchAll(ctx context.Context, attachments []Attachment, files FileAllocator) []Item {
	slots := make([]*Item, len(attachments))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(f.concurrency)
	for index, attachment := range attachments {
		group.Go(func() error {
			item, err := f.Fetch(groupCtx, attachment, files)
			switch {
			case err == nil:
				slots[index] = &item
			case errors.Is(err, ErrNotAllowed) || errors.Is(err, ErrTooLarge):
				f.logger.Info("attachment skipped",
					"name", attachment.Name,
					"mime_type", attachment.MimeType,
					"size_bytes", attachment.SizeBytes,
					"reason", err,
				)
			default:
				f.logger.Warn("attachment download failed", "name", attachment.Name, "error", err)
			}
			return nil
		})
	}
	_ = group.Wait()

	items := make([]Item, 0, len(attachments))
	for _, slot := range slots {
		if slot != nil {
			items = append(items, *slot)
		}
	}
	return items
}

// Fetch downloads one attachment after applying the allow-list. A type outside
// the allow-list fails with ErrNotAllowed, a size over the ceiling with
// ErrTooLarge.
func (f *Fetcher) Fetch(ctx context.Context, attachment Attachment, files FileAllocator) (Item, error) {
	kind, ok := f.limits.Accept(attachment)
	if !ok {
		reason := ErrTooLarge
		if kind == KindUnknown {
			reason = ErrNotAllowed
		}
		return Item{}, &DownloadError{Name: attachment.Name, Err: reason}
	}
	return f.fetch(ctx, attachment, kind, files)
}

func (f *Fetcher) fetch(ctx context.Context, attachment Attachment, kind Kind, files FileAllocator) (Item, error) {
	name := strings.TrimSpace(attachment.Name)
	if name == "" {
		name = "attachment"
	}
	ref := strings.TrimSpace(attachment.DownloadRef)
	if ref == "" {
		return Item{}, &DownloadError{Name: name, Err: errors.New("missing download reference")}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return Item{}, &DownloadError{Name: name, Err: err}
	}
	if f.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+f.authToken)
	}
	res, err := f.httpClient.Do(req)
	if err != nil {
		return Item{}, &DownloadError{Name: name, Err: err}
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return Item{}, &DownloadError{Name: name, StatusCode: res.StatusCode}
	}

	path := files.NewFile(extensionFor(name, attachment.MimeType))
	if err := writeLimited(path, res.Body, f.limits.MaxSizeForKind(kind)); err != nil {
		_ = os.Remove(path)
		return Item{}, &DownloadError{Name: name, Err: err}
	}
	return Item{Path: path, Name: name, Kind: kind}, nil
}

func writeLimited(path string, body io.Reader, maxBytes int64) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	written, copyErr := io.Copy(file, &io.LimitedReader{R: body, N: maxBytes + 1})
	closeErr := file.Close()
	if copyErr != nil {
		return copyErr
	}
	if closeErr != nil {
		return closeErr
	}
	if written > maxBytes {
		return ErrTooLarge
	}
	return nil
}
