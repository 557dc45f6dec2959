// Package refdata loads the broker's scrip master, preferring a fresh cached
// copy and falling back to a stale one when the download fails.
package refdata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/eddiefleurent/nifty_condor/internal/models"
	"github.com/eddiefleurent/nifty_condor/internal/retry"
)

// DefaultSourceURL is Angel One's public scrip master.
const DefaultSourceURL = "https://margincalculator.angelbroking.com/OpenAPI_File/files/OpenAPIScripMaster.json"

// ErrNoReferenceData means neither the cache nor the source produced data.
var ErrNoReferenceData = errors.New("no reference data available")

// maxDownloadSize caps the scrip master body.
const maxDownloadSize = 256 << 20

// DownloadError is a non-200 response from the source.
type DownloadError struct {
	Status int
	URL    string
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s: HTTP %d", e.URL, e.Status)
}

// StatusCode returns the HTTP status.
func (e *DownloadError) StatusCode() int {
	return e.Status
}

// Source says where a load came from.
type Source string

const (
	SourceFreshCache Source = "fresh_cache"
	SourceDownload   Source = "download"
	SourceStaleCache Source = "stale_cache"
)

// Result is a loaded scrip master.
type Result struct {
	Records   []models.InstrumentRecord
	Source    Source
	FetchedAt time.Time
}

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	SourceURL       string
	TTL             time.Duration // age below which the cache is used without downloading
	DownloadTimeout time.Duration
}

// Loader fetches the scrip master through a cache.
type Loader struct {
	config LoaderConfig
	cache  Cache
	retry  *retry.Client
	client *http.Client
	logger logrus.FieldLogger
	group  singleflight.Group
	now    func() time.Time
}

// NewLoader creates a loader. cache may be nil, in which case every load
// downloads. A nil retry client gets the default policy.
func NewLoader(cfg LoaderConfig, cache Cache, retrier *retry.Client, logger logrus.FieldLogger) *Loader {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if retrier == nil {
		retrier = retry.NewClient(logger)
	}
	return &Loader{
		config: cfg,
		cache:  cache,
		retry:  retrier,
		client: &http.Client{Timeout: cfg.DownloadTimeout},
		logger: logger,
		now:    time.Now,
	}
}

// Load returns the scrip master. Concurrent calls share one fetch.
func (l *Loader) Load(ctx context.Context) (*Result, error) {
	v, err, _ := l.group.Do("load", func() (interface{}, error) {
		return l.load(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

func (l *Loader) load(ctx context.Context) (*Result, error) {
	var cached []byte
	var fetchedAt time.Time
	if l.cache != nil {
		data, at, ok, err := l.cache.Get(ctx)
		switch {
		case err != nil:
			l.logger.WithError(err).Warn("Reading reference data cache failed")
		case ok:
			cached, fetchedAt = data, at
		}
	}

	if cached != nil && l.now().Sub(fetchedAt) < l.config.TTL {
		recs, err := Decode(bytes.NewReader(cached))
		if err == nil {
			l.logger.WithFields(logrus.Fields{"records": len(recs), "age": l.now().Sub(fetchedAt).Round(time.Second)}).
				Info("Using cached reference data")
			return &Result{Records: recs, Source: SourceFreshCache, FetchedAt: fetchedAt}, nil
		}
		l.logger.WithError(err).Warn("Cached reference data is corrupt, downloading")
		cached = nil
	}

	if l.config.SourceURL != "" {
		data, err := l.download(ctx)
		if err == nil {
			var recs []models.InstrumentRecord
			recs, err = Decode(bytes.NewReader(data))
			if err == nil {
				if l.cache != nil {
					if perr := l.cache.Put(ctx, data); perr != nil {
						l.logger.WithError(perr).Warn("Writing reference data cache failed")
					}
				}
				l.logger.WithField("records", len(recs)).Info("Downloaded reference data")
				return &Result{Records: recs, Source: SourceDownload, FetchedAt: l.now()}, nil
			}
		}
		l.logger.WithError(err).Warn("Reference data download failed")
	}

	if cached != nil {
		recs, err := Decode(bytes.NewReader(cached))
		if err == nil {
			l.logger.WithField("fetched_at", fetchedAt).Warn("Using stale cached reference data")
			return &Result{Records: recs, Source: SourceStaleCache, FetchedAt: fetchedAt}, nil
		}
	}
	return nil, ErrNoReferenceData
}

func (l *Loader) download(ctx context.Context) ([]byte, error) {
	var body []byte
	err := l.retry.Do(ctx, "download scrip master", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.config.SourceURL, http.NoBody)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		resp, err := l.client.Do(req)
		if err != nil {
			return err
		}
		defer func() {
			if err := resp.Body.Close(); err != nil {
				l.logger.WithError(err).Debug("Failed to close response body")
			}
		}()
		if resp.StatusCode != http.StatusOK {
			return &DownloadError{Status: resp.StatusCode, URL: l.config.SourceURL}
		}
		b, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize))
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	return body, err
}

// Decode parses a JSON array of scrip master rows.
func Decode(r io.Reader) ([]models.InstrumentRecord, error) {
	var recs []models.InstrumentRecord
	if err := json.NewDecoder(r).Decode(&recs); err != nil {
		return nil, fmt.Errorf("decoding reference data: %w", err)
	}
	return recs, nil
}
