package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"clubdash/internal/metrics"
)

const (
	FormatJSON = "json"
	FormatFeed = "feed"

	maxBodyBytes = 4 << 20
)

// Cache stores processed upstream bodies.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, body []byte, ttl time.Duration) error
}

type Config struct {
	Name     string
	Title    string
	Noun     string
	URL      string
	Format   string
	CacheTTL time.Duration
}

// StatusError is returned when the upstream answers with a non-2xx status.
type StatusError struct {
	Title  string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error: %d", e.Title, e.Status)
}

// InvalidResponseError is returned when the upstream body cannot be decoded.
type InvalidResponseError struct {
	Noun string
	Err  error
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("Invalid JSON response from %s API", e.Noun)
}

func (e *InvalidResponseError) Unwrap() error { return e.Err }

// FetchError is returned when the upstream could not be reached.
type FetchError struct {
	Noun string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("Failed to fetch %s", e.Noun)
}

func (e *FetchError) Unwrap() error { return e.Err }

// FeedItem is the normalized JSON shape of an RSS, Atom or JSON Feed entry.
type FeedItem struct {
	Title       string     `json:"title"`
	Link        string     `json:"link"`
	Description string     `json:"description"`
	Published   *time.Time `json:"published"`
	GUID        string     `json:"guid"`
}

type Proxy struct {
	cfg    Config
	client *http.Client
	parser *gofeed.Parser
	cache  Cache
	log    *zap.Logger
}

// New builds a proxy. A nil cache disables caching.
func New(cfg Config, client *http.Client, cache Cache, log *zap.Logger) *Proxy {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.Format == "" {
		cfg.Format = FormatJSON
	}
	return &Proxy{
		cfg:    cfg,
		client: client,
		parser: gofeed.NewParser(),
		cache:  cache,
		log:    log.Named("upstream").With(zap.String("upstream", cfg.Name)),
	}
}

func (p *Proxy) Name() string { return p.cfg.Name }

// Fetch returns the upstream body as JSON, from cache when possible.
func (p *Proxy) Fetch(ctx context.Context) ([]byte, error) {
	if p.cache != nil && p.cfg.CacheTTL > 0 {
		body, ok, err := p.cache.Get(ctx, p.cfg.Name)
		if err != nil {
			p.log.Warn("cache read failed", zap.Error(err))
		} else if ok {
			metrics.UpstreamRequests.WithLabelValues(p.cfg.Name, "cache").Inc()
			return body, nil
		}
	}

	body, err := p.fetch(ctx)
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(p.cfg.Name, "error").Inc()
		p.log.Error("upstream request failed", zap.Error(err))
		return nil, err
	}
	metrics.UpstreamRequests.WithLabelValues(p.cfg.Name, "origin").Inc()

	if p.cache != nil && p.cfg.CacheTTL > 0 {
		if err := p.cache.Set(ctx, p.cfg.Name, body, p.cfg.CacheTTL); err != nil {
			p.log.Warn("cache write failed", zap.Error(err))
		}
	}

	return body, nil
}

func (p *Proxy) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.URL, nil)
	if err != nil {
		return nil, &FetchError{Noun: p.cfg.Noun, Err: err}
	}

	if p.cfg.Format == FormatFeed {
		req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/feed+json, application/xml, */*")
	} else {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &FetchError{Noun: p.cfg.Noun, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Title: p.cfg.Title, Status: resp.StatusCode}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &FetchError{Noun: p.cfg.Noun, Err: err}
	}

	if p.cfg.Format == FormatFeed {
		return p.normalizeFeed(raw)
	}

	if !json.Valid(raw) {
		return nil, &InvalidResponseError{Noun: p.cfg.Noun, Err: fmt.Errorf("body is not JSON (%d bytes)", len(raw))}
	}
	return raw, nil
}

func (p *Proxy) normalizeFeed(raw []byte) ([]byte, error) {
	feed, err := p.parser.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, &InvalidResponseError{Noun: p.cfg.Noun, Err: err}
	}

	items := make([]FeedItem, 0, len(feed.Items))
	for _, item := range feed.Items {
		published := item.PublishedParsed
		if published == nil {
			published = item.UpdatedParsed
		}
		if published != nil {
			utc := published.UTC()
			published = &utc
		}

		description := item.Description
		if description == "" {
			description = item.Content
		}

		items = append(items, FeedItem{
			Title:       item.Title,
			Link:        item.Link,
			Description: description,
			Published:   published,
			GUID:        item.GUID,
		})
	}

	return json.Marshal(items)
}
