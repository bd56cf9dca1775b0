package pagination

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/crm-export/pkg/record"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds paginator configuration.
type Config struct {
	// PageSize is sent as the "limit" query parameter.
	PageSize int

	// MaxPages bounds the number of requests per endpoint. Zero disables the bound.
	MaxPages int
}

// DefaultConfig returns the default page size and page bound.
func DefaultConfig() Config {
	return Config{
		PageSize: 100,
		MaxPages: 10000,
	}
}

// Getter issues one GET and decodes the JSON body into out.
// *client.Client implements it.
type Getter interface {
	GetJSON(ctx context.Context, endpoint string, query url.Values, out any) error
}

// Page is one list response.
type Page struct {
	Results []record.Record `json:"results"`
	Paging  *Paging         `json:"paging,omitempty"`
}

// Paging carries the cursor to the next page, if any.
type Paging struct {
	Next *Next `json:"next,omitempty"`
}

// Next is the continuation token of a page.
type Next struct {
	After string `json:"after"`
	Link  string `json:"link,omitempty"`
}

// NextCursor returns the "after" token, or "" on the last page.
func (p *Page) NextCursor() string {
	if p.Paging == nil || p.Paging.Next == nil {
		return ""
	}
	return p.Paging.Next.After
}

// Stats describes the most recent iteration.
type Stats struct {
	Pages    int
	Records  int
	Duration time.Duration
}

// Paginator walks cursor-paginated list endpoints.
// A Paginator is not safe for concurrent iterations.
type Paginator struct {
	getter Getter
	config Config
	logger zerolog.Logger
	stats  Stats
}

// New creates a paginator over getter.
func New(getter Getter, config Config) *Paginator {
	if config.PageSize <= 0 {
		config.PageSize = DefaultConfig().PageSize
	}
	if config.MaxPages < 0 {
		config.MaxPages = 0
	}

	return &Paginator{
		getter: getter,
		config: config,
		logger: log.With().Str("component", "paginator").Logger(),
	}
}

// Stats returns the counters of the last (or running) iteration.
func (p *Paginator) Stats() Stats {
	return p.stats
}

// Records returns a lazy sequence of every record behind endpoint. Pages are
// requested only as the sequence is consumed; each new iteration starts over
// from the first page. The first error ends the sequence.
//
// extra is sent with every request; "limit" and "after" are managed here.
func (p *Paginator) Records(ctx context.Context, endpoint string, extra url.Values) iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		start := time.Now()
		p.stats = Stats{}
		defer func() {
			p.stats.Duration = time.Since(start)
		}()

		seen := make(map[string]struct{})
		after := ""

		for {
			query := make(url.Values, len(extra)+2)
			for key, values := range extra {
				query[key] = append([]string(nil), values...)
			}
			query.Set("limit", strconv.Itoa(p.config.PageSize))
			if after != "" {
				query.Set("after", after)
			}

			// Fresh page per request so a missing "paging" cannot leak a stale cursor.
			var page Page
			err := p.getter.GetJSON(ctx, endpoint, query, &page)
			p.stats.Pages++
			if err != nil {
				p.logger.Warn().
					Err(err).
					Str("endpoint", endpoint).
					Int("page", p.stats.Pages).
					Msg("Page fetch failed")
				yield(record.Record{}, fmt.Errorf("fetch page %d of %s: %w", p.stats.Pages, endpoint, err))
				return
			}

			p.logger.Debug().
				Str("endpoint", endpoint).
				Int("page", p.stats.Pages).
				Int("records", len(page.Results)).
				Msg("Page fetched")

			for _, rec := range page.Results {
				p.stats.Records++
				if !yield(rec, nil) {
					return
				}
			}

			next := page.NextCursor()
			if next == "" {
				p.logger.Info().
					Str("endpoint", endpoint).
					Int("pages", p.stats.Pages).
					Int("records", p.stats.Records).
					Dur("duration", time.Since(start)).
					Msg("Pagination complete")
				return
			}

			if _, dup := seen[next]; dup {
				yield(record.Record{}, &CursorLoopError{Endpoint: endpoint, Cursor: next, Page: p.stats.Pages})
				return
			}
			seen[next] = struct{}{}

			if p.config.MaxPages > 0 && p.stats.Pages >= p.config.MaxPages {
				yield(record.Record{}, &PageLimitError{Endpoint: endpoint, MaxPages: p.config.MaxPages})
				return
			}

			after = next
		}
	}
}

// Collect drains seq into a slice, stopping at the first error.
func Collect(seq iter.Seq2[record.Record, error]) ([]record.Record, error) {
	var out []record.Record
	for rec, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// PageLimitError is returned when an endpoint still reports a next page
// after MaxPages requests.
type PageLimitError struct {
	Endpoint string
	MaxPages int
}

// Error implements the error interface.
func (e *PageLimitError) Error() string {
	return fmt.Sprintf("pagination of %s exceeded %d pages", e.Endpoint, e.MaxPages)
}

// CursorLoopError is returned when the server hands out a cursor it already
// returned earlier in the same iteration.
type CursorLoopError struct {
	Endpoint string
	Cursor   string
	Page     int
}

// Error implements the error interface.
func (e *CursorLoopError) Error() string {
	return fmt.Sprintf("pagination of %s repeated cursor %q at page %d", e.Endpoint, e.Cursor, e.Page)
}
