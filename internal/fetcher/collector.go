// Package fetcher drives paginated collection of GitHub data. The
// Collector walks one endpoint page by page, persisting every page to the
// store as it arrives; the Fetcher sequences project collection and
// per-repository commit collection on top of it.
package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github-rag-pipeline/internal/store"
)

// DefaultPageSize is the provider's maximum page size.
const DefaultPageSize = 100

// ErrNotList is returned when a paginated endpoint yields a body that is
// not a JSON array. That is a contract violation, not data to coerce.
var ErrNotList = errors.New("paginated endpoint returned a non-list body")

// Getter is the fetch client contract the collector needs.
type Getter interface {
	Get(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error)
}

// Collector fetches all pages of one endpoint, persisting each page under
// the given entity before requesting the next. Requests are strictly
// sequential; pagination ends on an empty page or a page shorter than the
// page size, never on a provider-reported total.
type Collector struct {
	client   Getter
	pageSize int
	logger   *slog.Logger
}

// NewCollector creates a Collector. pageSize values below 1 fall back to
// DefaultPageSize.
func NewCollector(client Getter, pageSize int, logger *slog.Logger) *Collector {
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	return &Collector{
		client:   client,
		pageSize: pageSize,
		logger:   logger.With("component", "collector"),
	}
}

// Collect pages through endpoint, writing each non-empty page to st under
// entity and returning the concatenation of all records in fetch order.
// A page write failure is fatal: the durable checkpoint must not silently
// diverge from what was fetched.
func (c *Collector) Collect(ctx context.Context, endpoint string, st store.PageStore, entity string) ([]json.RawMessage, error) {
	var all []json.RawMessage

	for page := 1; ; page++ {
		params := url.Values{
			"per_page": {strconv.Itoa(c.pageSize)},
			"page":     {strconv.Itoa(page)},
		}
		c.logger.Debug("Fetching page", "endpoint", endpoint, "page", page, "per_page", c.pageSize)

		body, err := c.client.Get(ctx, endpoint, params)
		if err != nil {
			return nil, err
		}

		// A nil slice also unmarshals cleanly from a JSON null, so the
		// array check must look at the body itself.
		trimmed := bytes.TrimSpace(body)
		if len(trimmed) == 0 || trimmed[0] != '[' {
			return nil, fmt.Errorf("%s page %d: %w", endpoint, page, ErrNotList)
		}
		var records []json.RawMessage
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("%s page %d: %w", endpoint, page, ErrNotList)
		}

		if len(records) == 0 {
			c.logger.Info("Pagination complete", "endpoint", endpoint, "pages", page-1)
			return all, nil
		}

		if err := st.WritePage(entity, page, records); err != nil {
			return nil, err
		}
		all = append(all, records...)

		if len(records) < c.pageSize {
			c.logger.Info("Pagination complete on short page",
				"endpoint", endpoint, "pages", page, "last_page_size", len(records))
			return all, nil
		}
	}
}
