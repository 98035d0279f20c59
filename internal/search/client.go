// Package search wraps the Elasticsearch client: index lifecycle, the bulk
// indexing sink, and the query/aggregation surface the Q&A layer uses.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// indexBody is the settings and mappings for the projects index: nested
// commits so per-commit queries work, keyword language for terms
// aggregations, and a lowercase+stopword analyzer for free-text fields.
const indexBody = `{
  "settings": {
    "number_of_shards": 1,
    "number_of_replicas": 1,
    "analysis": {
      "analyzer": {
        "code_analyzer": {
          "type": "custom",
          "tokenizer": "standard",
          "filter": ["lowercase", "stop"]
        }
      }
    }
  },
  "mappings": {
    "properties": {
      "id": {"type": "long"},
      "name": {"type": "text", "fields": {"keyword": {"type": "keyword"}}},
      "full_name": {"type": "text", "fields": {"keyword": {"type": "keyword"}}},
      "description": {"type": "text", "analyzer": "code_analyzer"},
      "language": {"type": "keyword"},
      "stargazers_count": {"type": "integer"},
      "forks_count": {"type": "integer"},
      "open_issues_count": {"type": "integer"},
      "watchers_count": {"type": "integer"},
      "topics": {"type": "keyword"},
      "html_url": {"type": "keyword"},
      "created_at": {"type": "date"},
      "updated_at": {"type": "date"},
      "pushed_at": {"type": "date"},
      "owner": {
        "properties": {
          "login": {"type": "keyword"},
          "type": {"type": "keyword"}
        }
      },
      "commits": {
        "type": "nested",
        "properties": {
          "sha": {"type": "keyword"},
          "html_url": {"type": "keyword"},
          "commit": {
            "properties": {
              "message": {"type": "text", "analyzer": "code_analyzer"},
              "author": {
                "properties": {
                  "name": {"type": "text"},
                  "email": {"type": "keyword"},
                  "date": {"type": "date"}
                }
              }
            }
          }
        }
      }
    }
  }
}`

// Config holds the connection settings for the search engine.
type Config struct {
	Host     string
	Username string
	Password string
	APIKey   string
	Index    string
}

// Client wraps the Elasticsearch client for one named index.
type Client struct {
	es     *elasticsearch.Client
	index  string
	logger *slog.Logger
}

// NewClient builds a Client from the config. An API key takes precedence
// over basic auth when both are set.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	esCfg := elasticsearch.Config{
		Addresses: []string{cfg.Host},
	}
	if cfg.APIKey != "" {
		esCfg.APIKey = cfg.APIKey
	} else if cfg.Username != "" {
		esCfg.Username = cfg.Username
		esCfg.Password = cfg.Password
	}

	es, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}
	return &Client{
		es:     es,
		index:  cfg.Index,
		logger: logger.With("component", "search", "index", cfg.Index),
	}, nil
}

// Index returns the index name the client operates on.
func (c *Client) Index() string {
	return c.index
}

// Ping verifies the search engine is reachable. Total unavailability is a
// hard error for the indexing stage.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch unreachable: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch ping failed: %s", res.Status())
	}
	return nil
}

// CreateIndex creates the projects index with its mappings and settings.
// With recreate set, an existing index is deleted first. Returns true when
// an index was actually created.
func (c *Client) CreateIndex(ctx context.Context, recreate bool) (bool, error) {
	exists, err := c.indexExists(ctx)
	if err != nil {
		return false, err
	}

	if exists && recreate {
		c.logger.Warn("Deleting existing index before recreate")
		if err := c.DeleteIndex(ctx); err != nil {
			return false, err
		}
		exists = false
	}
	if exists {
		c.logger.Info("Index already exists")
		return false, nil
	}

	res, err := c.es.Indices.Create(c.index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(strings.NewReader(indexBody)),
	)
	if err != nil {
		return false, fmt.Errorf("creating index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return false, responseError("creating index", res)
	}
	c.logger.Info("Created index")
	return true, nil
}

// DeleteIndex removes the index. Deleting a missing index is not an error.
func (c *Client) DeleteIndex(ctx context.Context) error {
	res, err := c.es.Indices.Delete([]string{c.index},
		c.es.Indices.Delete.WithContext(ctx),
		c.es.Indices.Delete.WithIgnoreUnavailable(true),
	)
	if err != nil {
		return fmt.Errorf("deleting index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError("deleting index", res)
	}
	return nil
}

// Refresh makes recently indexed documents visible to search immediately.
func (c *Client) Refresh(ctx context.Context) error {
	res, err := c.es.Indices.Refresh(
		c.es.Indices.Refresh.WithContext(ctx),
		c.es.Indices.Refresh.WithIndex(c.index),
	)
	if err != nil {
		return fmt.Errorf("refreshing index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError("refreshing index", res)
	}
	return nil
}

// Count returns the number of documents in the index.
func (c *Client) Count(ctx context.Context) (int64, error) {
	res, err := c.es.Count(
		c.es.Count.WithContext(ctx),
		c.es.Count.WithIndex(c.index),
	)
	if err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, responseError("counting documents", res)
	}

	var out struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decoding count response: %w", err)
	}
	return out.Count, nil
}

// Mapping returns the index mapping, used to describe the document schema
// to the query generator.
func (c *Client) Mapping(ctx context.Context) (json.RawMessage, error) {
	res, err := c.es.Indices.GetMapping(
		c.es.Indices.GetMapping.WithContext(ctx),
		c.es.Indices.GetMapping.WithIndex(c.index),
	)
	if err != nil {
		return nil, fmt.Errorf("fetching index mapping: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, responseError("fetching index mapping", res)
	}
	return io.ReadAll(res.Body)
}

func (c *Client) indexExists(ctx context.Context) (bool, error) {
	res, err := c.es.Indices.Exists([]string{c.index},
		c.es.Indices.Exists.WithContext(ctx),
	)
	if err != nil {
		return false, fmt.Errorf("checking index existence: %w", err)
	}
	defer res.Body.Close()
	return res.StatusCode == 200, nil
}

func responseError(op string, res *esapi.Response) error {
	body, _ := io.ReadAll(res.Body)
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return fmt.Errorf("%s: %s: %s", op, res.Status(), msg)
}
