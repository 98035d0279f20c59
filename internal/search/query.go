package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// Hit is one search result document.
type Hit struct {
	ID     string          `json:"_id"`
	Score  float64         `json:"_score"`
	Source json.RawMessage `json:"_source"`
}

// Result is a decoded search response.
type Result struct {
	Total int64
	Hits  []Hit
}

// LanguageCount is one bucket of the language histogram.
type LanguageCount struct {
	Language string `json:"language"`
	Count    int64  `json:"count"`
}

// Stats summarizes the index contents.
type Stats struct {
	TotalProjects int64           `json:"total_projects"`
	TotalCommits  int64           `json:"total_commits"`
	AvgStars      float64         `json:"avg_stars"`
	TopLanguages  []LanguageCount `json:"top_languages"`
}

// Search executes a full search request body (query DSL, size, sort)
// against the index.
func (c *Client) Search(ctx context.Context, body json.RawMessage) (*Result, error) {
	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, responseError("search", res)
	}

	var out struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []Hit `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}
	return &Result{Total: out.Hits.Total.Value, Hits: out.Hits.Hits}, nil
}

// statsBody aggregates the language histogram, the average star count, and
// the nested commit total in one request.
const statsBody = `{
  "size": 0,
  "aggs": {
    "languages": {"terms": {"field": "language", "size": 10}},
    "avg_stars": {"avg": {"field": "stargazers_count"}},
    "total_commits": {
      "nested": {"path": "commits"},
      "aggs": {"count": {"value_count": {"field": "commits.sha"}}}
    }
  }
}`

// GetStats returns index statistics: document count, per-language
// histogram, average stars, and the nested commit count.
func (c *Client) GetStats(ctx context.Context) (*Stats, error) {
	total, err := c.Count(ctx)
	if err != nil {
		return nil, err
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader([]byte(statsBody))),
	)
	if err != nil {
		return nil, fmt.Errorf("stats request failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, responseError("stats", res)
	}

	var out struct {
		Aggregations struct {
			Languages struct {
				Buckets []struct {
					Key      string `json:"key"`
					DocCount int64  `json:"doc_count"`
				} `json:"buckets"`
			} `json:"languages"`
			AvgStars struct {
				Value float64 `json:"value"`
			} `json:"avg_stars"`
			TotalCommits struct {
				Count struct {
					Value int64 `json:"value"`
				} `json:"count"`
			} `json:"total_commits"`
		} `json:"aggregations"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding stats response: %w", err)
	}

	stats := &Stats{
		TotalProjects: total,
		TotalCommits:  out.Aggregations.TotalCommits.Count.Value,
		AvgStars:      out.Aggregations.AvgStars.Value,
	}
	for _, b := range out.Aggregations.Languages.Buckets {
		stats.TopLanguages = append(stats.TopLanguages, LanguageCount{
			Language: b.Key,
			Count:    b.DocCount,
		})
	}
	return stats, nil
}
