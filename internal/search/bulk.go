package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// DefaultChunkSize is the number of documents submitted per bulk request.
const DefaultChunkSize = 500

// BulkIndex loads documents into the index in chunks. The document id is
// read from idField when present; documents without it still get indexed
// under an engine-generated id. Such documents are not idempotent across
// re-runs and will duplicate.
//
// Per-document failures are counted and indexing continues; only transport
// failure or a rejected bulk request as a whole returns an error.
func (c *Client) BulkIndex(ctx context.Context, docs []json.RawMessage, idField string, chunkSize int) (int, int, error) {
	if chunkSize < 1 {
		chunkSize = DefaultChunkSize
	}
	if len(docs) == 0 {
		c.logger.Warn("No documents to index")
		return 0, 0, nil
	}

	succeeded, failed := 0, 0
	for start := 0; start < len(docs); start += chunkSize {
		end := min(start+chunkSize, len(docs))
		ok, errs, err := c.bulkChunk(ctx, docs[start:end], idField)
		if err != nil {
			return succeeded, failed, err
		}
		succeeded += ok
		failed += errs
	}

	c.logger.Info("Bulk indexing finished", "indexed", succeeded, "errors", failed)
	return succeeded, failed, nil
}

func (c *Client) bulkChunk(ctx context.Context, docs []json.RawMessage, idField string) (int, int, error) {
	var buf bytes.Buffer
	for _, doc := range docs {
		meta := bulkAction{}
		if id, ok := documentID(doc, idField); ok {
			meta.Index.ID = id
		}
		actionLine, err := json.Marshal(meta)
		if err != nil {
			return 0, 0, fmt.Errorf("encoding bulk action: %w", err)
		}
		buf.Write(actionLine)
		buf.WriteByte('\n')
		buf.Write(bytes.TrimSpace(doc))
		buf.WriteByte('\n')
	}

	res, err := c.es.Bulk(bytes.NewReader(buf.Bytes()),
		c.es.Bulk.WithContext(ctx),
		c.es.Bulk.WithIndex(c.index),
	)
	if err != nil {
		return 0, 0, fmt.Errorf("bulk request failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, 0, responseError("bulk request", res)
	}

	var out bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, 0, fmt.Errorf("decoding bulk response: %w", err)
	}

	ok, errs := 0, 0
	for _, item := range out.Items {
		if item.Index.Error != nil {
			errs++
			c.logger.Warn("Document failed to index",
				"id", item.Index.ID, "status", item.Index.Status,
				"reason", item.Index.Error.Reason)
			continue
		}
		ok++
	}
	return ok, errs, nil
}

type bulkAction struct {
	Index struct {
		ID string `json:"_id,omitempty"`
	} `json:"index"`
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []struct {
		Index struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"index"`
	} `json:"items"`
}

// documentID extracts the target identifier from a document. Both string
// and numeric id fields are accepted; the GitHub repository id is numeric.
func documentID(doc json.RawMessage, idField string) (string, bool) {
	if idField == "" {
		return "", false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil {
		return "", false
	}
	raw, ok := fields[idField]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, s != ""
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	return "", false
}
