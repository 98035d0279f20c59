// Package record models the semi-structured JSON documents returned by the
// GitHub API. Records keep every provider-supplied attribute verbatim; only
// the identity fields needed for deduplication and joining are extracted.
package record

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Record is one raw JSON object from a paginated API response.
type Record = json.RawMessage

// RepoKey identifies a repository by its owner login and name. It is the
// unit of deduplication for commit fetching.
type RepoKey struct {
	Owner string
	Name  string
}

// String returns the canonical "owner/repo" form.
func (k RepoKey) String() string {
	return fmt.Sprintf("%s/%s", k.Owner, k.Name)
}

// DirName returns a filesystem-safe directory name for the repository.
// Path-unsafe characters are replaced with underscores so the same encoding
// is reproducible during normalization.
func (k RepoKey) DirName() string {
	return sanitize(k.Owner + "__" + k.Name)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', ':', '"', '/', '\\', '|', '?', '*':
			return '_'
		}
		return r
	}, s)
}

// identity is the subset of a project record needed to derive its RepoKey.
type identity struct {
	Name  string `json:"name"`
	Owner struct {
		Login string `json:"login"`
	} `json:"owner"`
}

// Key extracts the RepoKey from a project record. The second return value
// is false when the record is malformed: not a JSON object, or missing a
// non-empty name or owner.login. Malformed records cannot be attributed to
// a repository and are dropped by callers rather than failing the run.
func Key(rec Record) (RepoKey, bool) {
	var id identity
	if err := json.Unmarshal(rec, &id); err != nil {
		return RepoKey{}, false
	}
	if id.Name == "" || id.Owner.Login == "" {
		return RepoKey{}, false
	}
	return RepoKey{Owner: id.Owner.Login, Name: id.Name}, true
}
