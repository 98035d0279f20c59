package record

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	tests := []struct {
		name    string
		rec     string
		want    RepoKey
		wantOK  bool
	}{
		{
			name:   "valid record",
			rec:    `{"name": "repo", "owner": {"login": "user"}, "stars": 3}`,
			want:   RepoKey{Owner: "user", Name: "repo"},
			wantOK: true,
		},
		{
			name:   "missing owner",
			rec:    `{"name": "repo"}`,
			wantOK: false,
		},
		{
			name:   "empty login",
			rec:    `{"name": "repo", "owner": {"login": ""}}`,
			wantOK: false,
		},
		{
			name:   "missing name",
			rec:    `{"owner": {"login": "user"}}`,
			wantOK: false,
		},
		{
			name:   "not an object",
			rec:    `["a", "b"]`,
			wantOK: false,
		},
		{
			name:   "owner is not an object",
			rec:    `{"name": "repo", "owner": "user"}`,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Key(json.RawMessage(tt.rec))
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestRepoKey_String(t *testing.T) {
	key := RepoKey{Owner: "user", Name: "repo"}
	assert.Equal(t, "user/repo", key.String())
}

func TestRepoKey_DirName(t *testing.T) {
	assert.Equal(t, "user__repo", RepoKey{Owner: "user", Name: "repo"}.DirName())
	// Path-unsafe characters are replaced so directory names stay portable.
	assert.Equal(t, "a_b__c_d", RepoKey{Owner: "a/b", Name: "c?d"}.DirName())
	assert.Equal(t, "o___r__", RepoKey{Owner: `o\*`, Name: `r<>`}.DirName())
}
