package store

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func recs(values ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(values))
	for i, v := range values {
		out[i] = json.RawMessage(v)
	}
	return out
}

func TestFSStore_RoundTrip(t *testing.T) {
	st := NewFSStore(t.TempDir(), testLogger())

	require.NoError(t, st.WritePage("", 1, recs(`{"id":1}`, `{"id":2}`)))
	require.NoError(t, st.WritePage("", 2, recs(`{"id":3}`)))

	got, err := st.ReadPages("")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.JSONEq(t, `{"id":1}`, string(got[0]))
	assert.JSONEq(t, `{"id":3}`, string(got[2]))
}

func TestFSStore_RoundTripManyPages(t *testing.T) {
	st := NewFSStore(t.TempDir(), testLogger())

	// More than 9 pages so lexical file ordering differs from numeric
	// page order; the reconstructed record multiset must be unaffected.
	want := map[string]bool{}
	for page := 1; page <= 12; page++ {
		rec := fmt.Sprintf(`{"page":%d}`, page)
		want[rec] = true
		require.NoError(t, st.WritePage("entity", page, recs(rec)))
	}

	got, err := st.ReadPages("entity")
	require.NoError(t, err)
	require.Len(t, got, 12)
	for _, r := range got {
		assert.True(t, want[string(r)], "unexpected record %s", r)
	}
}

func TestFSStore_WritesPageFiles(t *testing.T) {
	dir := t.TempDir()
	st := NewFSStore(dir, testLogger())

	require.NoError(t, st.WritePage("user__repo", 1, recs(`{"sha":"a"}`)))

	path := filepath.Join(dir, "user__repo", "page_1.json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var records []json.RawMessage
	require.NoError(t, json.Unmarshal(data, &records))
	require.Len(t, records, 1)
}

func TestFSStore_ReadPagesSkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	st := NewFSStore(dir, testLogger())

	require.NoError(t, st.WritePage("", 1, recs(`{"id":1}`)))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "page_2.json"), []byte("{{{ not json"), 0o644))
	// A JSON object instead of an array is also skipped, not coerced.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "page_3.json"), []byte(`{"id":9}`), 0o644))

	got, err := st.ReadPages("")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestFSStore_ReadPagesMissingDir(t *testing.T) {
	st := NewFSStore(filepath.Join(t.TempDir(), "nope"), testLogger())

	_, err := st.ReadPages("")
	assert.Error(t, err)
}

func TestFSStore_HasEntity(t *testing.T) {
	dir := t.TempDir()
	st := NewFSStore(dir, testLogger())

	assert.True(t, st.HasEntity(""))
	assert.False(t, st.HasEntity("user__repo"))

	require.NoError(t, st.WritePage("user__repo", 1, recs(`{}`)))
	assert.True(t, st.HasEntity("user__repo"))
}

func TestFSStore_Entities(t *testing.T) {
	st := NewFSStore(t.TempDir(), testLogger())

	require.NoError(t, st.WritePage("b__r", 1, recs(`{}`)))
	require.NoError(t, st.WritePage("a__r", 1, recs(`{}`)))

	entities, err := st.Entities()
	require.NoError(t, err)
	assert.Equal(t, []string{"a__r", "b__r"}, entities)
}

func TestFSStore_OverwritesSameNumberedPage(t *testing.T) {
	st := NewFSStore(t.TempDir(), testLogger())

	require.NoError(t, st.WritePage("", 1, recs(`{"run":1}`)))
	require.NoError(t, st.WritePage("", 1, recs(`{"run":2}`)))

	got, err := st.ReadPages("")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"run":2}`, string(got[0]))
}
