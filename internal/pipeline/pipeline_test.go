package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github-rag-pipeline/internal/fetcher"
	"github-rag-pipeline/internal/normalizer"
	"github-rag-pipeline/internal/search"
	"github-rag-pipeline/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedAPI serves one scripted page per endpoint; every other request
// gets an empty list.
type scriptedAPI struct {
	pages map[string][]json.RawMessage
}

func (s *scriptedAPI) Get(_ context.Context, endpoint string, params url.Values) (json.RawMessage, error) {
	page, _ := strconv.Atoi(params.Get("page"))
	if page == 1 {
		if records, ok := s.pages[endpoint]; ok {
			return json.Marshal(records)
		}
	}
	return json.RawMessage(`[]`), nil
}

type mockIndexer struct {
	calls      []string
	pingErr    error
	bulkDocs   []json.RawMessage
	bulkOK     int
	bulkFailed int
	bulkErr    error
	statsErr   error
	recreate   bool
}

func (m *mockIndexer) Ping(context.Context) error {
	m.calls = append(m.calls, "ping")
	return m.pingErr
}

func (m *mockIndexer) CreateIndex(_ context.Context, recreate bool) (bool, error) {
	m.calls = append(m.calls, "create")
	m.recreate = recreate
	return true, nil
}

func (m *mockIndexer) BulkIndex(_ context.Context, docs []json.RawMessage, idField string, _ int) (int, int, error) {
	m.calls = append(m.calls, "bulk")
	m.bulkDocs = docs
	if m.bulkErr != nil {
		return 0, 0, m.bulkErr
	}
	if m.bulkOK == 0 && m.bulkFailed == 0 {
		return len(docs), 0, nil
	}
	return m.bulkOK, m.bulkFailed, nil
}

func (m *mockIndexer) Refresh(context.Context) error {
	m.calls = append(m.calls, "refresh")
	return nil
}

func (m *mockIndexer) GetStats(context.Context) (*search.Stats, error) {
	m.calls = append(m.calls, "stats")
	if m.statsErr != nil {
		return nil, m.statsErr
	}
	return &search.Stats{TotalProjects: 1}, nil
}

type fixture struct {
	pipeline *Pipeline
	projects *store.MemStore
	commits  *store.MemStore
	indexer  *mockIndexer
	dir      string
}

func newFixture(t *testing.T, api fetcher.Getter) *fixture {
	projects := store.NewMemStore()
	commits := store.NewMemStore()
	indexer := &mockIndexer{}
	dir := t.TempDir()
	f := fetcher.New(api, projects, commits, 100, testLogger())
	return &fixture{
		pipeline: New(f, projects, commits, indexer, dir, testLogger()),
		projects: projects,
		commits:  commits,
		indexer:  indexer,
		dir:      dir,
	}
}

func defaultAPI() *scriptedAPI {
	return &scriptedAPI{pages: map[string][]json.RawMessage{
		"/user/repos": {
			json.RawMessage(`{"id": 1, "name": "r1", "owner": {"login": "u"}}`),
		},
		"/repos/u/r1/commits": {
			json.RawMessage(`{"sha": "a"}`),
			json.RawMessage(`{"sha": "b"}`),
		},
	}}
}

func TestRun_AllStages(t *testing.T) {
	fx := newFixture(t, defaultAPI())

	result, err := fx.pipeline.Run(context.Background(), Options{RecreateIndex: true})

	require.NoError(t, err)
	assert.Equal(t, 1, result.ProjectsCount)
	assert.Equal(t, 2, result.TotalCommits)
	assert.Equal(t, map[string]int{"u/r1": 2}, result.CommitsByRepo)
	assert.Equal(t, 1, result.NormalizedCount)
	assert.Equal(t, 1, result.Indexed)
	assert.Zero(t, result.IndexErrors)
	require.NotNil(t, result.Stats)

	// The normalized file is on disk for later skip runs.
	_, statErr := os.Stat(fx.pipeline.NormalizedPath())
	assert.NoError(t, statErr)

	assert.Equal(t, []string{"ping", "create", "bulk", "refresh", "stats"}, fx.indexer.calls)
	assert.True(t, fx.indexer.recreate)

	// The indexed document carries its merged commits.
	require.Len(t, fx.indexer.bulkDocs, 1)
	var doc struct {
		Commits []json.RawMessage `json:"commits"`
	}
	require.NoError(t, json.Unmarshal(fx.indexer.bulkDocs[0], &doc))
	assert.Len(t, doc.Commits, 2)
}

func TestRun_SkipProjectsWithoutDataIsFatal(t *testing.T) {
	fx := newFixture(t, defaultAPI())

	_, err := fx.pipeline.Run(context.Background(), Options{SkipProjects: true, SkipIndexing: true})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingPrerequisite)
}

func TestRun_SkipProjectsReusesPersistedData(t *testing.T) {
	fx := newFixture(t, defaultAPI())
	require.NoError(t, fx.projects.WritePage("", 1, []json.RawMessage{
		json.RawMessage(`{"name": "r1", "owner": {"login": "u"}}`),
	}))

	result, err := fx.pipeline.Run(context.Background(), Options{SkipProjects: true, SkipIndexing: true})

	require.NoError(t, err)
	// No live fetch, so no project count, but commits still ran.
	assert.Zero(t, result.ProjectsCount)
	assert.Equal(t, 2, result.TotalCommits)
}

func TestRun_SkipNormalizationWithoutFileIsFatal(t *testing.T) {
	fx := newFixture(t, defaultAPI())

	// Projects are persisted but the normalized output is not.
	require.NoError(t, fx.projects.WritePage("", 1, []json.RawMessage{json.RawMessage(`{}`)}))

	_, err := fx.pipeline.Run(context.Background(), Options{
		SkipProjects:      true,
		SkipCommits:       true,
		SkipNormalization: true,
		SkipIndexing:      true,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingPrerequisite)
}

func TestRun_SkipNormalizationLoadsFileForIndexing(t *testing.T) {
	fx := newFixture(t, defaultAPI())
	require.NoError(t, fx.projects.WritePage("", 1, []json.RawMessage{
		json.RawMessage(`{"name": "r1", "owner": {"login": "u"}}`),
	}))
	path := filepath.Join(fx.dir, normalizer.NormalizedFileName)
	require.NoError(t, normalizer.WriteNormalized(path, []json.RawMessage{
		json.RawMessage(`{"id": 1, "name": "from-disk", "commits": []}`),
	}))

	result, err := fx.pipeline.Run(context.Background(), Options{
		SkipProjects:      true,
		SkipCommits:       true,
		SkipNormalization: true,
	})

	require.NoError(t, err)
	assert.Equal(t, 1, result.Indexed)
	require.Len(t, fx.indexer.bulkDocs, 1)
	assert.Contains(t, string(fx.indexer.bulkDocs[0]), "from-disk")
}

func TestRun_SkipIndexingNeverTouchesEngine(t *testing.T) {
	fx := newFixture(t, defaultAPI())

	result, err := fx.pipeline.Run(context.Background(), Options{SkipIndexing: true})

	require.NoError(t, err)
	assert.Empty(t, fx.indexer.calls)
	assert.Equal(t, 1, result.NormalizedCount)
	assert.Zero(t, result.Indexed)
}

func TestRun_PartialIndexErrorsAreNotFatal(t *testing.T) {
	fx := newFixture(t, defaultAPI())
	fx.indexer.bulkOK = 0
	fx.indexer.bulkFailed = 1

	result, err := fx.pipeline.Run(context.Background(), Options{})

	require.NoError(t, err)
	assert.Zero(t, result.Indexed)
	assert.Equal(t, 1, result.IndexErrors)
	// Refresh still runs after a partially failed bulk.
	assert.Contains(t, fx.indexer.calls, "refresh")
}

func TestRun_EngineUnreachableIsFatal(t *testing.T) {
	fx := newFixture(t, defaultAPI())
	fx.indexer.pingErr = errors.New("connection refused")

	_, err := fx.pipeline.Run(context.Background(), Options{})

	require.Error(t, err)
	assert.NotContains(t, fx.indexer.calls, "bulk")
}

func TestRun_BulkTransportFailureIsFatal(t *testing.T) {
	fx := newFixture(t, defaultAPI())
	fx.indexer.bulkErr = errors.New("es went away mid-run")

	_, err := fx.pipeline.Run(context.Background(), Options{})

	require.Error(t, err)
	assert.NotContains(t, fx.indexer.calls, "refresh")
}

func TestRun_StatsFailureOnlyWarns(t *testing.T) {
	fx := newFixture(t, defaultAPI())
	fx.indexer.statsErr = errors.New("aggregation failed")

	result, err := fx.pipeline.Run(context.Background(), Options{})

	require.NoError(t, err)
	assert.Nil(t, result.Stats)
}
