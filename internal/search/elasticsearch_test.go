package search

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"example.com/backstage/services/calendar/config"
	"example.com/backstage/services/calendar/internal/errs"
	"example.com/backstage/services/calendar/internal/models"
	"example.com/backstage/services/calendar/internal/tracing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	method string
	path   string
	body   string
}

// newElasticServer answers like Elasticsearch, including the product header the client checks
func newElasticServer(t *testing.T, handle func(w http.ResponseWriter, r *http.Request, body string)) (*ElasticIndex, *[]recorded) {
	t.Helper()
	var mu sync.Mutex
	var calls []recorded

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		calls = append(calls, recorded{method: r.Method, path: r.URL.Path, body: string(b)})
		mu.Unlock()
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handle(w, r, string(b))
	}))
	t.Cleanup(srv.Close)

	idx, err := NewElasticIndex(config.ElasticConfig{URL: srv.URL, Prefix: "calendar", Index: "events"}, tracing.Disabled())
	require.NoError(t, err)
	return idx, &calls
}

const indexMissing = `{"error":{"type":"index_not_found_exception","reason":"no such index [calendar-events]"},"status":404}`

func TestElasticSearchParsesRankedKeys(t *testing.T) {
	idx, calls := newElasticServer(t, func(w http.ResponseWriter, r *http.Request, body string) {
		_, _ = io.WriteString(w, `{"hits":{"total":{"value":3},"hits":[
			{"_id":"2025-01-06:1","_score":2.1},
			{"_id":"bogus","_score":1.5},
			{"_id":"2025-01-05:2","_score":0.7}]}}`)
	})

	keys, err := idx.Search(context.Background(), "meeting", 50)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "2025-01-06:1", keys[0].String())
	assert.Equal(t, "2025-01-05:2", keys[1].String())

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	assert.Equal(t, "/calendar-events/_search", call.path)
	assert.Contains(t, call.body, `"multi_match"`)
	assert.Contains(t, call.body, `"size":50`)
	assert.Contains(t, call.body, `"title^2"`)
}

func TestElasticMissingIndexIsUnavailable(t *testing.T) {
	idx, _ := newElasticServer(t, func(w http.ResponseWriter, r *http.Request, body string) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, indexMissing)
	})
	ctx := context.Background()

	_, err := idx.Search(ctx, "meeting", 50)
	assert.True(t, errs.IsIndexUnavailable(err))

	_, err = idx.Count(ctx)
	assert.True(t, errs.IsIndexUnavailable(err))

	key, _ := models.ParseEventKey("2025-01-06:1")
	assert.True(t, errs.IsIndexUnavailable(idx.Delete(ctx, key)))
}

func TestElasticDeleteOfMissingDocumentSucceeds(t *testing.T) {
	idx, calls := newElasticServer(t, func(w http.ResponseWriter, r *http.Request, body string) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"_index":"calendar-events","_id":"2025-01-06:1","result":"not_found"}`)
	})

	key, _ := models.ParseEventKey("2025-01-06:1")
	require.NoError(t, idx.Delete(context.Background(), key))
	assert.Equal(t, http.MethodDelete, (*calls)[0].method)
	assert.Equal(t, "/calendar-events/_doc/2025-01-06:1", (*calls)[0].path)
}

func TestElasticCountAndUpsert(t *testing.T) {
	idx, calls := newElasticServer(t, func(w http.ResponseWriter, r *http.Request, body string) {
		if strings.HasSuffix(r.URL.Path, "/_count") {
			_, _ = io.WriteString(w, `{"count":7}`)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"result":"created"}`)
	})
	ctx := context.Background()

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	require.NoError(t, idx.Upsert(ctx, Document{Key: "2025-01-06:1", ClusterDate: "2025-01-06", ID: 1, Title: "Team meeting"}))
	upsert := (*calls)[1]
	assert.Equal(t, "/calendar-events/_doc/2025-01-06:1", upsert.path)
	assert.Contains(t, upsert.body, `"title":"Team meeting"`)
}

func TestElasticBulkUpsertReportsRejectedDocuments(t *testing.T) {
	idx, calls := newElasticServer(t, func(w http.ResponseWriter, r *http.Request, body string) {
		_, _ = io.WriteString(w, `{"took":3,"errors":true,"items":[
			{"index":{"_id":"2025-01-06:1","status":201}},
			{"index":{"_id":"2025-01-06:2","status":400,"error":{"type":"mapper_parsing_exception"}}}]}`)
	})

	err := idx.BulkUpsert(context.Background(), []Document{
		{Key: "2025-01-06:1", Title: "a"},
		{Key: "2025-01-06:2", Title: "b"},
	})
	require.Error(t, err)
	assert.True(t, errs.IsIndexUnavailable(err))
	assert.Contains(t, err.Error(), "2025-01-06:2")

	call := (*calls)[0]
	assert.Equal(t, "/_bulk", call.path)
	lines := 0
	sc := bufio.NewScanner(strings.NewReader(call.body))
	for sc.Scan() {
		lines++
	}
	assert.Equal(t, 4, lines)
	assert.Contains(t, call.body, `"_index":"calendar-events"`)
}

func TestElasticEnsureIndexCreatesMissingIndex(t *testing.T) {
	idx, calls := newElasticServer(t, func(w http.ResponseWriter, r *http.Request, body string) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, `{"acknowledged":true}`)
	})

	require.NoError(t, idx.EnsureIndex(context.Background()))
	require.Len(t, *calls, 2)
	assert.Equal(t, http.MethodPut, (*calls)[1].method)
	assert.Equal(t, "/calendar-events", (*calls)[1].path)
	assert.Contains(t, (*calls)[1].body, `"cluster_date"`)
}
