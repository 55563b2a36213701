package search

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"example.com/backstage/services/calendar/config"
	"example.com/backstage/services/calendar/internal/errs"
	"example.com/backstage/services/calendar/internal/models"
	"example.com/backstage/services/calendar/internal/tracing"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const indexMapping = `{
  "mappings": {
    "properties": {
      "key":          {"type": "keyword"},
      "cluster_date": {"type": "date", "format": "yyyy-MM-dd"},
      "id":           {"type": "long"},
      "title":        {"type": "text"},
      "description":  {"type": "text"}
    }
  }
}`

// ElasticIndex stores event documents in one Elasticsearch index
type ElasticIndex struct {
	client *elasticsearch.Client
	index  string
}

// NewElasticIndex creates the client. The transport is wrapped by tracer so index
// calls show up as external segments.
func NewElasticIndex(cfg config.ElasticConfig, tracer tracing.Tracer) (*ElasticIndex, error) {
	esConfig := elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	}
	if tracer != nil {
		esConfig.Transport = tracer.RoundTripper(http.DefaultTransport)
	}

	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticIndex{client: client, index: config.FormatIndex(cfg)}, nil
}

// Name is the full index name
func (e *ElasticIndex) Name() string {
	return e.index
}

// EnsureIndex creates the index with its mapping if it is missing
func (e *ElasticIndex) EnsureIndex(ctx context.Context) error {
	res, err := esapi.IndicesExistsRequest{Index: []string{e.index}}.Do(ctx, e.client)
	if err != nil {
		return errs.IndexUnavailable(err, "index exists request failed")
	}
	res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return e.create(ctx)
	}
	return errs.IndexUnavailable(nil, "index exists check returned "+res.Status())
}

func (e *ElasticIndex) create(ctx context.Context) error {
	req := esapi.IndicesCreateRequest{
		Index: e.index,
		Body:  bytes.NewReader([]byte(indexMapping)),
	}
	res, err := req.Do(ctx, e.client)
	if err := check(res, err, "create index"); err != nil {
		return err
	}
	defer res.Body.Close()

	log.Info().Str("index", e.index).Msg("Created search index")
	return nil
}

// Upsert indexes one document
func (e *ElasticIndex) Upsert(ctx context.Context, doc Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal search document")
	}

	req := esapi.IndexRequest{
		Index:      e.index,
		DocumentID: doc.Key,
		Body:       bytes.NewReader(body),
		Refresh:    "wait_for",
	}
	res, err := req.Do(ctx, e.client)
	if err := check(res, err, "index document "+doc.Key); err != nil {
		return err
	}
	res.Body.Close()
	return nil
}

// Delete removes one document
func (e *ElasticIndex) Delete(ctx context.Context, key models.EventKey) error {
	req := esapi.DeleteRequest{
		Index:      e.index,
		DocumentID: key.String(),
		Refresh:    "wait_for",
	}
	res, err := req.Do(ctx, e.client)
	if err != nil {
		return errs.IndexUnavailable(err, "delete document "+key.String())
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		// a missing document answers 404 with a result; a missing index answers with an error
		var body struct {
			Result string          `json:"result"`
			Error  json.RawMessage `json:"error"`
		}
		if err := json.NewDecoder(res.Body).Decode(&body); err == nil && body.Error == nil {
			return nil
		}
		return errs.IndexUnavailable(nil, "delete document "+key.String()+": index not found")
	}
	if res.IsError() {
		return errs.IndexUnavailable(nil, "delete document "+key.String()+": "+res.String())
	}
	return nil
}

// BulkUpsert indexes docs in one bulk request and refreshes the index
func (e *ElasticIndex) BulkUpsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, doc := range docs {
		meta := map[string]map[string]string{"index": {"_index": e.index, "_id": doc.Key}}
		if err := enc.Encode(meta); err != nil {
			return errors.Wrap(err, "failed to encode bulk action")
		}
		if err := enc.Encode(doc); err != nil {
			return errors.Wrap(err, "failed to encode bulk document")
		}
	}

	req := esapi.BulkRequest{Body: &buf, Refresh: "true"}
	res, err := req.Do(ctx, e.client)
	if err := check(res, err, "bulk index"); err != nil {
		return err
	}
	defer res.Body.Close()

	var result struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string          `json:"_id"`
			Status int             `json:"status"`
			Error  json.RawMessage `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return errs.IndexUnavailable(err, "failed to parse bulk response")
	}
	if !result.Errors {
		return nil
	}

	failed := 0
	var first string
	for _, item := range result.Items {
		for _, op := range item {
			if op.Error != nil {
				if failed == 0 {
					first = op.ID + ": " + string(op.Error)
				}
				failed++
			}
		}
	}
	return errs.IndexUnavailable(nil, "bulk index rejected "+strconv.Itoa(failed)+" documents, first "+first)
}

// Search runs a relevance-ranked match on title and description
func (e *ElasticIndex) Search(ctx context.Context, query string, limit int) ([]models.EventKey, error) {
	body, err := json.Marshal(map[string]interface{}{
		"size":    limit,
		"_source": false,
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  query,
				"fields": []string{"title^2", "description"},
			},
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal search query")
	}

	req := esapi.SearchRequest{
		Index: []string{e.index},
		Body:  bytes.NewReader(body),
	}
	res, err := req.Do(ctx, e.client)
	if err := check(res, err, "search"); err != nil {
		return nil, err
	}
	defer res.Body.Close()

	var result struct {
		Hits struct {
			Hits []struct {
				ID string `json:"_id"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, errs.IndexUnavailable(err, "failed to parse search response")
	}

	keys := make([]models.EventKey, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		key, err := models.ParseEventKey(hit.ID)
		if err != nil {
			log.Warn().Str("doc_id", hit.ID).Msg("Skipping search hit with a malformed id")
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Count returns the number of documents in the index
func (e *ElasticIndex) Count(ctx context.Context) (int64, error) {
	res, err := esapi.CountRequest{Index: []string{e.index}}.Do(ctx, e.client)
	if err := check(res, err, "count"); err != nil {
		return 0, err
	}
	defer res.Body.Close()

	var result struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return 0, errs.IndexUnavailable(err, "failed to parse count response")
	}
	return result.Count, nil
}

// Reset drops the index and creates it again
func (e *ElasticIndex) Reset(ctx context.Context) error {
	ignore := true
	req := esapi.IndicesDeleteRequest{Index: []string{e.index}, IgnoreUnavailable: &ignore}
	res, err := req.Do(ctx, e.client)
	if err != nil {
		return errs.IndexUnavailable(err, "drop index")
	}
	res.Body.Close()
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return errs.IndexUnavailable(nil, "drop index: "+res.Status())
	}
	return e.create(ctx)
}

// check turns a transport error or an error status into ErrIndexUnavailable. The body
// is drained and closed on error.
func check(res *esapi.Response, err error, op string) error {
	if err != nil {
		return errs.IndexUnavailable(err, op)
	}
	if !res.IsError() {
		return nil
	}
	defer res.Body.Close()

	detail, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return errs.IndexUnavailable(nil, op+": "+res.Status()+" "+string(detail))
}
