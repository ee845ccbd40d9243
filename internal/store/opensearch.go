package store

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"

	"github.com/telhawk-systems/resulthub/internal/metrics"
	"github.com/telhawk-systems/resulthub/internal/models"
)

// OpenSearchConfig holds connection and index settings.
type OpenSearchConfig struct {
	URL          string
	Username     string
	Password     string
	Insecure     bool
	ResultsIndex string
	ImagesIndex  string
	MaxResults   int
}

// OpenSearchStore reads results, images and detail records from OpenSearch.
type OpenSearchStore struct {
	client       *opensearch.Client
	resultsIndex string
	imagesIndex  string
	maxResults   int

	mu      sync.Mutex
	ensured map[string]bool
}

// NewOpenSearchStore creates the client and verifies the cluster answers.
func NewOpenSearchStore(cfg OpenSearchConfig) (*OpenSearchStore, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.Insecure,
			},
		},
	}

	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: httpClient.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	info, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to ping opensearch: %w", err)
	}
	defer info.Body.Close()

	if info.IsError() {
		return nil, fmt.Errorf("opensearch returned error: %s", info.Status())
	}

	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 1000
	}

	return &OpenSearchStore{
		client:       client,
		resultsIndex: cfg.ResultsIndex,
		imagesIndex:  cfg.ImagesIndex,
		maxResults:   maxResults,
		ensured:      make(map[string]bool),
	}, nil
}

func (s *OpenSearchStore) GetImage(ctx context.Context, id string) (models.Record, error) {
	defer observe("get_image", time.Now())
	return s.getDocument(ctx, s.imagesIndex, id)
}

func (s *OpenSearchStore) ListResults(ctx context.Context, session string, filter ResultFilter) ([]models.Record, error) {
	defer observe("list_results", time.Now())

	out := []models.Record{}
	if filter.MatchesNothing() {
		return out, nil
	}

	must := []map[string]interface{}{
		{"term": map[string]interface{}{"session_id.keyword": session}},
	}
	if !filter.All {
		must = append(must, map[string]interface{}{
			"terms": map[string]interface{}{"result_type.keyword": filter.Types},
		})
	}

	searchBody := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{"filter": must},
		},
		"size": s.maxResults,
		"sort": []map[string]interface{}{
			{"timestamp": map[string]string{"order": "desc"}},
		},
	}

	bodyBytes, err := json.Marshal(searchBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search body: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.resultsIndex),
		s.client.Search.WithBody(bytes.NewReader(bodyBytes)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search results: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return out, nil
	}
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("opensearch error: %s - %s", res.Status(), string(body))
	}

	var searchResult struct {
		Hits struct {
			Hits []struct {
				ID     string        `json:"_id"`
				Source models.Record `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&searchResult); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	for _, hit := range searchResult.Hits.Hits {
		rec := hit.Source
		if rec == nil {
			rec = models.Record{}
		}
		rec["_id"] = hit.ID
		out = append(out, rec)
	}
	return out, nil
}

// GetDetail fetches a detail record. The index of a generic kind is created
// on first use so later writes by the pipeline land in a known index.
func (s *OpenSearchStore) GetDetail(ctx context.Context, kind Descriptor, id string) (models.Record, error) {
	defer observe("get_detail", time.Now())

	if kind.Generic {
		if err := s.EnsureIndex(ctx, kind.Index); err != nil {
			return nil, err
		}
	}
	return s.getDocument(ctx, kind.Index, id)
}

func (s *OpenSearchStore) UpdateResult(ctx context.Context, id string, fields models.Record) error {
	defer observe("update_result", time.Now())

	doc := fields.Clone()
	delete(doc, "_id")

	body, err := json.Marshal(map[string]interface{}{"doc": doc})
	if err != nil {
		return fmt.Errorf("failed to marshal update: %w", err)
	}

	res, err := s.client.Update(
		s.resultsIndex,
		id,
		bytes.NewReader(body),
		s.client.Update.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to update result: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return fmt.Errorf("opensearch error: %s - %s", res.Status(), string(bodyBytes))
	}
	return nil
}

// resultsMapping declares the fields ListResults filters and sorts on. The
// keyword subfields match what dynamic mapping gives a string field, so the
// same query works on an index created by the pipeline.
var resultsMapping = map[string]interface{}{
	"dynamic": true,
	"properties": map[string]interface{}{
		"session_id":  keywordField(),
		"result_type": keywordField(),
		"timestamp":   map[string]interface{}{"type": "date"},
	},
}

func keywordField() map[string]interface{} {
	return map[string]interface{}{
		"type": "keyword",
		"fields": map[string]interface{}{
			"keyword": map[string]interface{}{"type": "keyword"},
		},
	}
}

// EnsureResultsIndex creates the results index with its mapping unless it
// exists.
func (s *OpenSearchStore) EnsureResultsIndex(ctx context.Context) error {
	return s.ensureIndex(ctx, s.resultsIndex, resultsMapping)
}

// EnsureIndex creates index with dynamic mappings unless it exists. The
// outcome is cached per index for the life of the store.
func (s *OpenSearchStore) EnsureIndex(ctx context.Context, index string) error {
	return s.ensureIndex(ctx, index, map[string]interface{}{"dynamic": true})
}

func (s *OpenSearchStore) ensureIndex(ctx context.Context, index string, mappings map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ensured[index] {
		return nil
	}

	exists, err := s.client.Indices.Exists([]string{index}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to check index %s: %w", index, err)
	}
	exists.Body.Close()

	if exists.StatusCode == http.StatusOK {
		s.ensured[index] = true
		return nil
	}

	settings := map[string]interface{}{
		"mappings": mappings,
	}
	body, err := json.Marshal(settings)
	if err != nil {
		return err
	}

	res, err := s.client.Indices.Create(
		index,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		// another hub instance created it first
		if !strings.Contains(string(bodyBytes), "resource_already_exists_exception") {
			return fmt.Errorf("failed to create index %s: %s - %s", index, res.Status(), string(bodyBytes))
		}
	}

	s.ensured[index] = true
	return nil
}

func (s *OpenSearchStore) getDocument(ctx context.Context, index, id string) (models.Record, error) {
	res, err := s.client.Get(index, id, s.client.Get.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", index, id, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("opensearch error: %s - %s", res.Status(), string(body))
	}

	var doc struct {
		ID     string        `json:"_id"`
		Found  bool          `json:"found"`
		Source models.Record `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	if !doc.Found {
		return nil, ErrNotFound
	}

	rec := doc.Source
	if rec == nil {
		rec = models.Record{}
	}
	rec["_id"] = doc.ID
	return rec, nil
}

func observe(op string, start time.Time) {
	metrics.StoreDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
