// Package search mirrors extracted pages into Elasticsearch so earlier
// reading can be found again.
package search

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/mfenderov/elf/pkg/models"
)

// Config holds Elasticsearch client configuration.
type Config struct {
	Addresses []string
	Index     string
	Username  string
	Password  string
}

// Index stores one document per page URL.
type Index struct {
	es    *elasticsearch.Client
	index string
}

// New creates a page index client.
func New(config Config) (*Index, error) {
	if config.Index == "" {
		return nil, fmt.Errorf("index name is required")
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: config.Addresses,
		Username:  config.Username,
		Password:  config.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ES client: %w", err)
	}

	return &Index{es: es, index: config.Index}, nil
}

// Ping checks if Elasticsearch is available.
func (x *Index) Ping(ctx context.Context) bool {
	res, err := x.es.Ping(x.es.Ping.WithContext(ctx))
	if err != nil {
		return false
	}
	defer res.Body.Close()
	return !res.IsError()
}

var indexMapping = `{
	"mappings": {
		"properties": {
			"url": { "type": "keyword" },
			"title": { "type": "text" },
			"description": { "type": "text" },
			"headings": { "type": "text" },
			"content": { "type": "text", "analyzer": "english" },
			"extracted_at": { "type": "date" }
		}
	}
}`

// CreateIndex creates the index if it does not exist.
func (x *Index) CreateIndex(ctx context.Context) error {
	res, err := x.es.Indices.Exists([]string{x.index}, x.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to check index: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == 200 {
		return nil
	}

	res, err = x.es.Indices.Create(
		x.index,
		x.es.Indices.Create.WithContext(ctx),
		x.es.Indices.Create.WithBody(bytes.NewReader([]byte(indexMapping))),
	)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("error creating index: %s", res.String())
	}
	return nil
}

// DeleteIndex removes the index.
func (x *Index) DeleteIndex(ctx context.Context) error {
	res, err := x.es.Indices.Delete([]string{x.index}, x.es.Indices.Delete.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	return nil
}

type pageDocument struct {
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Headings    []string  `json:"headings"`
	Content     string    `json:"content"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// DocumentID is the index id of a page.
func DocumentID(pageURL string) string {
	sum := sha256.Sum256([]byte(pageURL))
	return hex.EncodeToString(sum[:])
}

// IndexPage stores or replaces the document of page.
func (x *Index) IndexPage(ctx context.Context, page *models.PageRecord) error {
	doc := pageDocument{
		URL:         page.URL,
		Title:       page.Title,
		Description: page.Description,
		Content:     page.Content,
		ExtractedAt: page.ExtractedAt,
	}
	for _, h := range page.Headings {
		doc.Headings = append(doc.Headings, h.Text)
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal page: %w", err)
	}

	res, err := x.es.Index(
		x.index,
		bytes.NewReader(data),
		x.es.Index.WithContext(ctx),
		x.es.Index.WithDocumentID(DocumentID(page.URL)),
	)
	if err != nil {
		return fmt.Errorf("failed to index page: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("error indexing page (status %d): %s", res.StatusCode, res.String())
	}
	return nil
}

// DeletePage removes the document of pageURL. Missing documents are
// not an error.
func (x *Index) DeletePage(ctx context.Context, pageURL string) error {
	res, err := x.es.Delete(x.index, DocumentID(pageURL), x.es.Delete.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to delete page: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != 404 {
		return fmt.Errorf("error deleting page (status %d): %s", res.StatusCode, res.String())
	}
	return nil
}

// Refresh forces an index refresh.
func (x *Index) Refresh(ctx context.Context) error {
	res, err := x.es.Indices.Refresh(
		x.es.Indices.Refresh.WithContext(ctx),
		x.es.Indices.Refresh.WithIndex(x.index),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	return nil
}

// Hit is one search result.
type Hit struct {
	URL        string   `json:"url"`
	Title      string   `json:"title"`
	Score      float64  `json:"score"`
	Highlights []string `json:"highlights,omitempty"`
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Score     float64      `json:"_score"`
			Source    pageDocument `json:"_source"`
			Highlight struct {
				Content []string `json:"content"`
			} `json:"highlight"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search runs a BM25 query over title, headings, description and content.
func (x *Index) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	searchQuery := map[string]interface{}{
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  query,
				"fields": []string{"title^3", "headings^2", "description", "content"},
			},
		},
		"highlight": map[string]interface{}{
			"fields": map[string]interface{}{
				"content": map[string]interface{}{"fragment_size": 160, "number_of_fragments": 2},
			},
		},
		"_source": []string{"url", "title"},
		"size":    limit,
	}

	data, err := json.Marshal(searchQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	res, err := x.es.Search(
		x.es.Search.WithContext(ctx),
		x.es.Search.WithIndex(x.index),
		x.es.Search.WithBody(bytes.NewReader(data)),
	)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("search error: %s", res.String())
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	hits := make([]Hit, len(sr.Hits.Hits))
	for i, h := range sr.Hits.Hits {
		hits[i] = Hit{
			URL:        h.Source.URL,
			Title:      h.Source.Title,
			Score:      h.Score,
			Highlights: h.Highlight.Content,
		}
	}
	return hits, nil
}
