// Package search mirrors valid listings into Elasticsearch for free-text lookup.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	apperrors "immo-alerts/internal/common/errors"
	"immo-alerts/internal/common/logger"
	"immo-alerts/internal/models"
)

const DefaultIndex = "listings"

const indexMapping = `{
  "mappings": {
    "properties": {
      "source":       {"type": "keyword"},
      "postId":       {"type": "keyword"},
      "group":        {"type": "keyword"},
      "url":          {"type": "keyword", "index": false},
      "text":         {"type": "text", "analyzer": "french"},
      "location":     {"type": "text", "analyzer": "french", "fields": {"raw": {"type": "keyword"}}},
      "price":        {"type": "double"},
      "surface":      {"type": "double"},
      "rooms":        {"type": "integer"},
      "propertyType": {"type": "keyword"},
      "furnished":    {"type": "boolean"},
      "confidence":   {"type": "double"},
      "images":       {"type": "keyword", "index": false},
      "postedAt":     {"type": "date"},
      "enrichedAt":   {"type": "date"}
    }
  }
}`

// Document is the indexed shape of a listing.
type Document struct {
	ID           string     `json:"id"`
	Source       string     `json:"source"`
	PostID       string     `json:"postId"`
	Group        string     `json:"group,omitempty"`
	URL          string     `json:"url,omitempty"`
	Text         string     `json:"text"`
	Location     *string    `json:"location,omitempty"`
	Price        *float64   `json:"price,omitempty"`
	Surface      *float64   `json:"surface,omitempty"`
	Rooms        *int       `json:"rooms,omitempty"`
	PropertyType *string    `json:"propertyType,omitempty"`
	Furnished    *bool      `json:"furnished,omitempty"`
	Confidence   *float64   `json:"confidence,omitempty"`
	Images       []string   `json:"images,omitempty"`
	PostedAt     *time.Time `json:"postedAt,omitempty"`
	EnrichedAt   *time.Time `json:"enrichedAt,omitempty"`
}

func toDocument(l *models.Listing) Document {
	doc := Document{
		ID:         l.ID,
		Source:     l.Source,
		PostID:     l.PostID,
		Group:      l.GroupHandle,
		URL:        l.PostURL,
		Text:       l.RawText,
		Location:   l.Location,
		Price:      l.Price,
		Surface:    l.Surface,
		Rooms:      l.Rooms,
		Furnished:  l.Furnished,
		Confidence: l.ConfidenceScore,
		Images:     l.Images,
		PostedAt:   l.PostedAt,
		EnrichedAt: l.EnrichedAt,
	}
	if l.PropertyType != nil {
		t := string(*l.PropertyType)
		doc.PropertyType = &t
	}
	return doc
}

// Query filters a listing search. Zero values are ignored.
type Query struct {
	Text         string
	Location     string
	PropertyType models.PropertyType
	MinPrice     float64
	MaxPrice     float64
	Size         int
}

type Hit struct {
	Document
	Score float64 `json:"score"`
}

type Result struct {
	Total int   `json:"total"`
	Hits  []Hit `json:"hits"`
}

type Indexer struct {
	client *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewIndexer(client *elasticsearch.Client, index string, log logger.Logger) *Indexer {
	if index == "" {
		index = DefaultIndex
	}
	return &Indexer{
		client: client,
		index:  index,
		logger: log.WithFields(map[string]interface{}{"component": "search", "index": index}),
	}
}

// EnsureIndex creates the index with its mapping when missing.
func (i *Indexer) EnsureIndex(ctx context.Context) error {
	res, err := i.client.Indices.Exists([]string{i.index}, i.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return apperrors.NewSearchIndexFailedError(err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return apperrors.NewSearchIndexFailedError(fmt.Errorf("index exists check: %s", res.Status()))
	}

	res, err = i.client.Indices.Create(i.index,
		i.client.Indices.Create.WithBody(strings.NewReader(indexMapping)),
		i.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return apperrors.NewSearchIndexFailedError(err)
	}
	defer res.Body.Close()
	// Another replica may have created it first.
	if res.IsError() && !strings.Contains(readBody(res), "resource_already_exists_exception") {
		return apperrors.NewSearchIndexFailedError(fmt.Errorf("create index: %s", res.Status()))
	}
	i.logger.Info("search index created", nil)
	return nil
}

// Index writes or replaces the document for a listing.
func (i *Indexer) Index(ctx context.Context, l *models.Listing) error {
	body, err := json.Marshal(toDocument(l))
	if err != nil {
		return apperrors.NewSearchIndexFailedError(err)
	}

	req := esapi.IndexRequest{
		Index:      i.index,
		DocumentID: l.ID,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return apperrors.NewSearchIndexFailedError(err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return apperrors.NewSearchIndexFailedError(fmt.Errorf("index %s: %s %s", l.ID, res.Status(), readBody(res)))
	}
	return nil
}

// Search runs a filtered query, best matches first.
func (i *Indexer) Search(ctx context.Context, q Query) (*Result, error) {
	size := q.Size
	if size <= 0 || size > 100 {
		size = 20
	}

	body, err := json.Marshal(buildQuery(q))
	if err != nil {
		return nil, apperrors.NewSearchIndexFailedError(err)
	}

	req := esapi.SearchRequest{
		Index: []string{i.index},
		Body:  bytes.NewReader(body),
		Size:  &size,
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return nil, apperrors.NewSearchIndexFailedError(err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, apperrors.NewSearchIndexFailedError(fmt.Errorf("search: %s", res.Status()))
	}

	var raw struct {
		Hits struct {
			Total struct {
				Value int `json:"value"`
			} `json:"total"`
			Hits []struct {
				Score  float64  `json:"_score"`
				Source Document `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&raw); err != nil {
		return nil, apperrors.NewSearchIndexFailedError(fmt.Errorf("decode search response: %w", err))
	}

	out := &Result{Total: raw.Hits.Total.Value, Hits: make([]Hit, 0, len(raw.Hits.Hits))}
	for _, h := range raw.Hits.Hits {
		out.Hits = append(out.Hits, Hit{Document: h.Source, Score: h.Score})
	}
	return out, nil
}

func buildQuery(q Query) map[string]interface{} {
	must := []interface{}{}
	filter := []interface{}{}

	if q.Text != "" {
		must = append(must, map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  q.Text,
				"fields": []string{"text", "location^2"},
			},
		})
	}
	if q.Location != "" {
		must = append(must, map[string]interface{}{
			"match": map[string]interface{}{"location": q.Location},
		})
	}
	if q.PropertyType != "" && q.PropertyType != models.PropertyBoth {
		filter = append(filter, map[string]interface{}{
			"term": map[string]interface{}{"propertyType": string(q.PropertyType)},
		})
	}
	if q.MinPrice > 0 || q.MaxPrice > 0 {
		rng := map[string]interface{}{}
		if q.MinPrice > 0 {
			rng["gte"] = q.MinPrice
		}
		if q.MaxPrice > 0 {
			rng["lte"] = q.MaxPrice
		}
		filter = append(filter, map[string]interface{}{
			"range": map[string]interface{}{"price": rng},
		})
	}

	if len(must) == 0 {
		must = append(must, map[string]interface{}{"match_all": map[string]interface{}{}})
	}
	return map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must":   must,
				"filter": filter,
			},
		},
		"sort": []interface{}{"_score", map[string]interface{}{"enrichedAt": "desc"}},
	}
}

func readBody(res *esapi.Response) string {
	b, _ := io.ReadAll(io.LimitReader(res.Body, 512))
	return string(b)
}
