package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/provenance/config"
	"example.com/backstage/services/provenance/domain"
)

// Index names before prefixing
const (
	BatchesIndex = "batches"
	EventsIndex  = "events"
)

// ElasticClient maintains the batch and event read models in Elasticsearch
type ElasticClient struct {
	client *elasticsearch.Client
	config config.ElasticConfig
}

// NewElasticClient creates a new Elasticsearch client
func NewElasticClient(cfg config.ElasticConfig) (*ElasticClient, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 10,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticClient{
		client: client,
		config: cfg,
	}, nil
}

// EnsureIndices creates the read model indices that do not exist yet
func (c *ElasticClient) EnsureIndices(ctx context.Context) error {
	for _, index := range []string{BatchesIndex, EventsIndex} {
		name := config.FormatIndex(c.config, index)

		res, err := c.client.Indices.Exists([]string{name}, c.client.Indices.Exists.WithContext(ctx))
		if err != nil {
			return errors.Wrapf(err, "failed to check index %s", name)
		}
		res.Body.Close()

		if res.StatusCode == http.StatusOK {
			continue
		}
		if res.StatusCode != http.StatusNotFound {
			return errors.Errorf("unexpected status %d checking index %s", res.StatusCode, name)
		}

		log.Info().Str("index", name).Msg("Creating index")
		res, err = c.client.Indices.Create(name, c.client.Indices.Create.WithContext(ctx))
		if err != nil {
			return errors.Wrapf(err, "failed to create index %s", name)
		}
		if err := checkResponse(res, "create index"); err != nil {
			return err
		}
	}
	return nil
}

// IndexBatch indexes a batch document keyed by batch id
func (c *ElasticClient) IndexBatch(ctx context.Context, batch domain.Batch) error {
	return c.index(ctx, BatchesIndex, batch.ID, batch)
}

// IndexEvent indexes an event document keyed by batch id and event id
func (c *ElasticClient) IndexEvent(ctx context.Context, event domain.CustodyEvent) error {
	return c.index(ctx, EventsIndex, EventDocumentID(event.BatchID, event.ID), event)
}

// EventDocumentID is the document id of an event
func EventDocumentID(batchID string, eventID int64) string {
	return fmt.Sprintf("%s:%d", batchID, eventID)
}

func (c *ElasticClient) index(ctx context.Context, index, id string, doc interface{}) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal document")
	}

	req := esapi.IndexRequest{
		Index:      config.FormatIndex(c.config, index),
		DocumentID: id,
		Body:       bytes.NewReader(body),
		Refresh:    "true",
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch index request")
	}
	if err := checkResponse(res, "index"); err != nil {
		return err
	}

	log.Debug().Str("index", index).Str("id", id).Msg("Document indexed")
	return nil
}

// SearchEvents runs a full-text query over actor, role and note
func (c *ElasticClient) SearchEvents(ctx context.Context, text string, size int) ([]domain.CustodyEvent, error) {
	if size <= 0 {
		size = 50
	}
	query := map[string]interface{}{
		"size": size,
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  strings.TrimSpace(text),
				"fields": []string{"actor", "role", "note", "batchId"},
			},
		},
		"sort": []interface{}{
			map[string]interface{}{"timestamp": map[string]string{"order": "desc"}},
		},
	}

	body, err := json.Marshal(query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal search query")
	}

	req := esapi.SearchRequest{
		Index: []string{config.FormatIndex(c.config, EventsIndex)},
		Body:  bytes.NewReader(body),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute Elasticsearch search request")
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, errors.Errorf("Elasticsearch search error: %s", res.String())
	}

	var result struct {
		Hits struct {
			Hits []struct {
				Source domain.CustodyEvent `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "failed to parse Elasticsearch search response")
	}

	events := make([]domain.CustodyEvent, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		events = append(events, hit.Source)
	}
	return events, nil
}

func checkResponse(res *esapi.Response, op string) error {
	defer res.Body.Close()

	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return errors.Wrapf(err, "failed to parse Elasticsearch %s error response", op)
		}
		return errors.Errorf("Elasticsearch %s error: %v", op, e)
	}
	return nil
}
