package doimatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/aster/pkg/tracing"
)

// Client queries an external metadata catalog for data product records
type Client struct {
	baseURL string
	http    *http.Client
	logger  ectologger.Logger
}

// NewClient creates a new metadata catalog client
func NewClient(baseURL string, logger ectologger.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
		logger:  logger,
	}
}

type collectionPage struct {
	Hits  int              `json:"hits"`
	Items []map[string]any `json:"items"`
}

// LookupByConceptID finds catalog entries for a concept id
func (c *Client) LookupByConceptID(ctx context.Context, conceptID string) ([]map[string]any, error) {
	return c.lookup(ctx, "concept_id", conceptID)
}

// LookupByDOI finds catalog entries for a DOI string
func (c *Client) LookupByDOI(ctx context.Context, doi string) ([]map[string]any, error) {
	return c.lookup(ctx, "doi", doi)
}

func (c *Client) lookup(ctx context.Context, param, value string) ([]map[string]any, error) {
	ctx, span := tracing.StartSpan(ctx, "doimatch.Client.lookup")
	defer span.End()

	endpoint := fmt.Sprintf("%s/collections.json?%s=%s", c.baseURL, param, url.QueryEscape(value))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query metadata catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metadata catalog returned status %d for %s=%s", resp.StatusCode, param, value)
	}

	var page collectionPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode catalog response: %w", err)
	}
	return page.Items, nil
}
