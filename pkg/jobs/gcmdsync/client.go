package gcmdsync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/aster/pkg/tracing"
)

// Client fetches keyword concepts from the GCMD Keyword Management Service
type Client struct {
	baseURL  string
	pageSize int
	http     *http.Client
	logger   ectologger.Logger
}

// NewClient creates a new KMS client
func NewClient(baseURL string, pageSize int, logger ectologger.Logger) *Client {
	if pageSize <= 0 {
		pageSize = 2000
	}
	return &Client{
		baseURL:  baseURL,
		pageSize: pageSize,
		http:     &http.Client{Timeout: 60 * time.Second},
		logger:   logger,
	}
}

type conceptPage struct {
	Hits     int              `json:"hits"`
	PageNum  int              `json:"page_num"`
	Concepts []map[string]any `json:"concepts"`
}

// FetchKeywords retrieves the full concept list for a keyword scheme,
// paging until the service runs dry
func (c *Client) FetchKeywords(ctx context.Context, scheme string) ([]map[string]any, error) {
	ctx, span := tracing.StartSpan(ctx, "gcmdsync.Client.FetchKeywords")
	defer span.End()

	keywords := []map[string]any{}
	for pageNum := 1; ; pageNum++ {
		page, err := c.fetchPage(ctx, scheme, pageNum)
		if err != nil {
			return nil, err
		}
		keywords = append(keywords, page.Concepts...)
		if len(page.Concepts) < c.pageSize {
			break
		}
	}

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"scheme": scheme,
		"count":  len(keywords),
	}).Info("Fetched keyword list")
	return keywords, nil
}

func (c *Client) fetchPage(ctx context.Context, scheme string, pageNum int) (*conceptPage, error) {
	url := fmt.Sprintf("%s/concepts/concept_scheme/%s?format=json&page_num=%d&page_size=%d",
		c.baseURL, scheme, pageNum, c.pageSize)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch keyword page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("keyword service returned status %d for scheme %s", resp.StatusCode, scheme)
	}

	var page conceptPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode keyword page: %w", err)
	}
	return &page, nil
}
