package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	DefaultTavilyURL        = "https://api.tavily.com/search"
	DefaultTavilyMaxResults = 3

	noResultsMessage = "No results were found for this search query."
)

type tavilyRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// NewTavily returns the web_search tool backed by the Tavily search API
func NewTavily(apiKey string, opts ...HTTPOption) Tool {
	cfg := newHTTPConfig(DefaultTavilyURL, DefaultTavilyMaxResults, opts)
	return New(Options{
		Name:         WebSearch,
		Description:  "Use for questions about current events, product information, specifications, prices, user reviews, or general topics that require accessing the live internet.",
		Label:        "web",
		EmptyMessage: noResultsMessage,
		Search: func(ctx context.Context, query string) ([]Document, error) {
			if apiKey == "" {
				return nil, fmt.Errorf("tavily api key is not configured")
			}
			payload, err := json.Marshal(tavilyRequest{Query: query, MaxResults: cfg.maxResults})
			if err != nil {
				return nil, err
			}
			body, err := cfg.do(ctx, func() (*http.Request, error) {
				req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL, bytes.NewReader(payload))
				if err != nil {
					return nil, err
				}
				req.Header.Set("Content-Type", "application/json")
				req.Header.Set("Authorization", "Bearer "+apiKey)
				return req, nil
			})
			if err != nil {
				return nil, err
			}
			var resp tavilyResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return nil, fmt.Errorf("failed to decode tavily response: %w", err)
			}
			docs := make([]Document, 0, len(resp.Results))
			for _, r := range resp.Results {
				source := strings.TrimSpace(r.URL)
				if source == "" {
					source = "N/A"
				}
				docs = append(docs, Document{
					Content: r.Content,
					Source:  Source{"source": source},
				})
			}
			return docs, nil
		},
	})
}
