package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

const (
	DefaultWikipediaURL        = "https://en.wikipedia.org/w/api.php"
	DefaultWikipediaMaxResults = 1
	DefaultWikipediaMaxChars   = 4000
)

type wikipediaResponse struct {
	Query struct {
		Pages []struct {
			PageID  int    `json:"pageid"`
			Title   string `json:"title"`
			Extract string `json:"extract"`
			FullURL string `json:"fullurl"`
			Index   int    `json:"index"`
		} `json:"pages"`
	} `json:"query"`
}

// NewWikipedia returns the wikipedia_search tool backed by the MediaWiki API
func NewWikipedia(opts ...HTTPOption) Tool {
	cfg := newHTTPConfig(DefaultWikipediaURL, DefaultWikipediaMaxResults, opts)
	if cfg.maxChars == 0 {
		cfg.maxChars = DefaultWikipediaMaxChars
	}
	return New(Options{
		Name:        WikipediaSearch,
		Description: "Use for questions about well-established historical facts, definitions, or general knowledge about people, places, and concepts.",
		Label:       "Wikipedia",
		Search: func(ctx context.Context, query string) ([]Document, error) {
			params := url.Values{}
			params.Set("action", "query")
			params.Set("format", "json")
			params.Set("formatversion", "2")
			params.Set("generator", "search")
			params.Set("gsrsearch", query)
			params.Set("gsrlimit", strconv.Itoa(cfg.maxResults))
			params.Set("prop", "extracts|info")
			params.Set("inprop", "url")
			params.Set("explaintext", "1")
			params.Set("exlimit", "max")
			endpoint := cfg.baseURL + "?" + params.Encode()

			body, err := cfg.do(ctx, func() (*http.Request, error) {
				return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			})
			if err != nil {
				return nil, err
			}
			var resp wikipediaResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return nil, fmt.Errorf("failed to decode wikipedia response: %w", err)
			}
			docs := make([]Document, 0, len(resp.Query.Pages))
			for _, page := range resp.Query.Pages {
				if page.Extract == "" {
					continue
				}
				docs = append(docs, Document{
					Content: truncate(page.Extract, cfg.maxChars),
					Source: Source{
						"Title":  page.Title,
						"source": page.FullURL,
					},
				})
				if len(docs) == cfg.maxResults {
					break
				}
			}
			return docs, nil
		},
	})
}
