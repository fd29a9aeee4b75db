package tools

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultArxivURL        = "http://export.arxiv.org/api/query"
	DefaultArxivMaxResults = 2
)

type arxivFeed struct {
	Entries []struct {
		ID        string `xml:"id"`
		Title     string `xml:"title"`
		Summary   string `xml:"summary"`
		Published string `xml:"published"`
		Authors   []struct {
			Name string `xml:"name"`
		} `xml:"author"`
	} `xml:"entry"`
}

// NewArxiv returns the arxiv_search tool backed by the arXiv Atom API.
// Documents carry the paper summary; metadata has no "source" entry so
// citations fall back to the paper title.
func NewArxiv(opts ...HTTPOption) Tool {
	cfg := newHTTPConfig(DefaultArxivURL, DefaultArxivMaxResults, opts)
	return New(Options{
		Name:        ArxivSearch,
		Description: "ONLY use for questions about scientific papers, deep technical concepts, machine learning algorithms, or physics research.",
		Label:       "ArXiv",
		Search: func(ctx context.Context, query string) ([]Document, error) {
			params := url.Values{}
			params.Set("search_query", "all:"+query)
			params.Set("start", "0")
			params.Set("max_results", strconv.Itoa(cfg.maxResults))
			endpoint := cfg.baseURL + "?" + params.Encode()

			body, err := cfg.do(ctx, func() (*http.Request, error) {
				return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			})
			if err != nil {
				return nil, err
			}
			var feed arxivFeed
			if err := xml.Unmarshal(body, &feed); err != nil {
				return nil, fmt.Errorf("failed to decode arxiv feed: %w", err)
			}
			docs := make([]Document, 0, len(feed.Entries))
			for _, entry := range feed.Entries {
				authors := make([]string, 0, len(entry.Authors))
				for _, a := range entry.Authors {
					authors = append(authors, strings.TrimSpace(a.Name))
				}
				published := strings.TrimSpace(entry.Published)
				if len(published) >= 10 {
					published = published[:10]
				}
				docs = append(docs, Document{
					Content: collapseSpace(entry.Summary),
					Source: Source{
						"Entry ID":  strings.TrimSpace(entry.ID),
						"Published": published,
						"Title":     collapseSpace(entry.Title),
						"Authors":   strings.Join(authors, ", "),
					},
				})
			}
			return docs, nil
		},
	})
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
