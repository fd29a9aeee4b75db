package tools

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func collect(t Tool, query string) []Document {
	return slices.Collect(t.Search(context.Background(), query))
}

func TestSourceIdentifier(t *testing.T) {
	require.Equal(t, "http://a", Source{"source": "http://a", "Title": "A"}.Identifier())
	require.Equal(t, "A paper", Source{"Title": "A paper"}.Identifier())
	require.Equal(t, "", Source{}.Identifier())
	require.Equal(t, "", Source(nil).Identifier())
}

func TestFuncToolConvertsErrors(t *testing.T) {
	t.Run("error becomes a single document", func(t *testing.T) {
		tool := New(Options{
			Name:  WebSearch,
			Label: "web",
			Search: func(ctx context.Context, query string) ([]Document, error) {
				return nil, errors.New("boom")
			},
		})
		docs := collect(tool, "q")
		require.Len(t, docs, 1)
		require.Equal(t, "An error occurred during web search: boom", docs[0].Content)
		require.Empty(t, docs[0].Source.Identifier())
		require.True(t, IsErrorContent(docs[0].Content))
	})

	t.Run("panic becomes a single document", func(t *testing.T) {
		tool := Func(ArxivSearch, func(ctx context.Context, query string) ([]Document, error) {
			panic("unexpected")
		})
		docs := collect(tool, "q")
		require.Len(t, docs, 1)
		require.Contains(t, docs[0].Content, "panic: unexpected")
	})

	t.Run("empty message", func(t *testing.T) {
		tool := New(Options{
			Name:         WebSearch,
			EmptyMessage: "nothing",
			Search: func(ctx context.Context, query string) ([]Document, error) {
				return nil, nil
			},
		})
		require.Equal(t, []Document{{Content: "nothing", Source: Source{}}}, collect(tool, "q"))
	})

	t.Run("search is lazy", func(t *testing.T) {
		calls := 0
		tool := Func(WebSearch, func(ctx context.Context, query string) ([]Document, error) {
			calls++
			return []Document{{Content: "x"}}, nil
		})
		seq := tool.Search(context.Background(), "q")
		require.Equal(t, 0, calls)
		for range seq {
		}
		require.Equal(t, 1, calls)
	})
}

func TestRegistry(t *testing.T) {
	stub := func(name Name) Tool {
		return New(Options{Name: name, Description: "desc " + string(name), Search: func(ctx context.Context, query string) ([]Document, error) {
			return nil, nil
		}})
	}

	t.Run("lookup", func(t *testing.T) {
		r, err := NewRegistry(stub(WebSearch), stub(ArxivSearch))
		require.NoError(t, err)
		require.Equal(t, 2, r.Len())
		_, ok := r.Lookup("web_search")
		require.True(t, ok)
		_, ok = r.Lookup("wikipedia_search")
		require.False(t, ok)
		require.Equal(t, []Name{WebSearch, ArxivSearch}, r.Names())
		require.Equal(t, "1. `web_search`: desc web_search\n2. `arxiv_search`: desc arxiv_search\n", r.Describe())
	})

	t.Run("rejects unknown names", func(t *testing.T) {
		_, err := NewRegistry(stub(Name("shell")))
		require.ErrorContains(t, err, "unknown tool name")
	})

	t.Run("rejects duplicates", func(t *testing.T) {
		_, err := NewRegistry(stub(WebSearch), stub(WebSearch))
		require.ErrorContains(t, err, "registered twice")
	})
}

func TestTavily(t *testing.T) {
	t.Run("maps results", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "Bearer key", r.Header.Get("Authorization"))
			var req tavilyRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Equal(t, "quantum", req.Query)
			require.Equal(t, 3, req.MaxResults)
			io.WriteString(w, `{"results":[{"url":"http://a","content":"X"},{"url":"","content":"Y"}]}`)
		}))
		defer srv.Close()

		docs := collect(NewTavily("key", WithBaseURL(srv.URL)), "quantum")
		require.Equal(t, []Document{
			{Content: "X", Source: Source{"source": "http://a"}},
			{Content: "Y", Source: Source{"source": "N/A"}},
		}, docs)
	})

	t.Run("no results", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"results":[]}`)
		}))
		defer srv.Close()

		docs := collect(NewTavily("key", WithBaseURL(srv.URL)), "q")
		require.Len(t, docs, 1)
		require.Equal(t, "No results were found for this search query.", docs[0].Content)
	})

	t.Run("http failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		docs := collect(NewTavily("key", WithBaseURL(srv.URL)), "q")
		require.Len(t, docs, 1)
		require.Equal(t, "An error occurred during web search: unexpected status 401", docs[0].Content)
	})

	t.Run("missing key", func(t *testing.T) {
		docs := collect(NewTavily(""), "q")
		require.Len(t, docs, 1)
		require.Contains(t, docs[0].Content, "tavily api key is not configured")
	})
}

func TestWikipedia(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Rome", r.URL.Query().Get("gsrsearch"))
		require.Equal(t, "1", r.URL.Query().Get("gsrlimit"))
		io.WriteString(w, `{"query":{"pages":[{"pageid":1,"title":"Rome","extract":"`+strings.Repeat("a", 50)+`","fullurl":"https://en.wikipedia.org/wiki/Rome"}]}}`)
	}))
	defer srv.Close()

	docs := collect(NewWikipedia(WithBaseURL(srv.URL), WithMaxChars(10)), "Rome")
	require.Len(t, docs, 1)
	require.Equal(t, strings.Repeat("a", 10), docs[0].Content)
	require.Equal(t, "https://en.wikipedia.org/wiki/Rome", docs[0].Source.Identifier())
	require.Equal(t, "Rome", docs[0].Source["Title"])
}

func TestArxiv(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "all:transformers", r.URL.Query().Get("search_query"))
		io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/1706.03762v7</id>
    <published>2017-06-12T17:57:34Z</published>
    <title>Attention Is All
      You Need</title>
    <summary>  The dominant sequence transduction models.  </summary>
    <author><name>Ashish Vaswani</name></author>
    <author><name>Noam Shazeer</name></author>
  </entry>
</feed>`)
	}))
	defer srv.Close()

	docs := collect(NewArxiv(WithBaseURL(srv.URL)), "transformers")
	require.Len(t, docs, 1)
	require.Equal(t, "The dominant sequence transduction models.", docs[0].Content)
	require.Equal(t, "Attention Is All You Need", docs[0].Source.Identifier())
	require.Equal(t, "2017-06-12", docs[0].Source["Published"])
	require.Equal(t, "Ashish Vaswani, Noam Shazeer", docs[0].Source["Authors"])
}

func TestRateLimitedAndObserved(t *testing.T) {
	base := Func(WebSearch, func(ctx context.Context, query string) ([]Document, error) {
		return []Document{{Content: "a"}, {Content: "b"}}, nil
	})

	var seen []int
	tool := Observed(RateLimited(base, rate.NewLimiter(rate.Every(time.Millisecond), 1)), func(name Name, docs int) {
		require.Equal(t, WebSearch, name)
		seen = append(seen, docs)
	})
	require.Len(t, collect(tool, "q"), 2)
	require.Len(t, collect(tool, "q"), 2)
	require.Equal(t, []int{2, 2}, seen)

	t.Run("cancelled wait yields error document", func(t *testing.T) {
		limited := RateLimited(base, rate.NewLimiter(rate.Every(time.Hour), 0))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		docs := slices.Collect(limited.Search(ctx, "q"))
		require.Len(t, docs, 1)
		require.True(t, IsErrorContent(docs[0].Content))
	})
}
