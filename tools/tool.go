// Package tools provides the search capabilities the researcher routes
// questions to. Every tool returns a lazy sequence of documents and never
// fails past its boundary: internal errors become a single document that
// describes the failure.
package tools

import (
	"context"
	"fmt"
	"iter"
	"strings"
)

// Name identifies a registered search tool
type Name string

const (
	WebSearch       Name = "web_search"
	WikipediaSearch Name = "wikipedia_search"
	ArxivSearch     Name = "arxiv_search"
)

// Names returns the fixed set of tool names in routing order
func Names() []Name {
	return []Name{WebSearch, WikipediaSearch, ArxivSearch}
}

// Source is the metadata attached to a document
type Source map[string]string

// Identifier returns the "source" entry, falling back to "Title"
func (s Source) Identifier() string {
	if v := strings.TrimSpace(s["source"]); v != "" {
		return v
	}
	return strings.TrimSpace(s["Title"])
}

// Clone returns a copy of the source. A nil source clones to an empty one.
func (s Source) Clone() Source {
	out := make(Source, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Document is one search result
type Document struct {
	Content string `json:"content"`
	Source  Source `json:"source"`
}

// Tool is a named search capability
type Tool interface {
	Name() Name
	Description() string
	Search(ctx context.Context, query string) iter.Seq[Document]
}

// SearchFunc is the fallible form of a search
type SearchFunc func(ctx context.Context, query string) ([]Document, error)

// Options configures a function-backed tool
type Options struct {
	Name        Name
	Description string
	// Label is used in error documents, e.g. "web" gives
	// "An error occurred during web search: ..."
	Label string
	// EmptyMessage, when set, is returned as a single document if the
	// search yields nothing.
	EmptyMessage string
	Search       SearchFunc
}

type funcTool struct {
	opts Options
}

// New returns a Tool backed by a SearchFunc
func New(opts Options) Tool {
	if opts.Label == "" {
		opts.Label = string(opts.Name)
	}
	return &funcTool{opts: opts}
}

// Func is shorthand for a tool with no description or empty message
func Func(name Name, fn SearchFunc) Tool {
	return New(Options{Name: name, Search: fn})
}

func (t *funcTool) Name() Name {
	return t.opts.Name
}

func (t *funcTool) Description() string {
	return t.opts.Description
}

func (t *funcTool) Search(ctx context.Context, query string) iter.Seq[Document] {
	return func(yield func(Document) bool) {
		docs, err := t.run(ctx, query)
		if err != nil {
			yield(ErrorDocument(t.opts.Label, err))
			return
		}
		if len(docs) == 0 && t.opts.EmptyMessage != "" {
			yield(Document{Content: t.opts.EmptyMessage, Source: Source{}})
			return
		}
		for _, doc := range docs {
			if doc.Source == nil {
				doc.Source = Source{}
			}
			if !yield(doc) {
				return
			}
		}
	}
}

func (t *funcTool) run(ctx context.Context, query string) (docs []Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.opts.Search(ctx, query)
}

// ErrorDocument converts a tool failure into a document
func ErrorDocument(label string, err error) Document {
	return Document{
		Content: fmt.Sprintf("An error occurred during %s search: %v", label, err),
		Source:  Source{},
	}
}

// IsErrorContent reports whether a finding was produced by a failed lookup
// rather than by a real result
func IsErrorContent(content string) bool {
	return strings.HasPrefix(content, "An error occurred during ") ||
		strings.HasPrefix(content, "Error: Tool '") ||
		strings.HasPrefix(content, "No results were found")
}
