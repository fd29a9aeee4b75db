package tools

import (
	"context"
	"iter"

	"golang.org/x/time/rate"
)

type rateLimited struct {
	Tool
	limiter *rate.Limiter
}

// RateLimited wraps a tool so searches wait on the limiter. A search whose
// context ends while waiting yields an error document.
func RateLimited(tool Tool, limiter *rate.Limiter) Tool {
	if limiter == nil {
		return tool
	}
	return &rateLimited{Tool: tool, limiter: limiter}
}

func (t *rateLimited) Search(ctx context.Context, query string) iter.Seq[Document] {
	return func(yield func(Document) bool) {
		if err := t.limiter.Wait(ctx); err != nil {
			yield(ErrorDocument(string(t.Name()), err))
			return
		}
		for doc := range t.Tool.Search(ctx, query) {
			if !yield(doc) {
				return
			}
		}
	}
}

// Observer is notified after each search with the number of documents
// produced
type Observer func(name Name, docs int)

type observed struct {
	Tool
	observe Observer
}

// Observed wraps a tool so every completed search is reported
func Observed(tool Tool, observe Observer) Tool {
	if observe == nil {
		return tool
	}
	return &observed{Tool: tool, observe: observe}
}

func (t *observed) Search(ctx context.Context, query string) iter.Seq[Document] {
	return func(yield func(Document) bool) {
		count := 0
		defer func() { t.observe(t.Name(), count) }()
		for doc := range t.Tool.Search(ctx, query) {
			count++
			if !yield(doc) {
				return
			}
		}
	}
}
