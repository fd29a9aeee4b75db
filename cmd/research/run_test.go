package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/deepnoodle-ai/research"
	"github.com/stretchr/testify/require"
)

func TestReviewQuestions(t *testing.T) {
	planned := []string{"What is A?", "What is B?"}

	t.Run("accept", func(t *testing.T) {
		var out bytes.Buffer
		got, err := reviewQuestions(strings.NewReader("\n"), &out, planned)
		require.NoError(t, err)
		require.Equal(t, planned, got)
		require.Contains(t, out.String(), "1. What is A?")
	})

	t.Run("edit", func(t *testing.T) {
		var out bytes.Buffer
		got, err := reviewQuestions(strings.NewReader("e\nWhat is C?\n  \n"), &out, planned)
		require.NoError(t, err)
		require.Equal(t, []string{"What is C?"}, got)
	})

	t.Run("empty edit keeps planned", func(t *testing.T) {
		var out bytes.Buffer
		got, err := reviewQuestions(strings.NewReader("e\n\n"), &out, planned)
		require.NoError(t, err)
		require.Equal(t, planned, got)
	})

	t.Run("eof accepts", func(t *testing.T) {
		var out bytes.Buffer
		got, err := reviewQuestions(strings.NewReader(""), &out, planned)
		require.NoError(t, err)
		require.Equal(t, planned, got)
	})
}

func TestReportMarkdown(t *testing.T) {
	md := reportMarkdown(&research.Report{
		OriginalQuery: "solar panels",
		Summary:       "They work.",
		Citations:     []research.Citation{{Source: "http://a"}, {Source: "http://b"}},
	})
	require.Equal(t, "# solar panels\n\nThey work.\n\n## Sources\n\n1. http://a\n2. http://b\n", md)
}

func TestTruncateQuery(t *testing.T) {
	require.Equal(t, "short", truncateQuery("short", 10))
	require.Equal(t, "abcdefg...", truncateQuery("abcdefghijklmnop", 10))
}
