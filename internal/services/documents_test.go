package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDocs() []Document {
	return []Document{
		{ID: "d1", Title: "France", Content: "Paris is the capital of France.", Tags: []string{"geography"}},
		{ID: "d2", Title: "Germany", Content: "Berlin is the capital of Germany.", Tags: []string{"geography"}},
		{ID: "d3", Title: "Release notes", Content: "Version 2 adds streaming."},
	}
}

func TestKeywordRetriever_Ranks(t *testing.T) {
	r := NewKeywordRetriever(testDocs(), 1)

	out, err := r.Retrieve(context.Background(), "What is the capital of France?")
	require.NoError(t, err)
	assert.Contains(t, out, "Paris")
	assert.NotContains(t, out, "Berlin")
}

func TestKeywordRetriever_NoMatch(t *testing.T) {
	r := NewKeywordRetriever(testDocs(), 3)

	out, err := r.Retrieve(context.Background(), "quantum chromodynamics")
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = r.Retrieve(context.Background(), "   ")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestLoadDocuments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.yaml")
	content := `
- id: d1
  title: France
  content: Paris is the capital of France.
  tags: [geography]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	docs, err := LoadDocuments(path)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "France", docs[0].Title)

	_, err = LoadDocuments(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaults(t *testing.T) {
	out, err := NoopRetriever{}.Retrieve(context.Background(), "anything")
	assert.NoError(t, err)
	assert.Empty(t, out)

	_, err = UnavailableTranscriber{}.Transcribe(context.Background(), "a.wav")
	assert.ErrorIs(t, err, ErrUnavailable)
}
