package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is one entry of a keyword retriever corpus
type Document struct {
	ID      string   `yaml:"id"`
	Title   string   `yaml:"title"`
	Content string   `yaml:"content"`
	Tags    []string `yaml:"tags"`
}

// KeywordRetriever ranks an in-memory corpus by query term overlap
type KeywordRetriever struct {
	docs  []Document
	limit int
}

// NewKeywordRetriever creates a retriever returning at most limit documents
func NewKeywordRetriever(docs []Document, limit int) *KeywordRetriever {
	if limit <= 0 {
		limit = 3
	}
	return &KeywordRetriever{docs: docs, limit: limit}
}

// LoadDocuments reads a YAML list of documents
func LoadDocuments(path string) ([]Document, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("error reading documents file: %w", err)
	}

	var docs []Document
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("error parsing documents YAML: %w", err)
	}
	return docs, nil
}

type scoredDocument struct {
	doc   Document
	score int
}

// Retrieve implements Retriever. Documents matching no query term are skipped.
func (r *KeywordRetriever) Retrieve(ctx context.Context, query string) (string, error) {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return "", nil
	}

	var results []scoredDocument
	for _, doc := range r.docs {
		haystack := strings.ToLower(doc.Title + " " + doc.Content + " " + strings.Join(doc.Tags, " "))
		score := 0
		for _, term := range terms {
			term = strings.Trim(term, "?!.,;:\"'")
			if len(term) < 3 {
				continue
			}
			if strings.Contains(haystack, term) {
				score++
			}
		}
		if score > 0 {
			results = append(results, scoredDocument{doc: doc, score: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})

	var b strings.Builder
	for i, res := range results {
		if i >= r.limit {
			break
		}
		fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i+1, res.doc.Title, strings.TrimSpace(res.doc.Content))
	}
	return strings.TrimSpace(b.String()), nil
}
