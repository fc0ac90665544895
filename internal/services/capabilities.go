// Package services defines the external capabilities that leaf nodes call:
// document retrieval and speech transcription.
package services

import (
	"context"
	"errors"

	"eino_agent_router/pkg"
)

// ErrUnavailable is returned by capabilities that are not configured
var ErrUnavailable = errors.New("capability not configured")

// Retriever returns the document context relevant to a query as one text blob
type Retriever interface {
	Retrieve(ctx context.Context, query string) (string, error)
}

// Transcriber turns an audio file into diarized segments
type Transcriber interface {
	Transcribe(ctx context.Context, path string) ([]pkg.Segment, error)
}

// NoopRetriever always returns an empty context
type NoopRetriever struct{}

// Retrieve implements Retriever
func (NoopRetriever) Retrieve(ctx context.Context, query string) (string, error) {
	return "", nil
}

// UnavailableTranscriber fails every call with ErrUnavailable
type UnavailableTranscriber struct{}

// Transcribe implements Transcriber
func (UnavailableTranscriber) Transcribe(ctx context.Context, path string) ([]pkg.Segment, error) {
	return nil, ErrUnavailable
}
