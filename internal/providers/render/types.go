// Package render defines the contract between the scheduler and the
// external generation providers. Providers have unbounded, variable
// latency and fail both transiently and permanently; the scheduler
// treats every failure the same way, so the contract stays small.
package render

import "context"

// Request is the normalized spec handed to a provider.
type Request struct {
	JobID       string
	OwnerID     string
	Prompt      string
	AspectRatio string
	Provider    string
}

// Result is what a successful generation yields. Data/ThumbData carry
// the raw bytes when the provider returns them inline; URLs are set
// once the bytes have been persisted.
type Result struct {
	AssetURL  string
	ThumbURL  string
	MIME      string
	Data      []byte
	ThumbData []byte
}

// Generator is the contract implemented by all generation providers.
type Generator interface {
	Generate(ctx context.Context, req Request) (Result, error)
}
