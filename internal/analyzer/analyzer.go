// Package analyzer wraps the external vision model behind a small interface.
package analyzer

import (
	"context"
	"encoding/json"
)

// Request carries everything the vision model needs for one analysis
type Request struct {
	ImageURL      string
	Questionnaire json.RawMessage
	Region        string
	// Premium requests a longer, more detailed response.
	Premium bool
}

// Analyzer produces a structured result payload for an uploaded image
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (json.RawMessage, error)
}
