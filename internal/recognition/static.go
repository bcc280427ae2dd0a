package recognition

import (
	"context"
	"time"
)

// sampleText is the canonical slip used by the simulated engine.
const sampleText = "Sample Vendor\nInvoice #123\n04-10-2025\nItem 1 $49.99\nItem 2 $50.00\nTotal $99.99"

// Static is a simulated recognition engine for offline development and
// demos. It returns the same sample slip for every image, after an optional
// artificial delay that mimics real recognition latency.
type Static struct {
	delay time.Duration
}

// NewStatic creates a new Static Engine instance
func NewStatic(delay time.Duration) *Static {
	return &Static{delay: delay}
}

// Recognize returns the sample slip transcript
func (s *Static) Recognize(ctx context.Context, imageData []byte, contentType string) (*Transcript, error) {
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	return &Transcript{
		Text: sampleText,
		Items: []LineItem{
			{Name: "Item 1", Price: 49.99},
			{Name: "Item 2", Price: 50.00},
		},
	}, nil
}

// Close closes the engine (no-op)
func (s *Static) Close() error {
	return nil
}
