package recognition

import "context"

// LineItem is a single purchased item read off a slip.
type LineItem struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// Transcript is the raw output of a recognition engine for one image.
// Items is optional; engines that only produce text leave it nil.
type Transcript struct {
	Text  string
	Items []LineItem
}

// Engine converts a captured image into raw text. Implementations must be
// safe to call from a single intake session at a time and should honor
// context cancellation.
type Engine interface {
	// Recognize reads all text in an image or PDF
	Recognize(ctx context.Context, imageData []byte, contentType string) (*Transcript, error)
	// Close closes the engine and releases resources
	Close() error
}
