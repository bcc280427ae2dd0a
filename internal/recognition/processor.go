package recognition

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultTimeout bounds one recognition call. Vision models routinely take
// several seconds; anything past this is treated as a failure the user can
// retry rather than a hang.
const DefaultTimeout = 60 * time.Second

// Result is the assembled outcome of recognizing one captured image: the raw
// text, the fields derived from it, the validation verdict, and any line
// items the engine supplied.
type Result struct {
	Verdict
	RawText string
	Vendor  string
	Date    *string
	Amount  *string
	Items   []LineItem
}

// Processor is the adapter between a recognition engine and the intake
// pipeline. It invokes the engine, then derives fields and a verdict from
// the raw text so every engine is interchangeable.
type Processor struct {
	engine  Engine
	timeout time.Duration
}

// NewProcessor creates a Processor with the default recognition timeout
func NewProcessor(engine Engine) *Processor {
	return NewProcessorWithTimeout(engine, DefaultTimeout)
}

// NewProcessorWithTimeout creates a Processor with a custom timeout
func NewProcessorWithTimeout(engine Engine, timeout time.Duration) *Processor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Processor{engine: engine, timeout: timeout}
}

// Process recognizes a captured image and assembles the structured result.
// A nil error means recognition ran; the caller still has to check the
// verdict before treating the capture as a receipt.
func (p *Processor) Process(ctx context.Context, imageData []byte, contentType string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	transcript, err := p.engine.Recognize(ctx, imageData, contentType)
	if err != nil {
		return nil, fmt.Errorf("recognizing image: %w", err)
	}

	result := &Result{
		Verdict: Validate(transcript.Text),
		RawText: transcript.Text,
		Vendor:  ExtractVendor(transcript.Text),
		Date:    ExtractDate(transcript.Text),
		Amount:  ExtractAmount(transcript.Text),
		Items:   transcript.Items,
	}
	if result.Items == nil {
		result.Items = []LineItem{}
	}

	slog.Info("Recognition complete",
		"confidence", result.Confidence,
		"valid", result.IsValid,
		"vendor", result.Vendor,
	)
	return result, nil
}

// Close releases the underlying engine
func (p *Processor) Close() error {
	return p.engine.Close()
}
