package recognition

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
)

// Tesseract implements the Engine interface using a local Tesseract install
// via gosseract. It needs no network or API key, at the cost of noisier text
// on low-quality captures. The validator downstream is what keeps the noise
// from turning into bad records.
type Tesseract struct {
	language string
}

// NewTesseract creates a new Tesseract Engine instance
func NewTesseract(language string) (*Tesseract, error) {
	if language == "" {
		language = "eng"
	}
	return &Tesseract{language: language}, nil
}

// preprocess converts to grayscale and upscales small captures so Tesseract
// has enough pixel density to work with.
func preprocess(pngData []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(pngData))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	gray := imaging.Grayscale(img)
	if gray.Bounds().Dy() < 800 {
		gray = imaging.Resize(gray, 0, 1200, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, gray, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encoding image: %w", err)
	}
	return buf.Bytes(), nil
}

// Recognize runs local OCR over a slip image
func (t *Tesseract) Recognize(ctx context.Context, imageData []byte, contentType string) (*Transcript, error) {
	pngData, err := normalizeImage(imageData, contentType)
	if err != nil {
		return nil, err
	}
	pngData, err = preprocess(pngData)
	if err != nil {
		return nil, err
	}

	// gosseract reads from a file path
	tmpFile, err := os.CreateTemp("", "slipscan-*.png")
	if err != nil {
		return nil, fmt.Errorf("creating temp image: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)
	if _, err := tmpFile.Write(pngData); err != nil {
		tmpFile.Close()
		return nil, fmt.Errorf("writing temp image: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return nil, fmt.Errorf("closing temp image: %w", err)
	}

	// gosseract has no context support, so run it in a goroutine and let the
	// caller's deadline abandon a stuck recognition.
	type ocrResult struct {
		text string
		err  error
	}
	resultCh := make(chan ocrResult, 1)
	go func() {
		client := gosseract.NewClient()
		defer client.Close()
		if err := client.SetLanguage(t.language); err != nil {
			resultCh <- ocrResult{err: fmt.Errorf("setting language: %w", err)}
			return
		}
		if err := client.SetImage(tmpPath); err != nil {
			resultCh <- ocrResult{err: fmt.Errorf("setting image: %w", err)}
			return
		}
		text, err := client.Text()
		resultCh <- ocrResult{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultCh:
		if res.err != nil {
			return nil, fmt.Errorf("running tesseract: %w", res.err)
		}
		// No structured line items from plain OCR; the review screen shows
		// the raw text instead.
		return &Transcript{Text: res.text}, nil
	}
}

// Close closes the engine (no persistent resources for Tesseract)
func (t *Tesseract) Close() error {
	return nil
}
