package slip

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/slipscan/slipscanner/internal/recognition"
)

// PayloadVersion is the current ocrData schema version.
const PayloadVersion = 1

// OCRPayload is the recognition outcome serialized into a document's ocrData
// field. Records written by older clients omit the version field; those are
// read as version 1. Anything with unknown fields or out-of-range values is
// rejected at decode time instead of being trusted downstream.
type OCRPayload struct {
	Version    int                    `json:"version,omitempty" validate:"gte=0,lte=1"`
	IsValid    bool                   `json:"isValid"`
	Confidence int                    `json:"confidence" validate:"gte=0,lte=100"`
	RawText    string                 `json:"rawText"`
	Vendor     string                 `json:"vendor"`
	Date       *string                `json:"date"`
	Amount     *string                `json:"amount"`
	Items      []recognition.LineItem `json:"items"`
}

// ErrMalformedPayload reports an ocrData blob that fails schema checks.
var ErrMalformedPayload = errors.New("malformed ocr payload")

var payloadValidate = validator.New()

// EncodePayload serializes a recognition result for storage.
func EncodePayload(result *recognition.Result) (string, error) {
	payload := OCRPayload{
		Version:    PayloadVersion,
		IsValid:    result.IsValid,
		Confidence: result.Confidence,
		RawText:    result.RawText,
		Vendor:     result.Vendor,
		Date:       result.Date,
		Amount:     result.Amount,
		Items:      result.Items,
	}
	if payload.Items == nil {
		payload.Items = []recognition.LineItem{}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling ocr payload: %w", err)
	}
	return string(data), nil
}

// DecodePayload deserializes a stored ocrData blob, rejecting unknown shapes.
func DecodePayload(data string) (*OCRPayload, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.DisallowUnknownFields()

	var payload OCRPayload
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if payload.Version == 0 {
		payload.Version = PayloadVersion
	}
	if err := payloadValidate.Struct(payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if payload.Items == nil {
		payload.Items = []recognition.LineItem{}
	}
	return &payload, nil
}
