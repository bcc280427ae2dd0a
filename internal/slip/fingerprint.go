package slip

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashMode selects what the image fingerprint is computed over.
type HashMode int

const (
	// HashURI digests the image reference string. This is what the mobile
	// client shipped with: byte-identical images at different paths get
	// different fingerprints, and a reused path collides regardless of
	// content. Kept as the default so fingerprints stay compatible with
	// records written by that client.
	HashURI HashMode = iota

	// HashContent digests the captured bytes, so the fingerprint follows
	// the image rather than its location.
	HashContent
)

// Fingerprinter computes the dedup key for a captured image. The digest is
// deterministic and stable across restarts and devices; even an empty
// reference hashes to something.
type Fingerprinter struct {
	mode HashMode
}

// NewFingerprinter creates a Fingerprinter with the given mode
func NewFingerprinter(mode HashMode) *Fingerprinter {
	return &Fingerprinter{mode: mode}
}

// Fingerprint returns a fixed-length hex digest for the capture
func (f *Fingerprinter) Fingerprint(image *CapturedImage) string {
	var sum [sha256.Size]byte
	if f.mode == HashContent && len(image.Data) > 0 {
		sum = sha256.Sum256(image.Data)
	} else {
		sum = sha256.Sum256([]byte(image.URI))
	}
	return hex.EncodeToString(sum[:])
}
