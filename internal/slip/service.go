package slip

import (
	"time"

	"github.com/google/uuid"

	"github.com/slipscan/slipscanner/internal/recognition"
)

// IDGenerator generates unique ids for documents and capture attempts
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// uuidGenerator issues v4 ids. The same generator covers both document ids
// and the per-attempt idempotency key, mirroring the hosted store's
// client-generated unique ids.
type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Defaults are the category and budget assigned to freshly captured
// documents before the user files them during review.
type Defaults struct {
	CategoryID string
	BudgetID   string
}

// Service owns the collaborators shared by all intake and review sessions.
type Service struct {
	store        DocumentStore
	processor    *recognition.Processor
	fingerprints *Fingerprinter
	storage      Storage
	defaults     Defaults
	idGenerator  IDGenerator
	timeSource   TimeSource
}

// NewService creates a Service with the default id generator and time source
func NewService(store DocumentStore, processor *recognition.Processor, fingerprints *Fingerprinter, storage Storage, defaults Defaults) *Service {
	return NewServiceWithDeps(store, processor, fingerprints, storage, defaults, uuidGenerator{}, defaultTimeSource{})
}

// NewServiceWithDeps creates a Service with custom dependencies for testing
func NewServiceWithDeps(store DocumentStore, processor *recognition.Processor, fingerprints *Fingerprinter, storage Storage, defaults Defaults, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		store:        store,
		processor:    processor,
		fingerprints: fingerprints,
		storage:      storage,
		defaults:     defaults,
		idGenerator:  idGen,
		timeSource:   timeSrc,
	}
}

// NewSession starts an intake session for one capture attempt
func (s *Service) NewSession(camera Camera) *Session {
	return &Session{
		svc:    s,
		camera: camera,
		state:  StateIdle,
	}
}

// NewReview starts a review session
func (s *Service) NewReview() *Review {
	return &Review{svc: s}
}

// Store exposes the document store for read-only surfaces (listing, lookups)
func (s *Service) Store() DocumentStore {
	return s.store
}

// Storage exposes the capture storage, nil when the server keeps no copies
func (s *Service) Storage() Storage {
	return s.storage
}
