package slip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// SessionState is one node of the intake state machine.
type SessionState int

const (
	StateIdle SessionState = iota
	StateCapturing
	StateFingerprinting
	StateDuplicateCheck
	StateOCRProcessing
	StateAwaitingDuplicateResolution
	StatePersisting
	StateDone
	StateRejected
	StateFailed
)

var sessionStateNames = map[SessionState]string{
	StateIdle:                        "idle",
	StateCapturing:                   "capturing",
	StateFingerprinting:              "fingerprinting",
	StateDuplicateCheck:              "duplicate-check",
	StateOCRProcessing:               "ocr-processing",
	StateAwaitingDuplicateResolution: "awaiting-duplicate-resolution",
	StatePersisting:                  "persisting",
	StateDone:                        "done",
	StateRejected:                    "rejected",
	StateFailed:                      "failed",
}

func (s SessionState) String() string {
	if name, ok := sessionStateNames[s]; ok {
		return name
	}
	return "unknown"
}

var (
	// ErrSessionBusy means a capture was requested while one is already in
	// flight; the request is ignored rather than queued.
	ErrSessionBusy = errors.New("a capture is already in flight")

	// ErrNotAwaitingResolution means ResolveDuplicate was called outside
	// the duplicate-resolution branch
	ErrNotAwaitingResolution = errors.New("no duplicate resolution pending")

	// ErrNothingToRetry means RetryPersist was called without a retained
	// failed persistence attempt
	ErrNothingToRetry = errors.New("no failed persistence to retry")
)

// Session drives one slip from capture to a persisted document:
//
//	Idle → Capturing → Fingerprinting → DuplicateCheck →
//	{OCRProcessing | AwaitingDuplicateResolution} → Persisting →
//	Done | Rejected | Failed
//
// Steps run sequentially on the caller's goroutine; each depends on the
// previous step's output, so nothing is parallel within a session. The mutex
// only guards against a second control (a double-tapped capture button, a
// concurrent HTTP request) entering the machine mid-flight.
type Session struct {
	svc    *Service
	camera Camera

	mu          sync.Mutex
	state       SessionState
	attemptID   string // idempotency key, fixed per capture attempt
	captured    *CapturedImage
	hash        string
	result      *pipelineResult
	duplicateID string // existing document id while awaiting resolution; update target afterwards
	docID       string
	confidence  int
	retryable   bool // a failed persist may be retried without re-capture
	err         error
}

// pipelineResult keeps the OCR adapter's output alive across a persistence
// retry so the retry never re-runs capture or recognition.
type pipelineResult struct {
	payload    string
	confidence int
}

// State returns the current state
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// DocumentID returns the persisted document id once the session is Done
func (s *Session) DocumentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docID
}

// DuplicateOf returns the existing document id while the session awaits
// duplicate resolution
func (s *Session) DuplicateOf() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAwaitingDuplicateResolution {
		return ""
	}
	return s.duplicateID
}

// Confidence returns the validator's confidence for display, meaningful in
// the Rejected and Done states
func (s *Session) Confidence() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confidence
}

// ImageHash returns the capture's fingerprint
func (s *Session) ImageHash() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hash
}

// Err returns the failure that moved the session to Failed
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Capture runs the pipeline from camera capture up to either a persisted
// document, a duplicate-resolution prompt, a validation rejection, or a
// failure. Only one capture may be in flight; calls while the session is not
// Idle return ErrSessionBusy without touching the machine.
func (s *Session) Capture(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return ErrSessionBusy
	}

	s.state = StateCapturing
	image, err := s.camera.Capture(ctx)
	if err != nil {
		return s.fail(fmt.Errorf("capturing image: %w", err))
	}
	if image == nil || len(image.Data) == 0 {
		return s.fail(ErrNoImageData)
	}
	s.captured = image
	s.attemptID = s.svc.idGenerator.Generate()

	s.state = StateFingerprinting
	s.hash = s.svc.fingerprints.Fingerprint(image)

	s.state = StateDuplicateCheck
	existing, err := s.svc.store.FindDocumentByHash(ctx, s.hash)
	switch {
	case err == nil:
		s.duplicateID = existing.ID
		s.state = StateAwaitingDuplicateResolution
		slog.Info("Duplicate capture detected", "hash", s.hash, "document", existing.ID)
		return nil
	case errors.Is(err, ErrNotFound):
		return s.process(ctx)
	default:
		return s.fail(fmt.Errorf("checking for duplicates: %w", err))
	}
}

// ResolveDuplicate answers the duplicate-resolution prompt. Cancel discards
// the capture and returns the session to Idle; update proceeds through
// recognition and overwrites the existing document.
func (s *Session) ResolveDuplicate(ctx context.Context, update bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateAwaitingDuplicateResolution {
		return ErrNotAwaitingResolution
	}
	if !update {
		slog.Info("Duplicate capture cancelled", "document", s.duplicateID)
		s.reset()
		return nil
	}
	return s.process(ctx)
}

// RetryPersist re-issues a failed store write using the retained capture and
// recognition results, so a network hiccup never costs the user a rescan.
func (s *Session) RetryPersist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateFailed || !s.retryable || s.result == nil {
		return ErrNothingToRetry
	}
	s.err = nil
	return s.persist(ctx)
}

// Reset returns a terminal session to Idle so the user can capture again
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateDone, StateRejected, StateFailed:
		s.reset()
	}
}

// process runs recognition and branches on the verdict. Caller holds the lock.
func (s *Session) process(ctx context.Context) error {
	s.state = StateOCRProcessing
	result, err := s.svc.processor.Process(ctx, s.captured.Data, s.captured.ContentType)
	if err != nil {
		return s.fail(fmt.Errorf("processing capture: %w", err))
	}
	s.confidence = result.Confidence

	if !result.IsValid {
		s.state = StateRejected
		slog.Info("Capture rejected by validator", "confidence", result.Confidence)
		return nil
	}

	payload, err := EncodePayload(result)
	if err != nil {
		return s.fail(fmt.Errorf("encoding ocr payload: %w", err))
	}
	s.result = &pipelineResult{payload: payload, confidence: result.Confidence}

	return s.persist(ctx)
}

// persist creates or updates the document. Caller holds the lock.
func (s *Session) persist(ctx context.Context) error {
	s.state = StatePersisting
	now := s.svc.timeSource.Now()

	doc := &Document{
		ImageURI:   s.captured.URI,
		ImageHash:  s.hash,
		OCRData:    s.result.payload,
		CategoryID: s.svc.defaults.CategoryID,
		BudgetID:   s.svc.defaults.BudgetID,
		Confirmed:  false,
		FileName:   s.captured.StoredName,
		UpdatedAt:  now,
	}

	var err error
	if s.duplicateID != "" {
		doc.ID = s.duplicateID
		err = s.svc.store.UpdateDocument(ctx, doc)
	} else {
		// The attempt id doubles as the document id: a retried create
		// after a lost response overwrites itself instead of inserting a
		// second record.
		doc.ID = s.attemptID
		doc.CreatedAt = now
		err = s.svc.store.CreateDocument(ctx, doc)
	}

	if errors.Is(err, ErrDuplicateHash) {
		// Another session claimed this fingerprint between our duplicate
		// check and the write. Fold back into the resolution branch.
		if existing, findErr := s.svc.store.FindDocumentByHash(ctx, s.hash); findErr == nil {
			s.duplicateID = existing.ID
			s.state = StateAwaitingDuplicateResolution
			slog.Info("Duplicate capture detected at write", "hash", s.hash, "document", existing.ID)
			return nil
		}
		// fall through to the generic failure path
	}
	if err != nil {
		s.retryable = true
		return s.fail(fmt.Errorf("persisting document: %w", err))
	}

	s.docID = doc.ID
	s.state = StateDone
	slog.Info("Document persisted", "document", doc.ID, "hash", s.hash)
	return nil
}

// fail records a terminal failure. Caller holds the lock.
func (s *Session) fail(err error) error {
	s.state = StateFailed
	s.err = err
	slog.Error("Intake session failed", "error", err)
	return err
}

// reset clears all per-attempt state. Caller holds the lock.
func (s *Session) reset() {
	s.state = StateIdle
	s.attemptID = ""
	s.captured = nil
	s.hash = ""
	s.result = nil
	s.duplicateID = ""
	s.docID = ""
	s.confidence = 0
	s.retryable = false
	s.err = nil
}
