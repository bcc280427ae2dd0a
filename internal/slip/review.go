package slip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ReviewState is one node of the review state machine.
type ReviewState int

const (
	ReviewLoading ReviewState = iota
	ReviewReady
	ReviewLoadError
)

var (
	// ErrReviewNotReady means a selection or confirm was attempted before
	// the record loaded
	ErrReviewNotReady = errors.New("review session is not ready")

	// ErrSelectionRequired means confirm was pressed without both a
	// category and a budget chosen. Local validation only; no state
	// transition and no store call.
	ErrSelectionRequired = errors.New("category and budget are required")

	// ErrUnknownCategory means the chosen category is not in the fetched
	// lookup set
	ErrUnknownCategory = errors.New("unknown category")

	// ErrUnknownBudget means the chosen budget is not in the fetched
	// lookup set
	ErrUnknownBudget = errors.New("unknown budget")
)

// Review is one load-correct-confirm pass over a pending document. The
// lookup sets are fetched once per session and treated as immutable; every
// session re-fetches the document from the store rather than trusting a
// cached copy.
type Review struct {
	svc *Service

	mu         sync.Mutex
	state      ReviewState
	document   *Document
	payload    *OCRPayload
	categories []Category
	budgets    []Budget
	categoryID string
	budgetID   string
	loadErr    error
}

// State returns the current state
func (r *Review) State() ReviewState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err returns what moved the session to LoadError
func (r *Review) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadErr
}

// Document returns the loaded record
func (r *Review) Document() *Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.document
}

// Payload returns the decoded recognition outcome
func (r *Review) Payload() *OCRPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.payload
}

// Categories returns the category lookup set for selection
func (r *Review) Categories() []Category {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.categories
}

// Budgets returns the budget lookup set for selection
func (r *Review) Budgets() []Budget {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.budgets
}

// Load fetches the document, decodes its recognition payload, and fetches
// the lookup sets. Any failure lands in LoadError; Load may be called again
// to retry.
func (r *Review) Load(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state = ReviewLoading
	r.loadErr = nil

	doc, err := r.svc.store.GetDocument(ctx, id)
	if err != nil {
		return r.loadFailed(fmt.Errorf("loading document: %w", err))
	}

	payload, err := DecodePayload(doc.OCRData)
	if err != nil {
		// Malformed stored data is terminal for this record's review; the
		// caller routes the user back to capture.
		return r.loadFailed(fmt.Errorf("invalid receipt data: %w", err))
	}

	categories, err := r.svc.store.ListCategories(ctx)
	if err != nil {
		return r.loadFailed(fmt.Errorf("loading categories: %w", err))
	}
	budgets, err := r.svc.store.ListBudgets(ctx)
	if err != nil {
		return r.loadFailed(fmt.Errorf("loading budgets: %w", err))
	}

	r.document = doc
	r.payload = payload
	r.categories = categories
	r.budgets = budgets
	r.categoryID = doc.CategoryID
	r.budgetID = doc.BudgetID
	r.state = ReviewReady
	return nil
}

// SetCategory changes the category selection, constrained to the fetched set
func (r *Review) SetCategory(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != ReviewReady {
		return ErrReviewNotReady
	}
	for _, c := range r.categories {
		if c.ID == id {
			r.categoryID = id
			return nil
		}
	}
	return ErrUnknownCategory
}

// SetBudget changes the budget selection, constrained to the fetched set
func (r *Review) SetBudget(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != ReviewReady {
		return ErrReviewNotReady
	}
	for _, b := range r.budgets {
		if b.ID == id {
			r.budgetID = id
			return nil
		}
	}
	return ErrUnknownBudget
}

// Confirm commits the chosen category and budget and marks the document
// confirmed. Confirm is idempotent: on a store failure the session stays
// Ready and calling Confirm again re-issues the same update.
func (r *Review) Confirm(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != ReviewReady {
		return ErrReviewNotReady
	}
	if r.categoryID == "" || r.budgetID == "" {
		return ErrSelectionRequired
	}

	doc := *r.document
	doc.CategoryID = r.categoryID
	doc.BudgetID = r.budgetID
	doc.Confirmed = true
	doc.UpdatedAt = r.svc.timeSource.Now()

	if err := r.svc.store.UpdateDocument(ctx, &doc); err != nil {
		return fmt.Errorf("confirming document: %w", err)
	}

	r.document = &doc
	slog.Info("Document confirmed", "document", doc.ID, "category", doc.CategoryID, "budget", doc.BudgetID)
	return nil
}

// loadFailed records a load failure. Caller holds the lock.
func (r *Review) loadFailed(err error) error {
	r.state = ReviewLoadError
	r.loadErr = err
	slog.Error("Review load failed", "error", err)
	return err
}
