package slip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

const (
	documentBucketName  = "documents"
	hashIndexBucketName = "documents_by_hash"
	categoryBucketName  = "categories"
	budgetBucketName    = "budgets"
)

var (
	// ErrNotFound means the requested record does not exist in the store.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateHash means a create would claim a fingerprint that
	// another document already owns. The hash index makes create-if-absent
	// atomic, so two sessions racing on the same fingerprint cannot both
	// insert.
	ErrDuplicateHash = errors.New("fingerprint already claimed by another document")
)

// DocumentStore is the document database the pipeline files slips into. It
// exposes the three logical collections the mobile app uses: documents,
// categories, and budgets.
type DocumentStore interface {
	// CreateDocument inserts a document under its preassigned id.
	// Re-creating the same id is an overwrite, which makes a retried
	// create after a lost response safe.
	CreateDocument(ctx context.Context, doc *Document) error

	// UpdateDocument replaces an existing document in place
	UpdateDocument(ctx context.Context, doc *Document) error

	// GetDocument retrieves a document by id
	GetDocument(ctx context.Context, id string) (*Document, error)

	// FindDocumentByHash retrieves the document claiming an image fingerprint
	FindDocumentByHash(ctx context.Context, hash string) (*Document, error)

	// ListDocuments returns all documents
	ListDocuments(ctx context.Context) ([]*Document, error)

	// ListCategories returns the category lookup set
	ListCategories(ctx context.Context) ([]Category, error)

	// ListBudgets returns the budget lookup set
	ListBudgets(ctx context.Context) ([]Budget, error)

	// SeedLookups fills empty category/budget collections and returns the
	// stored sets
	SeedLookups(ctx context.Context, categories []Category, budgets []Budget) ([]Category, []Budget, error)

	// Close closes the store
	Close() error
}

// BoltStore implements DocumentStore using BoltDB
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens (or creates) a BoltDB-backed document store
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{documentBucketName, hashIndexBucketName, categoryBucketName, budgetBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func putDocument(tx *bbolt.Tx, doc *Document) error {
	bucket := tx.Bucket([]byte(documentBucketName))
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling document: %w", err)
	}
	return bucket.Put([]byte(doc.ID), data)
}

// CreateDocument inserts a document, claiming its fingerprint in the hash
// index within the same transaction
func (b *BoltStore) CreateDocument(ctx context.Context, doc *Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		index := tx.Bucket([]byte(hashIndexBucketName))
		if owner := index.Get([]byte(doc.ImageHash)); owner != nil && string(owner) != doc.ID {
			return ErrDuplicateHash
		}
		if err := putDocument(tx, doc); err != nil {
			return err
		}
		return index.Put([]byte(doc.ImageHash), []byte(doc.ID))
	})
}

// UpdateDocument replaces an existing document, moving its hash index entry
// if the fingerprint changed
func (b *BoltStore) UpdateDocument(ctx context.Context, doc *Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(documentBucketName))
		existing := bucket.Get([]byte(doc.ID))
		if existing == nil {
			return ErrNotFound
		}
		var prev Document
		if err := json.Unmarshal(existing, &prev); err != nil {
			return fmt.Errorf("unmarshaling document: %w", err)
		}
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = prev.CreatedAt
		}

		index := tx.Bucket([]byte(hashIndexBucketName))
		if prev.ImageHash != doc.ImageHash {
			if owner := index.Get([]byte(doc.ImageHash)); owner != nil && string(owner) != doc.ID {
				return ErrDuplicateHash
			}
			if err := index.Delete([]byte(prev.ImageHash)); err != nil {
				return err
			}
			if err := index.Put([]byte(doc.ImageHash), []byte(doc.ID)); err != nil {
				return err
			}
		}
		return putDocument(tx, doc)
	})
}

// GetDocument retrieves a document by id
func (b *BoltStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var doc *Document
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(documentBucketName)).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &doc)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// FindDocumentByHash looks up the document that claimed a fingerprint
func (b *BoltStore) FindDocumentByHash(ctx context.Context, hash string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var doc *Document
	err := b.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket([]byte(hashIndexBucketName)).Get([]byte(hash))
		if id == nil {
			return ErrNotFound
		}
		data := tx.Bucket([]byte(documentBucketName)).Get(id)
		if data == nil {
			// stale index entry, treat as absent
			return ErrNotFound
		}
		return json.Unmarshal(data, &doc)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ListDocuments returns all documents
func (b *BoltStore) ListDocuments(ctx context.Context) ([]*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	docs := make([]*Document, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(documentBucketName)).ForEach(func(k, v []byte) error {
			var doc Document
			if err := json.Unmarshal(v, &doc); err != nil {
				return fmt.Errorf("unmarshaling document: %w", err)
			}
			docs = append(docs, &doc)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// ListCategories returns the category lookup set
func (b *BoltStore) ListCategories(ctx context.Context) ([]Category, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	categories := make([]Category, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(categoryBucketName)).ForEach(func(k, v []byte) error {
			var c Category
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("unmarshaling category: %w", err)
			}
			categories = append(categories, c)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return categories, nil
}

// ListBudgets returns the budget lookup set
func (b *BoltStore) ListBudgets(ctx context.Context) ([]Budget, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	budgets := make([]Budget, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(budgetBucketName)).ForEach(func(k, v []byte) error {
			var bg Budget
			if err := json.Unmarshal(v, &bg); err != nil {
				return fmt.Errorf("unmarshaling budget: %w", err)
			}
			budgets = append(budgets, bg)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return budgets, nil
}

// SeedLookups fills the category and budget collections when they are empty
// and returns the stored sets. A store that already has lookups is left
// untouched.
func (b *BoltStore) SeedLookups(ctx context.Context, categories []Category, budgets []Budget) ([]Category, []Budget, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	err := b.db.Update(func(tx *bbolt.Tx) error {
		catBucket := tx.Bucket([]byte(categoryBucketName))
		if catBucket.Stats().KeyN == 0 {
			for _, c := range categories {
				if c.ID == "" {
					c.ID = uuid.NewString()
				}
				data, err := json.Marshal(c)
				if err != nil {
					return fmt.Errorf("marshaling category: %w", err)
				}
				if err := catBucket.Put([]byte(c.ID), data); err != nil {
					return err
				}
			}
		}
		budgetBucket := tx.Bucket([]byte(budgetBucketName))
		if budgetBucket.Stats().KeyN == 0 {
			for _, bg := range budgets {
				if bg.ID == "" {
					bg.ID = uuid.NewString()
				}
				data, err := json.Marshal(bg)
				if err != nil {
					return fmt.Errorf("marshaling budget: %w", err)
				}
				if err := budgetBucket.Put([]byte(bg.ID), data); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	storedCategories, err := b.ListCategories(ctx)
	if err != nil {
		return nil, nil, err
	}
	storedBudgets, err := b.ListBudgets(ctx)
	if err != nil {
		return nil, nil, err
	}
	return storedCategories, storedBudgets, nil
}

// Close closes the store
func (b *BoltStore) Close() error {
	return b.db.Close()
}
