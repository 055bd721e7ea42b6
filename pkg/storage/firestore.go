package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreBackend implements Backend using Google Cloud Firestore.
// Each record is a document in a single collection; the document ID is the
// joined key path and a separate "path" field supports prefix queries.
//
// Notes:
//   - Document IDs cannot contain "/", so segments are joined with "|"
//     (validatePath rejects "|" inside segments).
//   - Update uses a Firestore transaction, so unlike the file and Redis
//     backends it is atomic across processes.
type FirestoreBackend struct {
	client     *firestore.Client
	collection string
	mu         sync.RWMutex
	closed     bool
}

// FirestoreConfig holds Firestore connection configuration.
type FirestoreConfig struct {
	// ProjectID is the GCP project ID (required).
	ProjectID string `yaml:"project_id"`
	// CredentialsFile is a service account credentials path (optional,
	// Application Default Credentials are used when empty).
	CredentialsFile string `yaml:"credentials_file"`
	// Collection is the root collection name (default: "snowcode").
	Collection string `yaml:"collection"`
}

type firestoreRecord struct {
	Path string `firestore:"path"`
	Data []byte `firestore:"data"`
}

// NewFirestoreBackend creates a new Firestore storage backend.
func NewFirestoreBackend(ctx context.Context, cfg FirestoreConfig) (*FirestoreBackend, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project ID is required")
	}

	collection := cfg.Collection
	if collection == "" {
		collection = "snowcode"
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}

	return &FirestoreBackend{
		client:     client,
		collection: collection,
	}, nil
}

func (b *FirestoreBackend) doc(path []string) *firestore.DocumentRef {
	return b.client.Collection(b.collection).Doc(strings.Join(path, "|"))
}

func (b *FirestoreBackend) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Read retrieves the raw record at path.
func (b *FirestoreBackend) Read(ctx context.Context, path []string) ([]byte, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	if err := validatePath(path); err != nil {
		return nil, err
	}

	snap, err := b.doc(path).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get document: %w", err)
	}

	var rec firestoreRecord
	if err := snap.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return rec.Data, nil
}

// Write creates or replaces the record at path.
func (b *FirestoreBackend) Write(ctx context.Context, path []string, data []byte) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if err := validatePath(path); err != nil {
		return err
	}

	rec := firestoreRecord{
		Path: strings.Join(path, "/"),
		Data: data,
	}
	if _, err := b.doc(path).Set(ctx, rec); err != nil {
		return fmt.Errorf("set document: %w", err)
	}
	return nil
}

// Remove deletes the record at path.
func (b *FirestoreBackend) Remove(ctx context.Context, path []string) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if err := validatePath(path); err != nil {
		return err
	}

	if _, err := b.doc(path).Delete(ctx); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// List returns the key paths of all records under prefix using a range
// query on the "path" field.
func (b *FirestoreBackend) List(ctx context.Context, prefix []string) ([][]string, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	if err := validatePath(prefix); err != nil {
		return nil, err
	}

	low := strings.Join(prefix, "/") + "/"
	high := low + "￿"

	iter := b.client.Collection(b.collection).
		Where("path", ">=", low).
		Where("path", "<", high).
		Documents(ctx)
	defer iter.Stop()

	var paths [][]string
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate documents: %w", err)
		}

		var rec firestoreRecord
		if err := snap.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		paths = append(paths, strings.Split(rec.Path, "/"))
	}
	return paths, nil
}

// Update applies fn to the record at path inside a Firestore transaction.
func (b *FirestoreBackend) Update(ctx context.Context, path []string, fn func(data []byte) ([]byte, error)) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	if err := validatePath(path); err != nil {
		return err
	}

	doc := b.doc(path)
	return b.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(doc)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return ErrNotFound
			}
			return fmt.Errorf("get document: %w", err)
		}

		var rec firestoreRecord
		if err := snap.DataTo(&rec); err != nil {
			return fmt.Errorf("decode document: %w", err)
		}

		updated, err := fn(rec.Data)
		if err != nil {
			return err
		}
		rec.Data = updated
		return tx.Set(doc, rec)
	})
}

// Close releases resources held by the backend.
func (b *FirestoreBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.client.Close()
}
