// Package firestore provides a replica.Store backed by Firestore documents
// using realtime listeners.
package firestore

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/zoobzio/replica"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	// DefaultCollection holds one document per record key.
	DefaultCollection = "replica"

	// DefaultField is the document field carrying the encoded record.
	DefaultField = "data"
)

// retryDelay is the pause before reopening a failed listener.
const retryDelay = time.Second

// Store keeps each record in the document collection/key.
type Store struct {
	client     *firestore.Client
	collection string
	field      string
}

// Option configures a Store.
type Option func(*Store)

// WithCollection sets the collection.
func WithCollection(collection string) Option {
	return func(s *Store) {
		s.collection = collection
	}
}

// WithField sets the field holding the record.
func WithField(field string) Option {
	return func(s *Store) {
		s.field = field
	}
}

// New creates a Store on client.
func New(client *firestore.Client, opts ...Option) *Store {
	s := &Store{
		client:     client,
		collection: DefaultCollection,
		field:      DefaultField,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) doc(key string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(key)
}

// Get implements replica.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	snap, err := s.doc(key).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, replica.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("firestore get %s/%s: %w", s.collection, key, err)
	}
	value := s.extract(snap)
	if value == nil {
		return nil, replica.ErrNotFound
	}
	return value, nil
}

// Set implements replica.Store. Other fields of the document are kept.
func (s *Store) Set(ctx context.Context, key string, data []byte) error {
	_, err := s.doc(key).Set(ctx, map[string]interface{}{s.field: data}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("firestore set %s/%s: %w", s.collection, key, err)
	}
	return nil
}

// Watch implements replica.Store. The current value is emitted first when
// the document exists. Snapshots that leave the field unchanged are not
// emitted.
func (s *Store) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	docRef := s.doc(key)
	out := make(chan []byte)

	go func() {
		defer close(out)

		var last []byte
		for {
			err := s.listen(ctx, docRef, &last, out)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				select {
				case <-time.After(retryDelay):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (s *Store) listen(ctx context.Context, docRef *firestore.DocumentRef, last *[]byte, out chan<- []byte) error {
	snapshots := docRef.Snapshots(ctx)
	defer snapshots.Stop()

	for {
		snap, err := snapshots.Next()
		if err != nil {
			return err
		}
		if !snap.Exists() {
			continue
		}

		value := s.extract(snap)
		if value == nil || (*last != nil && bytes.Equal(*last, value)) {
			continue
		}
		*last = value

		select {
		case out <- value:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// extract reads the record field as bytes. String fields written by other
// tools are accepted too.
func (s *Store) extract(snap *firestore.DocumentSnapshot) []byte {
	switch v := snap.Data()[s.field].(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	}
	return nil
}

// Ensure Store implements replica.Store.
var _ replica.Store = (*Store)(nil)
