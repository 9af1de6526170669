package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/tendant/simple-assets/pkg/simpleassets"
)

// Backend is an in-memory implementation of the simpleassets.BlobStore
// interface. It counts calls and can inject failures for tests.
type Backend struct {
	mu           sync.RWMutex
	objects      map[string][]byte
	contentTypes map[string]string

	putCalls    int
	deleteCalls int
	putErrs     []error
	deleteErrs  []error
}

// New creates a new in-memory storage backend
func New() *Backend {
	return &Backend{
		objects:      make(map[string][]byte),
		contentTypes: make(map[string]string),
	}
}

// Put stores a copy of data under key
func (b *Backend) Put(ctx context.Context, key string, data []byte, contentType string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.putCalls++
	if err := pop(&b.putErrs); err != nil {
		return err
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	b.objects[key] = buf
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	b.contentTypes[key] = contentType
	return nil
}

// Delete deletes content
func (b *Backend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.deleteCalls++
	if err := pop(&b.deleteErrs); err != nil {
		return err
	}

	if _, exists := b.objects[key]; !exists {
		return fmt.Errorf("delete %s: %w", key, simpleassets.ErrBlobNotFound)
	}
	delete(b.objects, key)
	delete(b.contentTypes, key)
	return nil
}

// Get returns the stored bytes and content type
func (b *Backend) Get(key string) ([]byte, string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, ok := b.objects[key]
	return data, b.contentTypes[key], ok
}

// Len returns the number of stored blobs
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}

// PutCalls returns how many times Put was invoked
func (b *Backend) PutCalls() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.putCalls
}

// DeleteCalls returns how many times Delete was invoked
func (b *Backend) DeleteCalls() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.deleteCalls
}

// FailPuts makes the next len(errs) Put calls return errs in order
func (b *Backend) FailPuts(errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.putErrs = append(b.putErrs, errs...)
}

// FailDeletes makes the next len(errs) Delete calls return errs in order
func (b *Backend) FailDeletes(errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleteErrs = append(b.deleteErrs, errs...)
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}
