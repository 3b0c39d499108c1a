// Package blob holds transient in-memory byte payloads behind opaque
// handles, the server-side counterpart of a browser object URL.
package blob

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrRevoked is returned when opening a handle that was revoked or never existed
var ErrRevoked = errors.New("blob handle revoked")

// Handle identifies a registered payload
type Handle string

// Blob is a registered payload and its media type
type Blob struct {
	Data        []byte
	ContentType string
}

// Registry maps handles to payloads until they are revoked
type Registry struct {
	mu    sync.RWMutex
	blobs map[Handle]Blob
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{blobs: make(map[Handle]Blob)}
}

// Create registers data and returns a fresh handle for it
func (r *Registry) Create(data []byte, contentType string) Handle {
	h := Handle(uuid.NewString())

	r.mu.Lock()
	r.blobs[h] = Blob{Data: data, ContentType: contentType}
	r.mu.Unlock()
	return h
}

// Open returns the payload behind h
func (r *Registry) Open(h Handle) (Blob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.blobs[h]
	if !ok {
		return Blob{}, ErrRevoked
	}
	return b, nil
}

// Revoke releases h. Revoking an unknown handle is a no-op.
func (r *Registry) Revoke(h Handle) {
	r.mu.Lock()
	delete(r.blobs, h)
	r.mu.Unlock()
}

// Len returns the number of live handles
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.blobs)
}
