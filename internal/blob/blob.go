// Package blob provides content-addressed, write-once object storage for
// chunk payloads and stage outputs. Only references flow between pipeline
// stages; payloads stay here.
package blob

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
)

// Ref identifies a stored object. Refs are sha256 hex digests of the payload,
// so identical payloads share a ref and writes never collide.
type Ref string

// ErrNotFound is returned by Get when no object exists for a ref.
var ErrNotFound = errors.New("blob not found")

// Store is write-once object storage keyed by content.
type Store interface {
	Put(ctx context.Context, data []byte) (Ref, error)
	Get(ctx context.Context, ref Ref) ([]byte, error)
}

// Sum computes the ref a payload would be stored under.
func Sum(data []byte) Ref {
	h := sha256.Sum256(data)
	return Ref(fmt.Sprintf("%x", h[:]))
}
