// Package artifact implements the content-addressed Artifact Store (§4.B):
// typed, immutable byte blobs produced by skill handlers, deduplicated by
// (tenant, content_hash, type), written atomically, and resolvable by URI.
package artifact

import (
	"context"
	"io"
	"time"
)

// Reserved metadata keys the store itself fills; callers must not override
// them via Metadata.
const (
	MetaSizeBytes     = "size_bytes"
	MetaContentType   = "content_type"
	MetaCreatedAt     = "created_at"
	MetaCreatorStepID = "creator_step_id"
)

var reservedMetaKeys = map[string]struct{}{
	MetaSizeBytes:     {},
	MetaContentType:   {},
	MetaCreatedAt:     {},
	MetaCreatorStepID: {},
}

// Artifact is a typed, content-addressed output persisted by the store.
type Artifact struct {
	ID          string         `json:"id" bson:"_id"`
	TenantID    string         `json:"tenant_id" bson:"tenant_id"`
	Type        string         `json:"type" bson:"type"`
	URI         string         `json:"uri" bson:"uri"`
	ContentHash string         `json:"content_hash" bson:"content_hash"`
	SizeBytes   int64          `json:"size_bytes" bson:"size_bytes"`
	Filename    string         `json:"filename,omitempty" bson:"filename,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
	RunID       string         `json:"run_id" bson:"run_id"`
	CreatorStepID string       `json:"creator_step_id" bson:"creator_step_id"`
	CreatedAt   time.Time      `json:"created_at" bson:"created_at"`
}

// PutRequest describes a new artifact write.
type PutRequest struct {
	TenantID      string
	RunID         string
	CreatorStepID string
	Type          string
	ContentType   string
	Filename      string
	Metadata      map[string]any
}

// Store is the contract every artifact backend (local filesystem, blob
// storage) satisfies.
type Store interface {
	// Put writes stream's bytes under content-addressed storage for the
	// request's tenant and returns the resulting Artifact row. If bytes
	// already exist for (tenant, content_hash, type), the existing row
	// is returned and no bytes are rewritten.
	Put(ctx context.Context, stream io.Reader, req PutRequest) (*Artifact, error)
	// Get retrieves an artifact's metadata and a readable stream of its
	// bytes by id. The caller must close the returned stream.
	Get(ctx context.Context, id string) (*Artifact, io.ReadCloser, error)
	// Resolve opens a readable stream for an artifact URI directly,
	// without a metadata lookup.
	Resolve(ctx context.Context, uri string) (io.ReadCloser, error)
	// Delete removes an artifact's bytes and metadata row. Callers are
	// responsible for invalidating any Step Cache entries that
	// reference it first (§3 ownership rules).
	Delete(ctx context.Context, id string) error
}

// sanitizeMetadata strips any caller-supplied reserved key so the store's
// own values always win.
func sanitizeMetadata(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if _, reserved := reservedMetaKeys[k]; reserved {
			continue
		}
		out[k] = v
	}
	return out
}
