package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FSStore is a local-filesystem-backed Store. Bytes are written
// stage-and-rename: a temp file in the tenant's .staging directory is
// written and fsynced, then renamed into its content-addressed path under
// blobs/, so a concurrent reader never observes a partial artifact. Metadata lives in an in-memory index;
// production deployments would back the index with the same persistence
// layer as the Run State Store, but the interface is storage-agnostic.
type FSStore struct {
	root string

	mu       sync.RWMutex
	byID     map[string]*Artifact
	byDigest map[string]*Artifact // key: tenant/contentHash/type
}

// NewFSStore constructs an FSStore rooted at dir. The directory is created
// if it does not exist.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: create root dir: %w", err)
	}
	return &FSStore{
		root:     dir,
		byID:     make(map[string]*Artifact),
		byDigest: make(map[string]*Artifact),
	}, nil
}

func digestKey(tenantID, contentHash, typ string) string {
	return tenantID + "/" + contentHash + "/" + typ
}

// Put implements Store.
func (s *FSStore) Put(ctx context.Context, stream io.Reader, req PutRequest) (*Artifact, error) {
	if req.TenantID == "" {
		return nil, fmt.Errorf("artifact: tenant id required")
	}
	if req.Type == "" {
		return nil, fmt.Errorf("artifact: type required")
	}

	tenantDir := filepath.Join(s.root, safeSegment(req.TenantID))
	stagingDir := filepath.Join(tenantDir, ".staging")
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: mkdir staging: %w", err)
	}

	tmp, err := os.CreateTemp(stagingDir, "put-*")
	if err != nil {
		return nil, fmt.Errorf("artifact: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), readerWithContext(ctx, stream))
	if err != nil {
		tmp.Close()
		return nil, fmt.Errorf("artifact: write stream: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("artifact: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("artifact: close temp file: %w", err)
	}

	contentHash := hex.EncodeToString(hasher.Sum(nil))

	s.mu.Lock()
	if existing, ok := s.byDigest[digestKey(req.TenantID, contentHash, req.Type)]; ok {
		s.mu.Unlock()
		os.Remove(tmpPath)
		return existing, nil
	}
	s.mu.Unlock()

	blobDir := filepath.Join(tenantDir, "blobs", contentHash[:2])
	if err := os.MkdirAll(blobDir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: mkdir blob dir: %w", err)
	}
	finalPath := filepath.Join(blobDir, contentHash)

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return nil, fmt.Errorf("artifact: rename into place: %w", err)
	}

	meta := sanitizeMetadata(req.Metadata)
	meta[MetaSizeBytes] = size
	meta[MetaContentType] = req.ContentType
	meta[MetaCreatedAt] = time.Now().UTC()
	meta[MetaCreatorStepID] = req.CreatorStepID

	art := &Artifact{
		ID:            uuid.NewString(),
		TenantID:      req.TenantID,
		Type:          req.Type,
		URI:           "file://" + finalPath,
		ContentHash:   contentHash,
		SizeBytes:     size,
		Filename:      req.Filename,
		Metadata:      meta,
		RunID:         req.RunID,
		CreatorStepID: req.CreatorStepID,
		CreatedAt:     time.Now().UTC(),
	}

	s.mu.Lock()
	// Re-check for a race: another writer may have completed the same
	// (tenant, content_hash, type) between our unlock above and now.
	if existing, ok := s.byDigest[digestKey(req.TenantID, contentHash, req.Type)]; ok {
		s.mu.Unlock()
		os.Remove(finalPath)
		return existing, nil
	}
	s.byID[art.ID] = art
	s.byDigest[digestKey(req.TenantID, contentHash, req.Type)] = art
	s.mu.Unlock()

	return art, nil
}

// Get implements Store.
func (s *FSStore) Get(ctx context.Context, id string) (*Artifact, io.ReadCloser, error) {
	s.mu.RLock()
	art, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("artifact: %s not found", id)
	}

	stream, err := s.Resolve(ctx, art.URI)
	if err != nil {
		return nil, nil, err
	}
	return art, stream, nil
}

// Resolve implements Store.
func (s *FSStore) Resolve(ctx context.Context, uri string) (io.ReadCloser, error) {
	path, ok := trimFileScheme(uri)
	if !ok {
		return nil, fmt.Errorf("artifact: unsupported uri scheme: %s", uri)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("artifact: open %s: %w", path, err)
	}
	return &cancellableReadCloser{ctx: ctx, f: f}, nil
}

// Delete implements Store.
func (s *FSStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	art, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("artifact: %s not found", id)
	}
	delete(s.byID, id)
	delete(s.byDigest, digestKey(art.TenantID, art.ContentHash, art.Type))
	s.mu.Unlock()

	path, ok := trimFileScheme(art.URI)
	if !ok {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("artifact: remove blob: %w", err)
	}
	return nil
}

func trimFileScheme(uri string) (string, bool) {
	const prefix = "file://"
	if len(uri) < len(prefix) || uri[:len(prefix)] != prefix {
		return "", false
	}
	return uri[len(prefix):], true
}

func safeSegment(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "_"
	}
	return string(out)
}

// cancellableReadCloser makes a read stream cancellable via the execution
// context signal, per §4.B's "reads are cancellable" guarantee.
type cancellableReadCloser struct {
	ctx context.Context
	f   *os.File
}

func (c *cancellableReadCloser) Read(p []byte) (int, error) {
	select {
	case <-c.ctx.Done():
		return 0, c.ctx.Err()
	default:
	}
	return c.f.Read(p)
}

func (c *cancellableReadCloser) Close() error { return c.f.Close() }

// readerWithContext wraps r so that writes during Put abort promptly when
// ctx is cancelled, without requiring every call site to poll separately.
func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	select {
	case <-c.ctx.Done():
		return 0, c.ctx.Err()
	default:
	}
	return c.r.Read(p)
}
