// Package blobstore stores binary objects such as consent signatures, expense
// receipts and rendered invoice PDFs. Keys are namespaced per organization.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
)

var (
	ErrBlobNotFound       = apperr.New(apperr.ErrNotFound, "blob not found")
	ErrFileTooLarge       = apperr.New(apperr.ErrValidation, "file exceeds maximum allowed size")
	ErrInvalidContentType = apperr.New(apperr.ErrValidation, "content type is not allowed")
)

const MaxFileSize = 20 * 1024 * 1024

var AllowedContentTypes = map[string]bool{
	"image/png":       true,
	"image/jpeg":      true,
	"image/webp":      true,
	"application/pdf": true,
	"text/csv":        true,
	"application/zip": true,
}

type Object struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	SHA256      string    `json:"sha256"`
	CreatedAt   time.Time `json:"created_at"`
}

type Store interface {
	Put(ctx context.Context, key, contentType string, content io.Reader) (*Object, error)
	Get(ctx context.Context, key string) (io.ReadCloser, *Object, error)
	Delete(ctx context.Context, key string) error
	// URL returns a time-limited download link.
	URL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Key builds "<org>/<kind>/<uuid><ext>".
func Key(orgID uuid.UUID, kind, ext string) string {
	return path.Join(orgID.String(), kind, uuid.NewString()+ext)
}

// readLimited reads content and enforces the size and type limits shared by
// every backend.
func readLimited(contentType string, content io.Reader) ([]byte, string, error) {
	if !AllowedContentTypes[contentType] {
		return nil, "", ErrInvalidContentType
	}
	data, err := io.ReadAll(io.LimitReader(content, MaxFileSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > MaxFileSize {
		return nil, "", ErrFileTooLarge
	}
	sum := sha256.Sum256(data)
	return data, hex.EncodeToString(sum[:]), nil
}

type storedBlob struct {
	object Object
	data   []byte
}

// MemoryStore keeps blobs in process memory. Used in development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	blobs   map[string]*storedBlob
	baseURL string
}

func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{blobs: make(map[string]*storedBlob), baseURL: baseURL}
}

func (s *MemoryStore) Put(_ context.Context, key, contentType string, content io.Reader) (*Object, error) {
	data, sum, err := readLimited(contentType, content)
	if err != nil {
		return nil, err
	}
	obj := Object{Key: key, ContentType: contentType, Size: int64(len(data)), SHA256: sum, CreatedAt: time.Now().UTC()}

	s.mu.Lock()
	s.blobs[key] = &storedBlob{object: obj, data: data}
	s.mu.Unlock()

	return &obj, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (io.ReadCloser, *Object, error) {
	s.mu.RLock()
	b, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrBlobNotFound
	}
	obj := b.object
	return io.NopCloser(bytes.NewReader(b.data)), &obj, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[key]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, key)
	return nil
}

func (s *MemoryStore) URL(_ context.Context, key string, _ time.Duration) (string, error) {
	s.mu.RLock()
	_, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return "", ErrBlobNotFound
	}
	return s.baseURL + "/blobs/" + key, nil
}

// Len reports how many blobs are stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
