package testutil

import (
	"bytes"
	"context"
	"image"
	"image/png"

	"cuisine/internal/storage"
)

// BlobStub is a storage.BlobStore backed by a MemoryStore whose writes can be
// overridden per test.
type BlobStub struct {
	*storage.MemoryStore
	UploadFn func(ctx context.Context, key string, body []byte, contentType string) error
	DeleteFn func(ctx context.Context, key string) error
}

// NewBlobStub returns a stub serving URLs under http://blobs.test.
func NewBlobStub() *BlobStub {
	return &BlobStub{MemoryStore: storage.NewMemoryStore("http://blobs.test")}
}

func (s *BlobStub) Upload(ctx context.Context, key string, body []byte, contentType string) error {
	if s.UploadFn != nil {
		if err := s.UploadFn(ctx, key, body, contentType); err != nil {
			return err
		}
	}
	return s.MemoryStore.Upload(ctx, key, body, contentType)
}

func (s *BlobStub) Delete(ctx context.Context, key string) error {
	if s.DeleteFn != nil {
		if err := s.DeleteFn(ctx, key); err != nil {
			return err
		}
	}
	return s.MemoryStore.Delete(ctx, key)
}

// TinyPNG returns an in-memory PNG byte slice with the requested dimensions.
func TinyPNG(t interface {
	Helper()
	Fatalf(string, ...any)
}, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	buf := bytes.NewBuffer(nil)
	if err := png.Encode(buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}
