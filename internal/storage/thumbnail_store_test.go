package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjectStore struct {
	puts    map[string][]byte
	types   map[string]string
	deleted []string
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{puts: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeObjectStore) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	f.puts[key] = data
	f.types[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjectStore) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestThumbnailStore_Store(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpegdata"))
	}))
	defer srv.Close()

	objects := newFakeObjectStore()
	store := NewThumbnailStore(objects, "thumbs", "https://cdn.example.com/")
	store.retryConfig.Sleep = func(ctx context.Context, d time.Duration) error { return nil }

	key, err := store.Store(testContext(t), "dQw4w9WgXcQ", srv.URL+"/maxresdefault.jpg")
	require.NoError(t, err)

	assert.Equal(t, "thumbnails/dQw4w9WgXcQ.jpg", key)
	assert.Equal(t, []byte("jpegdata"), objects.puts["thumbs/thumbnails/dQw4w9WgXcQ.jpg"])
	assert.Equal(t, "image/jpeg", objects.types["thumbs/thumbnails/dQw4w9WgXcQ.jpg"])
	assert.Equal(t, "https://cdn.example.com/thumbnails/dQw4w9WgXcQ.jpg", store.URL(key))
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
}

func TestThumbnailStore_NotFoundIsPermanent(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	store := NewThumbnailStore(newFakeObjectStore(), "thumbs", "")
	_, err := store.Store(testContext(t), "dQw4w9WgXcQ", srv.URL)

	assert.Error(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
	assert.Empty(t, store.URL("thumbnails/x.jpg"))
}

func TestThumbnailStore_Delete(t *testing.T) {
	objects := newFakeObjectStore()
	store := NewThumbnailStore(objects, "thumbs", "")

	require.NoError(t, store.Delete(testContext(t), "abc"))
	assert.Equal(t, []string{"thumbnails/abc.jpg"}, objects.deleted)
}
