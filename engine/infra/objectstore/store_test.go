package objectstore

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/compozy/animagen/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	mu          sync.Mutex
	paths       []string
	contentType string
	body        []byte
	status      int
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, r.Method+" "+r.URL.Path)
	if r.Method == http.MethodPut {
		f.contentType = r.Header.Get("Content-Type")
		f.body, _ = io.ReadAll(r.Body)
	}
	if f.status != 0 {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>AccessDenied</Code><Message>denied</Message></Error>`))
		return
	}
	w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
	w.WriteHeader(http.StatusOK)
}

func newTestStore(t *testing.T, fake *fakeS3) *Store {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	store, err := NewStore(Config{
		Endpoint:  u.Host,
		AccessKey: "minio",
		SecretKey: "minio-secret",
		Bucket:    "animagen",
		Region:    "us-east-1",
		URLExpiry: time.Hour,
	})
	require.NoError(t, err)
	return store
}

func TestStore_Deliver(t *testing.T) {
	t.Run("Should upload the image and return a presigned URL", func(t *testing.T) {
		fake := &fakeS3{}
		store := newTestStore(t, fake)
		runID := core.MustNewID()

		link, err := store.Deliver(t.Context(), runID, []byte("png-bytes"), "image/png")

		require.NoError(t, err)
		assert.Contains(t, fake.paths, "PUT /animagen/runs/"+runID.String()+"/final.png")
		assert.Equal(t, "image/png", fake.contentType)
		assert.Contains(t, string(fake.body), "png-bytes")
		parsed, err := url.Parse(link)
		require.NoError(t, err)
		assert.Equal(t, "/animagen/runs/"+runID.String()+"/final.png", parsed.Path)
		assert.Equal(t, "3600", parsed.Query().Get("X-Amz-Expires"))
	})
	t.Run("Should surface upload failures", func(t *testing.T) {
		store := newTestStore(t, &fakeS3{status: http.StatusForbidden})

		_, err := store.Deliver(t.Context(), core.MustNewID(), []byte("x"), "image/jpeg")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "uploading runs/")
	})
}

func TestStore_EnsureBucket(t *testing.T) {
	t.Run("Should not create a bucket that already exists", func(t *testing.T) {
		fake := &fakeS3{}
		store := newTestStore(t, fake)

		require.NoError(t, store.EnsureBucket(t.Context()))
		for _, p := range fake.paths {
			assert.False(t, strings.HasPrefix(p, http.MethodPut), "unexpected request %s", p)
		}
	})
}

func TestObjectKey(t *testing.T) {
	t.Run("Should pick the extension from the MIME type", func(t *testing.T) {
		id := core.ID("run1")
		assert.Equal(t, "runs/run1/final.jpg", ObjectKey(id, "image/jpeg"))
		assert.Equal(t, "runs/run1/final.png", ObjectKey(id, "application/octet-stream"))
	})
}

func TestConfig_Validate(t *testing.T) {
	t.Run("Should reject incomplete configs", func(t *testing.T) {
		assert.Error(t, Config{Bucket: "b"}.Validate())
		assert.Error(t, Config{Endpoint: "http://minio:9000", Bucket: "b"}.Validate())
		assert.Error(t, Config{Endpoint: "minio:9000"}.Validate())
		assert.Error(t, Config{Endpoint: "minio:9000", Bucket: "b", URLExpiry: 8 * 24 * time.Hour}.Validate())
		assert.NoError(t, Config{Endpoint: "minio:9000", Bucket: "b"}.Validate())
		assert.True(t, strings.HasPrefix(Config{}.expiry().String(), "24h"))
	})
}
