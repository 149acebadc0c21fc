package reference

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/compozy/animagen/engine/core"
	"github.com/compozy/animagen/engine/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// fakeFetcher serves canned payloads and counts calls per URL.
type fakeFetcher struct {
	mu       sync.Mutex
	payloads map[string][]byte
	errs     map[string]error
	calls    map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		payloads: map[string][]byte{},
		errs:     map[string]error{},
		calls:    map[string]int{},
	}
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	if buf, ok := f.payloads[url]; ok {
		return buf, nil
	}
	return nil, &FetchError{URL: url, Status: http.StatusNotFound}
}

func (f *fakeFetcher) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

func fastRetry() retry.Options {
	return retry.Options{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func strPtr(s string) *string { return &s }

func TestResolver_Resolve(t *testing.T) {
	t.Run("Should return an empty list without I/O for no descriptors", func(t *testing.T) {
		fetcher := newFakeFetcher()
		r := NewResolver(fetcher)

		result, err := r.Resolve(t.Context(), nil, RunInfo{}, nil)

		require.NoError(t, err)
		assert.NotNil(t, result)
		assert.Empty(t, result)
		assert.Zero(t, fetcher.totalCalls())
	})

	t.Run("Should fail with SELFIE_REQUIRED_MISSING when the run has no selfie", func(t *testing.T) {
		r := NewResolver(newFakeFetcher())
		descriptors := []Descriptor{{Name: "selfie", Source: SourceSelfie, Order: 1}}

		_, err := r.Resolve(t.Context(), descriptors, RunInfo{SelfieURL: nil}, nil)

		require.Error(t, err)
		assert.Equal(t, core.ErrCodeSelfieRequiredMissing, core.CodeOf(err))
	})

	t.Run("Should fail with REFERENCE_IMAGE_NOT_FOUND for a missing block output", func(t *testing.T) {
		r := NewResolver(newFakeFetcher())
		descriptors := []Descriptor{{Name: "base", Source: SourceAIBlockOutput, SourceBlockID: "ai-1", Order: 1}}

		_, err := r.Resolve(t.Context(), descriptors, RunInfo{}, MapOutputs{"other": []byte("x")})

		require.Error(t, err)
		assert.Equal(t, core.ErrCodeReferenceImageNotFound, core.CodeOf(err))
		assert.Contains(t, err.Error(), "ai-1")
	})

	t.Run("Should fail with REFERENCE_IMAGE_NOT_FOUND when an upload has no URL", func(t *testing.T) {
		r := NewResolver(newFakeFetcher())
		descriptors := []Descriptor{{Name: "logo", Source: SourceUpload, Order: 1}}

		_, err := r.Resolve(t.Context(), descriptors, RunInfo{}, nil)

		require.Error(t, err)
		assert.Equal(t, core.ErrCodeReferenceImageNotFound, core.CodeOf(err))
		assert.Contains(t, err.Error(), "URL manquante")
	})

	t.Run("Should resolve every source and sort by order", func(t *testing.T) {
		img := pngBytes(t)
		fetcher := newFakeFetcher()
		fetcher.payloads["https://cdn/selfie.png"] = img
		fetcher.payloads["https://cdn/logo.png"] = []byte("logo")
		fetcher.payloads["https://cdn/fond.png"] = []byte("fond")
		r := NewResolver(fetcher)
		descriptors := []Descriptor{
			{Name: "fond", Source: SourceURL, URL: "https://cdn/fond.png", Order: 4},
			{Name: "base", Source: SourceAIBlockOutput, SourceBlockID: "ai-1", Order: 3},
			{Name: "selfie", Source: SourceSelfie, Order: 1},
			{Name: "logo", Source: SourceUpload, URL: "https://cdn/logo.png", Order: 2},
		}

		result, err := r.Resolve(t.Context(), descriptors,
			RunInfo{SelfieURL: strPtr("https://cdn/selfie.png")}, MapOutputs{"ai-1": []byte("ai")})

		require.NoError(t, err)
		require.Len(t, result, 4)
		names := []string{result[0].Name, result[1].Name, result[2].Name, result[3].Name}
		assert.Equal(t, []string{"selfie", "logo", "base", "fond"}, names)
		assert.Equal(t, "image/png", result[0].MIME)
		assert.Equal(t, len(img), result[0].SizeBytes)
		assert.Equal(t, []byte("ai"), result[2].Buffer)
	})

	t.Run("Should never fetch for block outputs", func(t *testing.T) {
		fetcher := newFakeFetcher()
		r := NewResolver(fetcher)
		descriptors := []Descriptor{{Name: "base", Source: SourceAIBlockOutput, SourceBlockID: "ai-1"}}

		_, err := r.Resolve(t.Context(), descriptors, RunInfo{}, MapOutputs{"ai-1": []byte("ai")})

		require.NoError(t, err)
		assert.Zero(t, fetcher.totalCalls())
	})

	t.Run("Should abort without partial results on first failure", func(t *testing.T) {
		fetcher := newFakeFetcher()
		fetcher.payloads["https://cdn/a.png"] = []byte("a")
		r := NewResolver(fetcher, WithRetry(fastRetry()))
		descriptors := []Descriptor{
			{Name: "a", Source: SourceURL, URL: "https://cdn/a.png", Order: 1},
			{Name: "b", Source: SourceURL, URL: "https://cdn/missing.png", Order: 2},
		}

		result, err := r.Resolve(t.Context(), descriptors, RunInfo{}, nil)

		require.Error(t, err)
		assert.Nil(t, result)
		assert.Equal(t, core.ErrCodeReferenceImageNotFound, core.CodeOf(err))
		var fe *FetchError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, http.StatusNotFound, fe.StatusCode())
	})

	t.Run("Should retry transient fetch failures", func(t *testing.T) {
		var calls int32
		fetcher := fetcherFunc(func(_ context.Context, _ string) ([]byte, error) {
			if atomic.AddInt32(&calls, 1) < 3 {
				return nil, &FetchError{URL: "u", Status: http.StatusServiceUnavailable}
			}
			return []byte("ok"), nil
		})
		r := NewResolver(fetcher, WithRetry(fastRetry()))

		result, err := r.Resolve(t.Context(),
			[]Descriptor{{Name: "x", Source: SourceURL, URL: "https://cdn/x.png"}}, RunInfo{}, nil)

		require.NoError(t, err)
		assert.Equal(t, []byte("ok"), result[0].Buffer)
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("Should report selfie fetch failures as not found", func(t *testing.T) {
		fetcher := newFakeFetcher()
		fetcher.errs["https://cdn/selfie.png"] = errors.New("connection refused")
		r := NewResolver(fetcher, WithRetry(fastRetry()))

		_, err := r.Resolve(t.Context(), []Descriptor{{Name: "me", Source: SourceSelfie}},
			RunInfo{SelfieURL: strPtr("https://cdn/selfie.png")}, nil)

		require.Error(t, err)
		assert.Equal(t, core.ErrCodeReferenceImageNotFound, core.CodeOf(err))
		assert.Contains(t, err.Error(), "selfie")
	})

	t.Run("Should use the selfie already held by the run", func(t *testing.T) {
		fetcher := newFakeFetcher()
		fetcher.payloads["https://cdn/selfie.png"] = []byte("raw")
		r := NewResolver(fetcher)
		held := pngBytes(t)

		result, err := r.Resolve(t.Context(), []Descriptor{{Name: "me", Source: SourceSelfie}},
			RunInfo{SelfieURL: strPtr("https://cdn/selfie.png"), Selfie: held}, nil)

		require.NoError(t, err)
		assert.Equal(t, held, result[0].Buffer)
		assert.Equal(t, 0, fetcher.totalCalls())
	})

	t.Run("Should notify the observer", func(t *testing.T) {
		obs := &recordingObserver{}
		r := NewResolver(newFakeFetcher(), WithObserver(obs))

		_, err := r.Resolve(t.Context(),
			[]Descriptor{{Name: "b", Source: SourceAIBlockOutput, SourceBlockID: "ai"}}, RunInfo{},
			MapOutputs{"ai": []byte("1234")})

		require.NoError(t, err)
		assert.Equal(t, []string{"ai-block-output"}, obs.sources)
		assert.Equal(t, 4, obs.bytes)
	})
}

type fetcherFunc func(ctx context.Context, url string) ([]byte, error)

func (f fetcherFunc) Fetch(ctx context.Context, url string) ([]byte, error) { return f(ctx, url) }

type recordingObserver struct {
	sources []string
	bytes   int
}

func (o *recordingObserver) ObserveReferenceFetch(_ context.Context, source string, n int) {
	o.sources = append(o.sources, source)
	o.bytes += n
}

func TestDescriptor_Validate(t *testing.T) {
	t.Run("Should accept a well formed descriptor", func(t *testing.T) {
		d := Descriptor{Name: "logo", Source: SourceURL, URL: "https://cdn/logo.png"}
		require.NoError(t, d.Validate())
	})

	t.Run("Should reject unknown sources and malformed URLs", func(t *testing.T) {
		require.Error(t, Descriptor{Name: "x", Source: "ftp"}.Validate())
		require.Error(t, Descriptor{Name: "x", Source: SourceURL, URL: "not a url"}.Validate())
		require.Error(t, Descriptor{Source: SourceSelfie}.Validate())
	})
}

func TestHTTPFetcher(t *testing.T) {
	t.Run("Should download content", func(t *testing.T) {
		img := pngBytes(t)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "animagen-test", r.Header.Get("User-Agent"))
			_, _ = w.Write(img)
		}))
		defer srv.Close()
		f := NewHTTPFetcher(HTTPOptions{UserAgent: "animagen-test"})

		buf, err := f.Fetch(t.Context(), srv.URL)

		require.NoError(t, err)
		assert.Equal(t, img, buf)
		assert.Equal(t, "image/png", DetectMIME(buf))
	})

	t.Run("Should return a status error for non-2xx responses", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()
		f := NewHTTPFetcher(HTTPOptions{})

		_, err := f.Fetch(t.Context(), srv.URL)

		var fe *FetchError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, http.StatusServiceUnavailable, fe.StatusCode())
		assert.True(t, retry.IsRetryable(err))
	})

	t.Run("Should enforce the size limit", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write(bytes.Repeat([]byte("a"), 64))
		}))
		defer srv.Close()
		f := NewHTTPFetcher(HTTPOptions{MaxBytes: 16})

		_, err := f.Fetch(t.Context(), srv.URL)

		require.ErrorIs(t, err, ErrMaxSizeExceeded)
	})

	t.Run("Should stop after too many redirects", func(t *testing.T) {
		var srv *httptest.Server
		srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, srv.URL+"/loop", http.StatusFound)
		}))
		defer srv.Close()
		f := NewHTTPFetcher(HTTPOptions{MaxRedirects: 2})

		_, err := f.Fetch(t.Context(), srv.URL)

		require.Error(t, err)
	})
}

func TestCachedFetcher(t *testing.T) {
	t.Run("Should serve repeated URLs from cache", func(t *testing.T) {
		inner := newFakeFetcher()
		inner.payloads["https://cdn/a.png"] = []byte("a")
		c, err := NewCachedFetcher(inner, 1<<20, time.Minute)
		require.NoError(t, err)
		defer c.Close()

		_, err = c.Fetch(t.Context(), "https://cdn/a.png")
		require.NoError(t, err)
		c.Wait()
		buf, err := c.Fetch(t.Context(), "https://cdn/a.png")

		require.NoError(t, err)
		assert.Equal(t, []byte("a"), buf)
		assert.Equal(t, 1, inner.totalCalls())
	})

	t.Run("Should not cache failures", func(t *testing.T) {
		inner := newFakeFetcher()
		c, err := NewCachedFetcher(inner, 1<<20, 0)
		require.NoError(t, err)
		defer c.Close()

		_, err = c.Fetch(t.Context(), "https://cdn/none.png")
		require.Error(t, err)
		c.Wait()
		_, err = c.Fetch(t.Context(), "https://cdn/none.png")
		require.Error(t, err)

		assert.Equal(t, 2, inner.totalCalls())
	})

	t.Run("Should reject a non-positive budget", func(t *testing.T) {
		_, err := NewCachedFetcher(newFakeFetcher(), 0, 0)
		require.Error(t, err)
	})
}
