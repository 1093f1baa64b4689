package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStorage(url string) *Storage {
	s := New(url, "service-key", "renders", zap.NewNop())
	s.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return s
}

func writeArtifact(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "final.mp4")
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestObjectPath(t *testing.T) {
	id := uuid.MustParse("1b4e28ba-2fa1-11d2-883f-0016d3cca427")
	assert.Equal(t, "1b4e28ba-2fa1-11d2-883f-0016d3cca427/final.mp4", ObjectPath(id, "final.mp4"))
}

func TestUploadFile_StreamsWithLength(t *testing.T) {
	var got []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/storage/v1/object/renders/run/final.mp4", r.URL.Path)
		assert.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))
		assert.Equal(t, "true", r.Header.Get("x-upsert"))
		assert.EqualValues(t, 11, r.ContentLength)
		got, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := newTestStorage(srv.URL).UploadFile(context.Background(), "run/final.mp4", writeArtifact(t, "video-bytes"), "video/mp4")

	require.NoError(t, err)
	assert.Equal(t, "video-bytes", string(got))
}

func TestUploadFile_RetriesTransientStatus(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	err := newTestStorage(srv.URL).UploadFile(context.Background(), "run/final.mp4", writeArtifact(t, "abc"), "video/mp4")

	require.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits))
}

func TestUploadFile_RejectedIsFinal(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusRequestEntityTooLarge)
	}))
	defer srv.Close()

	err := newTestStorage(srv.URL).UploadFile(context.Background(), "run/final.mp4", writeArtifact(t, "abc"), "video/mp4")

	assert.ErrorContains(t, err, "status 413")
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestGetSignedURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/storage/v1/object/sign/renders/run/final.mp4", r.URL.Path)
		w.Write([]byte(`{"signedURL":"/object/sign/renders/run/final.mp4?token=abc"}`))
	}))
	defer srv.Close()

	url, err := newTestStorage(srv.URL).GetSignedURL(context.Background(), "run/final.mp4", 3600)

	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/storage/v1/object/sign/renders/run/final.mp4?token=abc", url)
}
