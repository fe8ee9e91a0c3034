package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 accepts bucket HEADs and object PUTs.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]string
	types   map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodHead:
		w.WriteHeader(http.StatusOK)
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.objects[r.URL.Path] = string(body)
		f.types[r.URL.Path] = r.Header.Get("Content-Type")
		f.mu.Unlock()
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func TestPut(t *testing.T) {
	fake := &fakeS3{objects: map[string]string{}, types: map[string]string{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	endpoint := strings.TrimPrefix(srv.URL, "http://")
	store, err := New(context.Background(), endpoint, "us-east-1", "lint-runs", "key", "secret", false)
	require.NoError(t, err)

	url, err := store.WithPrefix("/archive/").Put(context.Background(), "runs/r1/vet.stderr.log", []byte("main.go:1:1: oops"), "")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/lint-runs/archive/runs/r1/vet.stderr.log", url)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	path := "/lint-runs/archive/runs/r1/vet.stderr.log"
	require.Contains(t, fake.objects, path)
	assert.Contains(t, fake.objects[path], "main.go:1:1: oops")
	assert.Equal(t, "text/plain; charset=utf-8", fake.types[path])
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "application/json", ContentTypeFor("runs/r1/lint.stdout.json"))
	assert.Equal(t, "text/plain; charset=utf-8", ContentTypeFor("runs/r1/vet.stderr.log"))
	assert.Equal(t, "application/octet-stream", ContentTypeFor("blob"))
}
