package remote_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/marmos91/cloudnbd/pkg/provider/remote"
)

func newSeafileTestServer(t *testing.T, blockData map[string][]byte) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api2/auth/ping/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	var downloadHost string

	mux.HandleFunc("/api2/repos/lib1/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api2/repos/lib1/file/", func(w http.ResponseWriter, r *http.Request) {
		p := r.URL.Query().Get("p")
		name := p[1:] // strip leading "/"
		if _, ok := blockData[name]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprintf(w, `"%s/download/%s"`, downloadHost, name)
	})
	mux.HandleFunc("/download/", func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Path[len("/download/"):]
		data, ok := blockData[name]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(data)
	})
	mux.HandleFunc("/api2/repos/lib1/upload-link/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `"%s/upload"`, downloadHost)
	})
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(mux)
	downloadHost = srv.URL
	t.Cleanup(srv.Close)
	return srv
}

func TestSeafileFetchBlockFound(t *testing.T) {
	srv := newSeafileTestServer(t, map[string][]byte{"0.block": []byte("hello-world-12345")})
	backend := remote.NewSeafileBackend(remote.SeafileConfig{
		BaseURL: srv.URL + "/api2", Token: "tok", LibraryID: "lib1",
	})

	buf := make([]byte, len("hello-world-12345"))
	if err := backend.FetchBlock(context.Background(), 0, buf); err != nil {
		t.Fatalf("FetchBlock: %v", err)
	}
	if string(buf) != "hello-world-12345" {
		t.Fatalf("got %q", buf)
	}
}

func TestSeafileFetchBlockNotFoundZeroFills(t *testing.T) {
	srv := newSeafileTestServer(t, map[string][]byte{})
	backend := remote.NewSeafileBackend(remote.SeafileConfig{
		BaseURL: srv.URL + "/api2", Token: "tok", LibraryID: "lib1",
	})

	buf := []byte{1, 2, 3, 4}
	if err := backend.FetchBlock(context.Background(), 5, buf); err != nil {
		t.Fatalf("FetchBlock: %v", err)
	}
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("byte %d not zero-filled: %x", i, b)
		}
	}
}

func TestSeafileUploadBlockSucceeds(t *testing.T) {
	srv := newSeafileTestServer(t, map[string][]byte{})
	backend := remote.NewSeafileBackend(remote.SeafileConfig{
		BaseURL: srv.URL + "/api2", Token: "tok", LibraryID: "lib1",
	})

	if err := backend.UploadBlock(context.Background(), 1, []byte("payload")); err != nil {
		t.Fatalf("UploadBlock: %v", err)
	}
}

func TestSeafileUploadLinkMissingIsError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api2/repos/lib1/upload-link/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	backend := remote.NewSeafileBackend(remote.SeafileConfig{
		BaseURL: srv.URL + "/api2", Token: "tok", LibraryID: "lib1",
	})

	err := backend.UploadBlock(context.Background(), 1, []byte("payload"))
	if err == nil {
		t.Fatal("expected an error when the upload link is missing, got nil")
	}
}

func TestSeafilePingSucceeds(t *testing.T) {
	srv := newSeafileTestServer(t, map[string][]byte{})
	backend := remote.NewSeafileBackend(remote.SeafileConfig{
		BaseURL: srv.URL + "/api2", Token: "tok", LibraryID: "lib1",
	})
	if err := backend.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
