package whatsapp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
)

// mediaServer serves the media lookup endpoint and the file URL it points to.
func mediaServer(t *testing.T, mimeType string, content []byte) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	lookups := &atomic.Int32{}
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/v21.0/media-1", func(w http.ResponseWriter, r *http.Request) {
		lookups.Add(1)
		if r.Header.Get("Authorization") != "Bearer token-abc" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprintf(w, `{"messaging_product":"whatsapp","url":"%s/files/media-1","mime_type":%q,"sha256":"abc","file_size":%d,"id":"media-1"}`,
			srv.URL, mimeType, len(content))
	})
	mux.HandleFunc("/files/media-1", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token-abc" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write(content)
	})
	mux.HandleFunc("/v21.0/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":{"message":"Unsupported get request","type":"GraphMethodException","code":100}}`)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, lookups
}

func mediaClient(t *testing.T, srv *httptest.Server) *Client {
	logger, _ := test.NewNullLogger()
	return NewClient("10001", "token-abc", WithBaseURL(srv.URL), WithLogger(logger))
}

func TestGetMediaURL(t *testing.T) {
	srv, _ := mediaServer(t, "image/jpeg", []byte("jpeg-bytes"))
	c := mediaClient(t, srv)

	info, err := c.GetMediaURL(context.Background(), "media-1")
	if err != nil {
		t.Fatalf("GetMediaURL: %v", err)
	}
	if info.URL != srv.URL+"/files/media-1" || info.MimeType != "image/jpeg" {
		t.Fatalf("unexpected info %+v", info)
	}
	if info.SHA256 != "abc" || info.FileSize != int64(len("jpeg-bytes")) || info.ID != "media-1" {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestGetMediaURL_Errors(t *testing.T) {
	srv, _ := mediaServer(t, "image/jpeg", nil)
	c := mediaClient(t, srv)

	if _, err := c.GetMediaURL(context.Background(), ""); !errors.Is(err, ErrNoMedia) {
		t.Fatalf("expected ErrNoMedia, got %v", err)
	}
	_, err := c.GetMediaURL(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound || apiErr.Code != 100 {
		t.Fatalf("expected 404 APIError, got %v", err)
	}
}

func TestGetMediaURL_ConcurrentCallersGetCopies(t *testing.T) {
	srv, lookups := mediaServer(t, "image/png", []byte("png"))
	c := mediaClient(t, srv)

	var wg sync.WaitGroup
	results := make([]*MediaInfo, 8)
	for i := range results {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			info, err := c.GetMediaURL(context.Background(), "media-1")
			if err != nil {
				t.Errorf("GetMediaURL: %v", err)
				return
			}
			results[i] = info
		}()
	}
	wg.Wait()

	if n := lookups.Load(); n < 1 || n > int32(len(results)) {
		t.Fatalf("unexpected lookup count %d", n)
	}
	if results[0] != nil && results[1] != nil && results[0] == results[1] {
		t.Fatalf("callers must not share the same MediaInfo pointer")
	}
}

func TestGetMediaURL_CallerDeadlineDoesNotFailOthers(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	lookups := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if lookups.Add(1) == 1 {
			close(started)
		}
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		io.WriteString(w, `{"url":"https://cdn.example/m1","mime_type":"image/png","id":"m1"}`)
	}))
	t.Cleanup(srv.Close)
	c := mediaClient(t, srv)

	shortCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	shortErr := make(chan error, 1)
	go func() {
		_, err := c.GetMediaURL(shortCtx, "m1")
		shortErr <- err
	}()
	<-started

	type result struct {
		info *MediaInfo
		err  error
	}
	patient := make(chan result, 1)
	go func() {
		info, err := c.GetMediaURL(context.Background(), "m1")
		patient <- result{info, err}
	}()

	if err := <-shortErr; !errors.Is(err, context.DeadlineExceeded) {
		close(release)
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
	close(release)

	res := <-patient
	if res.err != nil {
		t.Fatalf("expected the second caller to succeed, got %v", res.err)
	}
	if res.info.URL != "https://cdn.example/m1" {
		t.Fatalf("expected url https://cdn.example/m1, got %q", res.info.URL)
	}
	if n := lookups.Load(); n != 1 {
		t.Fatalf("expected one shared lookup, got %d", n)
	}
}

func TestDownloadMedia(t *testing.T) {
	content := []byte("%PDF-1.4 fake")
	srv, _ := mediaServer(t, "application/pdf", content)
	c := mediaClient(t, srv)
	dir := filepath.Join(t.TempDir(), "nested", "media")

	path, err := c.DownloadMedia(context.Background(), "media-1", dir)
	if err != nil {
		t.Fatalf("DownloadMedia: %v", err)
	}
	if path != filepath.Join(dir, "media-1.pdf") {
		t.Fatalf("unexpected path %q", path)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading downloaded file: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("unexpected content %q", got)
	}
}

func TestDownloadMediaData(t *testing.T) {
	srv, _ := mediaServer(t, "audio/ogg", []byte("opus"))
	c := mediaClient(t, srv)

	rc, info, err := c.DownloadMediaData(context.Background(), "media-1")
	if err != nil {
		t.Fatalf("DownloadMediaData: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "opus" || info.MimeType != "audio/ogg" {
		t.Fatalf("unexpected download %q %+v", data, info)
	}
}

func TestExtensionFor(t *testing.T) {
	tests := []struct {
		mime string
		want string
	}{
		{"image/jpeg", ".jpg"},
		{"audio/ogg", ".opus"},
		{"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", ".xlsx"},
		{"application/zip", ".zip"},
		{"application/x-made-up", ".bin"},
		{"", ".bin"},
	}
	for _, tt := range tests {
		if got := ExtensionFor(tt.mime); got != tt.want {
			t.Fatalf("ExtensionFor(%q) = %q, want %q", tt.mime, got, tt.want)
		}
	}
}

func TestUploadMedia(t *testing.T) {
	var (
		gotPath     string
		gotFields   = map[string]string{}
		gotFilename string
		gotType     string
		gotContent  []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		for k, v := range r.MultipartForm.Value {
			gotFields[k] = v[0]
		}
		f, fh, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()
		gotFilename = fh.Filename
		gotType = fh.Header.Get("Content-Type")
		gotContent, _ = io.ReadAll(f)
		io.WriteString(w, `{"id":"uploaded-42"}`)
	}))
	t.Cleanup(srv.Close)
	c := mediaClient(t, srv)

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	id, err := c.UploadMedia(context.Background(), "/tmp/some/chart.png", bytes.NewReader(png))
	if err != nil {
		t.Fatalf("UploadMedia: %v", err)
	}
	if id != "uploaded-42" {
		t.Fatalf("unexpected id %q", id)
	}
	if gotPath != "/v21.0/10001/media" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotFields["messaging_product"] != "whatsapp" || gotFields["type"] != "image/png" {
		t.Fatalf("unexpected form fields %v", gotFields)
	}
	if gotFilename != "chart.png" || gotType != "image/png" {
		t.Fatalf("unexpected file part %q %q", gotFilename, gotType)
	}
	if !bytes.Equal(gotContent, png) {
		t.Fatalf("unexpected uploaded content")
	}
}

func TestUploadMedia_Empty(t *testing.T) {
	c := NewClient("10001", "token-abc")
	if _, err := c.UploadMedia(context.Background(), "x.txt", strings.NewReader("")); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
}
