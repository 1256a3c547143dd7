package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/kbpipe/internal/config"
	"github.com/timmy/kbpipe/internal/domain"
	"github.com/timmy/kbpipe/internal/storage"
)

const testPage = `<!DOCTYPE html>
<html><head><title>Lease Guide</title><style>.x{}</style></head>
<body>
<nav>Home | Docs</nav>
<div id="content">
<h2>Claiming</h2>
<p>Workers claim one task at a time.</p>
<script>alert(1)</script>
<p>Leases expire.</p>
</div>
</body></html>`

func newReaderServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, testPage)
	})
	mux.HandleFunc("/notes.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "  plain notes  ")
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/v1/file/content", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer api-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("id") {
		case "inline":
			fmt.Fprint(w, `{"code":200,"success":true,"data":{"title":"Inline","content":"api text"}}`)
		default:
			fmt.Fprintf(w, `{"code":200,"success":true,"data":{"title":"Preview","previewUrl":"%s/notes.txt"}}`, "http://"+r.Host)
		}
	})
	return httptest.NewServer(mux)
}

func TestRawTextReader_Read(t *testing.T) {
	srv := newReaderServer(t)
	defer srv.Close()

	store := storage.NewMemoryStorage()
	require.NoError(t, store.Upload(context.Background(), storage.RawFileKey("file-1"),
		strings.NewReader("uploaded body"), 13, "text/plain"))

	reader := NewRawTextReader(store, &config.ReaderConfig{APIServerURL: srv.URL, APIServerKey: "api-key"})

	tests := []struct {
		name      string
		src       domain.SourceDescriptor
		wantTitle string
		wantText  string
	}{
		{
			name:      "link with selector",
			src:       domain.SourceDescriptor{Type: domain.CollectionTypeLink, SourceID: srv.URL + "/page", Selector: "#content"},
			wantTitle: "Lease Guide",
			wantText:  "## Claiming\n\nWorkers claim one task at a time.\n\nLeases expire.",
		},
		{
			name:      "uploaded file",
			src:       domain.SourceDescriptor{Type: domain.CollectionTypeFile, SourceID: "file-1", Filename: "a.txt"},
			wantTitle: "a.txt",
			wantText:  "uploaded body",
		},
		{
			name:      "external file",
			src:       domain.SourceDescriptor{Type: domain.CollectionTypeExternalFile, SourceID: srv.URL + "/notes.txt", Filename: "notes.txt"},
			wantTitle: "notes.txt",
			wantText:  "plain notes",
		},
		{
			name:      "api file inline",
			src:       domain.SourceDescriptor{Type: domain.CollectionTypeAPIFile, SourceID: "inline"},
			wantTitle: "Inline",
			wantText:  "api text",
		},
		{
			name:      "api file preview url",
			src:       domain.SourceDescriptor{Type: domain.CollectionTypeAPIFile, SourceID: "linked", Filename: "notes.txt"},
			wantTitle: "Preview",
			wantText:  "plain notes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := tt.src
			got, err := reader.Read(context.Background(), &src)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTitle, got.Title)
			assert.Equal(t, tt.wantText, got.Text)
		})
	}
}

func TestRawTextReader_Errors(t *testing.T) {
	srv := newReaderServer(t)
	defer srv.Close()

	reader := NewRawTextReader(storage.NewMemoryStorage(), &config.ReaderConfig{})
	ctx := context.Background()

	_, err := reader.Read(ctx, &domain.SourceDescriptor{Type: domain.CollectionTypeLink, SourceID: srv.URL + "/missing"})
	assert.ErrorContains(t, err, "HTTP 404")

	_, err = reader.Read(ctx, &domain.SourceDescriptor{Type: domain.CollectionTypeFile, SourceID: "nope"})
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)

	_, err = reader.Read(ctx, &domain.SourceDescriptor{Type: domain.CollectionTypeAPIFile, SourceID: "x"})
	assert.Error(t, err)

	_, err = reader.Read(ctx, &domain.SourceDescriptor{Type: domain.CollectionTypeVirtual})
	assert.ErrorIs(t, err, domain.ErrUnsupportedSource)
}
