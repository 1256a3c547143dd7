package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/kbpipe/internal/config"
	"github.com/timmy/kbpipe/internal/domain"
	"github.com/timmy/kbpipe/internal/storage"
)

// RawText is the readable content behind a collection source.
type RawText struct {
	Title string
	Text  string
}

// SourceReader reads the raw text of a collection source.
type SourceReader interface {
	Read(ctx context.Context, src *domain.SourceDescriptor) (*RawText, error)
}

// RawTextReader reads uploaded files from object storage and remote
// sources over HTTP.
type RawTextReader struct {
	storage   storage.ObjectStorage
	http      *resty.Client
	apiServer *resty.Client
}

// NewRawTextReader creates a reader over object storage and the configured API file server.
func NewRawTextReader(store storage.ObjectStorage, cfg *config.ReaderConfig) *RawTextReader {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := &RawTextReader{
		storage: store,
		http: resty.New().
			SetTimeout(timeout).
			SetHeader("User-Agent", "kbpipe-reader/1.0"),
	}
	if cfg.APIServerURL != "" {
		r.apiServer = resty.New().
			SetBaseURL(strings.TrimRight(cfg.APIServerURL, "/")).
			SetTimeout(timeout)
		if cfg.APIServerKey != "" {
			r.apiServer.SetAuthToken(cfg.APIServerKey)
		}
	}
	return r
}

// Read dispatches on the source type. Errors from the underlying fetch propagate unchanged.
func (r *RawTextReader) Read(ctx context.Context, src *domain.SourceDescriptor) (*RawText, error) {
	switch src.Type {
	case domain.CollectionTypeFile:
		return r.readFile(ctx, src)
	case domain.CollectionTypeLink:
		return r.readLink(ctx, src)
	case domain.CollectionTypeExternalFile:
		return r.readExternalFile(ctx, src)
	case domain.CollectionTypeAPIFile:
		return r.readAPIFile(ctx, src)
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedSource, src.Type)
	}
}

func (r *RawTextReader) readFile(ctx context.Context, src *domain.SourceDescriptor) (*RawText, error) {
	body, err := r.storage.Download(ctx, storage.RawFileKey(src.SourceID))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", src.SourceID, err)
	}
	title, text, err := extractText(src.Filename, "", data)
	if err != nil {
		return nil, err
	}
	if title == "" {
		title = src.Filename
	}
	return &RawText{Title: title, Text: text}, nil
}

func (r *RawTextReader) fetch(ctx context.Context, url string) (*resty.Response, error) {
	resp, err := r.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("failed to fetch %s: HTTP %d", url, resp.StatusCode())
	}
	return resp, nil
}

func (r *RawTextReader) readLink(ctx context.Context, src *domain.SourceDescriptor) (*RawText, error) {
	resp, err := r.fetch(ctx, src.SourceID)
	if err != nil {
		return nil, err
	}
	title, text, err := extractHTML(resp.Body(), src.Selector)
	if err != nil {
		return nil, err
	}
	if title == "" {
		title = src.SourceID
	}
	return &RawText{Title: title, Text: text}, nil
}

func (r *RawTextReader) readExternalFile(ctx context.Context, src *domain.SourceDescriptor) (*RawText, error) {
	resp, err := r.fetch(ctx, src.SourceID)
	if err != nil {
		return nil, err
	}
	name := src.Filename
	if name == "" {
		name = src.SourceID
	}
	title, text, err := extractText(name, resp.Header().Get("Content-Type"), resp.Body())
	if err != nil {
		return nil, err
	}
	if title == "" {
		title = src.Filename
	}
	return &RawText{Title: title, Text: text}, nil
}

type apiFileContentResponse struct {
	Code    int    `json:"code"`
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		Title      string `json:"title"`
		Content    string `json:"content"`
		PreviewURL string `json:"previewUrl"`
	} `json:"data"`
}

// readAPIFile asks the API file server for inline content, following its preview URL when
// the server only returns a link.
func (r *RawTextReader) readAPIFile(ctx context.Context, src *domain.SourceDescriptor) (*RawText, error) {
	if r.apiServer == nil {
		return nil, fmt.Errorf("api file server is not configured")
	}

	var out apiFileContentResponse
	resp, err := r.apiServer.R().
		SetContext(ctx).
		SetQueryParam("id", src.SourceID).
		SetResult(&out).
		Get("/v1/file/content")
	if err != nil {
		return nil, fmt.Errorf("failed to call api file server: %w", err)
	}
	if resp.IsError() || (out.Code != 0 && out.Code != 200) {
		return nil, fmt.Errorf("api file server error: HTTP %d: %s", resp.StatusCode(), out.Message)
	}

	if out.Data.Content != "" {
		return &RawText{Title: out.Data.Title, Text: out.Data.Content}, nil
	}
	if out.Data.PreviewURL == "" {
		return nil, fmt.Errorf("api file %s has neither content nor preview url", src.SourceID)
	}

	raw, err := r.readExternalFile(ctx, &domain.SourceDescriptor{
		Type:     domain.CollectionTypeExternalFile,
		SourceID: out.Data.PreviewURL,
		Filename: src.Filename,
	})
	if err != nil {
		return nil, err
	}
	if out.Data.Title != "" {
		raw.Title = out.Data.Title
	}
	return raw, nil
}
