package agent

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/soyeahso/memarena/internal/arena"
	"github.com/soyeahso/memarena/internal/domain"
	"github.com/soyeahso/memarena/internal/llm"
)

// DownloadURLs exchanges drive item ids for fetchable URLs.
type DownloadURLs interface {
	DownloadURL(ctx context.Context, itemID, userID string) (*arena.Download, error)
}

// ResolveError is an attachment that could not be turned into file content.
// Its text is shown to the user.
type ResolveError struct {
	Text string
}

func (e *ResolveError) Error() string { return e.Text }

func resolveErr(format string, args ...any) error {
	return &ResolveError{Text: fmt.Sprintf(format, args...)}
}

// Resolver turns data-file-ref parts into file content a model can read.
type Resolver struct {
	urls     DownloadURLs
	client   *http.Client
	maxBytes int64
}

// NewResolver creates a resolver. httpClient may be nil.
func NewResolver(urls DownloadURLs, httpClient *http.Client) *Resolver {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Resolver{urls: urls, client: httpClient, maxBytes: arena.MaxInlineBytes}
}

func mediaType(ref domain.FileRef) string {
	if mt := strings.TrimSpace(ref.MimeType); mt != "" {
		return mt
	}
	return "application/octet-stream"
}

// Resolve checks every ref against the model family's file policy, then
// resolves each one in order. Images are passed by URL; everything else is
// fetched and inlined as base64.
func (r *Resolver) Resolve(ctx context.Context, modelID, userID string, refs []domain.FileRef) ([]llm.File, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	family := domain.ModelFamily(modelID)
	for _, ref := range refs {
		if mt := mediaType(ref); !arena.SupportsFileType(family, mt) {
			return nil, &ResolveError{Text: arena.UnsupportedFileType(family, mt)}
		}
	}

	files := make([]llm.File, 0, len(refs))
	for _, ref := range refs {
		f, err := r.resolveOne(ctx, family, userID, ref)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

func (r *Resolver) resolveOne(ctx context.Context, family, userID string, ref domain.FileRef) (llm.File, error) {
	mt := mediaType(ref)
	if r.urls == nil {
		return llm.File{}, &ResolveError{Text: arena.ErrNotConfigured.Error()}
	}
	dl, err := r.urls.DownloadURL(ctx, ref.DriveItemID, userID)
	if err != nil {
		var apiErr *arena.APIError
		if errors.As(err, &apiErr) || errors.Is(err, arena.ErrNotConfigured) {
			return llm.File{}, &ResolveError{Text: err.Error()}
		}
		return llm.File{}, resolveErr("Get download URL failed: %v", err)
	}

	file := llm.File{MediaType: mt, Filename: ref.Filename}
	if arena.SupportsFileURL(family, mt) {
		file.URL = dl.URL
		return file, nil
	}

	switch {
	case ref.Size >= r.maxBytes:
		return llm.File{}, resolveErr("File too large for base64 (max 20MB)")
	case ref.Size <= 0:
		return llm.File{}, resolveErr("File size unknown; cannot use base64")
	}

	data, err := r.fetch(ctx, dl)
	if err != nil {
		return llm.File{}, err
	}
	file.Data = base64.StdEncoding.EncodeToString(data)
	return file, nil
}

func (r *Resolver) fetch(ctx context.Context, dl *arena.Download) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dl.URL, nil)
	if err != nil {
		return nil, resolveErr("Failed to fetch file: %v", err)
	}
	for k, v := range dl.Headers {
		req.Header.Set(k, v)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, resolveErr("Failed to fetch file: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resolveErr("Failed to fetch file: %d", resp.StatusCode)
	}

	// The declared size can lie; never read past the ceiling.
	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		return nil, resolveErr("Failed to fetch file: %v", err)
	}
	if int64(len(data)) > r.maxBytes {
		return nil, resolveErr("File too large for base64 (max 20MB)")
	}
	return data, nil
}
