package client

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/soyeahso/memarena/internal/arena"
	"github.com/soyeahso/memarena/internal/domain"
)

// Client satisfies the poller's document calls through the server's proxies.
var _ arena.DocumentAPI = (*Client)(nil)

// arenaCall sends a request through one of the Arena proxies, acting as
// userID when it is set, and unwraps the envelope the proxy relays.
func (c *Client) arenaCall(ctx context.Context, method, path string, query url.Values, userID string, body, out any, fallback string) error {
	if userID != "" && userID != c.userID {
		cc := *c
		cc.userID = userID
		c = &cc
	}
	status, data, err := c.call(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	if out == nil {
		return arena.DecodeSuccess(status, data, fallback)
	}
	return arena.DecodeEnvelope(status, data, out, fallback)
}

// CreateDocument registers an uploaded object as a project document.
func (c *Client) CreateDocument(ctx context.Context, userID string, req arena.CreateDocumentRequest) (*arena.Document, error) {
	var d arena.Document
	if err := c.arenaCall(ctx, http.MethodPost, "/api/arena/documents", nil, userID, req, &d, "Create document"); err != nil {
		return nil, err
	}
	return &d, nil
}

// DocumentStatus fetches a document's ingestion status.
func (c *Client) DocumentStatus(ctx context.Context, userID, memorylakeDocID, supermemoryDocID string) (*arena.DocumentStatus, error) {
	var s arena.DocumentStatus
	q := arena.StatusQuery(memorylakeDocID, supermemoryDocID)
	if err := c.arenaCall(ctx, http.MethodGet, "/api/arena/documents/status", q, userID, nil, &s, "Get document status"); err != nil {
		return nil, err
	}
	return &s, nil
}

// File is a local file to attach to a message.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

// Upload sends one file through a multipart upload: the parts go straight to
// their presigned URLs and only the bookkeeping goes through the server.
// onProgress, when set, gets the bytes uploaded so far after each part.
func (c *Client) Upload(ctx context.Context, f File, onProgress func(loaded, total int64)) (domain.Attachment, error) {
	total := int64(len(f.Data))
	att := domain.Attachment{Filename: f.Name, Size: total, MimeType: f.MimeType}

	var mp arena.Multipart
	err := c.arenaCall(ctx, http.MethodPost, "/api/upload/create-multipart", nil, "",
		map[string]int64{"file_size": total}, &mp, "create-multipart")
	if err != nil {
		return att, err
	}

	etags := make([]arena.PartETag, 0, len(mp.PartItems))
	var offset int64
	for _, part := range mp.PartItems {
		end := min(offset+part.Size, total)
		etag, err := c.putPart(ctx, part, f.Data[offset:end])
		if err != nil {
			return att, err
		}
		etags = append(etags, arena.PartETag{Number: part.Number, ETag: etag})
		offset = end
		if onProgress != nil {
			onProgress(offset, total)
		}
	}

	err = c.arenaCall(ctx, http.MethodPost, "/api/upload/complete-multipart", nil, "",
		arena.CompleteMultipartRequest{UploadID: mp.UploadID, ObjectKey: mp.ObjectKey, PartETags: etags}, nil, "complete-multipart")
	if err != nil {
		return att, err
	}
	att.ObjectKey = mp.ObjectKey
	return att, nil
}

func (c *Client) putPart(ctx context.Context, part arena.PartItem, chunk []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, part.UploadURL, bytes.NewReader(chunk))
	if err != nil {
		return "", fmt.Errorf("create part request: %w", err)
	}
	resp, err := c.transfer.Do(req)
	if err != nil {
		return "", fmt.Errorf("Part %d upload failed: %w", part.Number, err)
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("Part %d upload failed: %d", part.Number, resp.StatusCode)
	}
	// Object stores quote their etags.
	etag := resp.Header.Get("ETag")
	if len(etag) >= 2 && strings.HasPrefix(etag, `"`) && strings.HasSuffix(etag, `"`) {
		etag = etag[1 : len(etag)-1]
	}
	return etag, nil
}

// PrepareAttachments uploads files and waits until each is ingested as a
// project document. The returned attachments carry their drive item ids.
// onStatus follows uploading, processing, then done or error.
func (c *Client) PrepareAttachments(ctx context.Context, poller *arena.Poller, projectID string, files []File, onStatus func(arena.UploadStatus)) ([]domain.Attachment, error) {
	report := func(s arena.UploadStatus) {
		if onStatus != nil {
			onStatus(s)
		}
	}
	if len(files) == 0 {
		return nil, nil
	}

	report(arena.UploadUploading)
	atts := make([]domain.Attachment, 0, len(files))
	for _, f := range files {
		att, err := c.Upload(ctx, f, nil)
		if err != nil {
			report(arena.UploadError)
			return nil, err
		}
		atts = append(atts, att)
	}
	if poller == nil {
		poller = arena.NewPoller(c)
	}
	return poller.EnsureReady(ctx, c.userID, projectID, atts, onStatus)
}
