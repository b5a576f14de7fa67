// Package arena talks to the Arena backend: drive download URLs, document
// ingestion, multipart uploads and user profiles.
package arena

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/soyeahso/memarena/internal/logging"
	"github.com/soyeahso/memarena/internal/version"
)

// ErrNotConfigured is returned when no Arena base URL is set.
var ErrNotConfigured = errors.New("ARENA_API_BASE is not configured")

// APIError is a failed Arena call. Message is what the backend said, or a
// generic "<op> failed (<status>)" text.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string { return e.Message }

// Envelope is the response wrapper every Arena endpoint uses.
type Envelope struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	ErrorCode string          `json:"error_code,omitempty"`
}

// Client calls the Arena API on behalf of a user.
type Client struct {
	baseURL string
	client  *http.Client
	log     *logging.Logger
}

// NewClient creates an Arena client. An empty baseURL yields a client whose
// calls fail with ErrNotConfigured.
func NewClient(baseURL string, httpClient *http.Client, log *logging.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpClient,
		log:     log.Sub("arena"),
	}
}

// Configured reports whether a base URL is set.
func (c *Client) Configured() bool { return c.baseURL != "" }

// Response is a raw upstream reply, passed through by proxies.
type Response struct {
	Status int
	Body   []byte
}

// Do sends one request to path (with optional query) as userID. body is
// JSON-encoded when non-nil.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, userID string, body any) (*Response, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rd io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal arena request: %w", err)
		}
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, fmt.Errorf("create arena request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("arena %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read arena response: %w", err)
	}
	c.log.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).Msg("arena call")
	return &Response{Status: resp.StatusCode, Body: data}, nil
}

// call sends a request and unwraps the envelope into out. fallback names the
// operation in the generic failure message.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, userID string, body, out any, fallback string) error {
	resp, err := c.Do(ctx, method, path, query, userID, body)
	if err != nil {
		return err
	}
	return DecodeEnvelope(resp.Status, resp.Body, out, fallback)
}

// DecodeEnvelope checks an Arena reply and unwraps its data into out.
func DecodeEnvelope(status int, body []byte, out any, fallback string) error {
	var env Envelope
	_ = json.Unmarshal(body, &env)
	ok := status >= 200 && status < 300 && env.Success && len(env.Data) > 0 && string(env.Data) != "null"
	if !ok {
		msg := env.Message
		if msg == "" {
			msg = fmt.Sprintf("%s failed (%d)", fallback, status)
		}
		return &APIError{Status: status, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &APIError{Status: status, Message: fmt.Sprintf("%s: malformed response", fallback)}
	}
	return nil
}

// Download is a short-lived URL for a drive item plus the headers needed to
// fetch it.
type Download struct {
	URL     string            `json:"download_url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// DownloadURL exchanges a drive item id for a download URL.
func (c *Client) DownloadURL(ctx context.Context, itemID, userID string) (*Download, error) {
	var d Download
	path := "/api/v1/drives/items/" + url.PathEscape(itemID) + "/download-url"
	if err := c.call(ctx, http.MethodGet, path, nil, userID, nil, &d, "Get download URL"); err != nil {
		return nil, err
	}
	if d.URL == "" {
		return nil, &APIError{Status: http.StatusOK, Message: "Get download URL failed (200)"}
	}
	return &d, nil
}

// CreateDocumentRequest registers an uploaded object as a project document.
type CreateDocumentRequest struct {
	ProjectID string `json:"project_id"`
	FileName  string `json:"file_name"`
	ObjectKey string `json:"object_key"`
	UserID    string `json:"user_id,omitempty"`
}

// Document is the result of creating a document.
type Document struct {
	DriveItemID           string `json:"drive_item_id,omitempty"`
	FileName              string `json:"file_name,omitempty"`
	MemorylakeDocumentID  string `json:"memorylake_document_id,omitempty"`
	SupermemoryDocumentID string `json:"supermemory_document_id,omitempty"`
	CreatedAt             string `json:"created_at,omitempty"`
}

// DocumentStatus reports ingestion progress per backend.
type DocumentStatus struct {
	Status            string `json:"status,omitempty"`
	MemorylakeStatus  string `json:"memorylake_status,omitempty"`
	SupermemoryStatus string `json:"supermemory_status,omitempty"`
}

// Arena endpoints.
const (
	DocumentsPath         = "/api/v1/arena/documents"
	DocumentStatusPath    = "/api/v1/arena/documents/status"
	ProfilePath           = "/api/v1/arena/profile"
	CreateMultipartPath   = "/api/v1/upload/create-multipart"
	CompleteMultipartPath = "/api/v1/upload/complete-multipart"
)

// CreateDocument registers an uploaded object.
func (c *Client) CreateDocument(ctx context.Context, userID string, req CreateDocumentRequest) (*Document, error) {
	if req.UserID == "" {
		req.UserID = userID
	}
	var d Document
	if err := c.call(ctx, http.MethodPost, DocumentsPath, nil, userID, req, &d, "Create document"); err != nil {
		return nil, err
	}
	return &d, nil
}

// StatusQuery builds the query for a document status lookup.
func StatusQuery(memorylakeDocID, supermemoryDocID string) url.Values {
	return url.Values{
		"memorylake_document_id":  {memorylakeDocID},
		"supermemory_document_id": {supermemoryDocID},
	}
}

// DocumentStatus fetches ingestion status.
func (c *Client) DocumentStatus(ctx context.Context, userID, memorylakeDocID, supermemoryDocID string) (*DocumentStatus, error) {
	var s DocumentStatus
	q := StatusQuery(memorylakeDocID, supermemoryDocID)
	if err := c.call(ctx, http.MethodGet, DocumentStatusPath, q, userID, nil, &s, "Get document status"); err != nil {
		return nil, err
	}
	return &s, nil
}

// PartItem is one presigned part of a multipart upload.
type PartItem struct {
	Number    int    `json:"number"`
	Size      int64  `json:"size"`
	UploadURL string `json:"upload_url"`
}

// Multipart is a started multipart upload.
type Multipart struct {
	UploadID  string     `json:"upload_id"`
	ObjectKey string     `json:"object_key"`
	PartItems []PartItem `json:"part_items"`
}

// PartETag is the etag returned for one uploaded part.
type PartETag struct {
	Number int    `json:"number"`
	ETag   string `json:"etag"`
}

// CompleteMultipartRequest finishes a multipart upload.
type CompleteMultipartRequest struct {
	UploadID  string     `json:"upload_id"`
	ObjectKey string     `json:"object_key"`
	PartETags []PartETag `json:"part_eTags"`
}

// CreateMultipart starts an upload of size bytes.
func (c *Client) CreateMultipart(ctx context.Context, userID string, size int64) (*Multipart, error) {
	var m Multipart
	body := map[string]int64{"file_size": size}
	if err := c.call(ctx, http.MethodPost, CreateMultipartPath, nil, userID, body, &m, "create-multipart"); err != nil {
		return nil, err
	}
	return &m, nil
}

// CompleteMultipart finalizes an upload.
func (c *Client) CompleteMultipart(ctx context.Context, userID string, req CompleteMultipartRequest) error {
	resp, err := c.Do(ctx, http.MethodPost, CompleteMultipartPath, nil, userID, req)
	if err != nil {
		return err
	}
	return DecodeSuccess(resp.Status, resp.Body, "complete-multipart")
}

// DecodeSuccess checks an envelope that may carry no data.
func DecodeSuccess(status int, body []byte, fallback string) error {
	var env Envelope
	_ = json.Unmarshal(body, &env)
	if status >= 200 && status < 300 && env.Success {
		return nil
	}
	msg := env.Message
	if msg == "" {
		msg = env.ErrorCode
	}
	if msg == "" {
		msg = fmt.Sprintf("%s failed (%d)", fallback, status)
	}
	return &APIError{Status: status, Message: msg}
}
