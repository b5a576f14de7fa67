package arena

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/soyeahso/memarena/internal/domain"
)

// Ingestion states reported in memorylake_status.
const (
	StatusOkay    = "okay"
	StatusError   = "error"
	StatusInvalid = "invalid"
)

// Polling defaults.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultPollTimeout  = 5 * time.Minute
)

// UploadStatus is the progress reported while attachments are prepared.
type UploadStatus string

const (
	UploadIdle       UploadStatus = "idle"
	UploadUploading  UploadStatus = "uploading"
	UploadProcessing UploadStatus = "processing"
	UploadDone       UploadStatus = "done"
	UploadError      UploadStatus = "error"
)

// DocumentAPI is the subset of document calls the poller needs. Client and
// the memarena API client both implement it.
type DocumentAPI interface {
	CreateDocument(ctx context.Context, userID string, req CreateDocumentRequest) (*Document, error)
	DocumentStatus(ctx context.Context, userID, memorylakeDocID, supermemoryDocID string) (*DocumentStatus, error)
}

// Poller registers uploaded attachments as documents and waits for
// Memory Lake to finish ingesting them.
type Poller struct {
	API      DocumentAPI
	Interval time.Duration
	Timeout  time.Duration

	// Sleep and Now are replaceable for tests.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// NewPoller creates a poller with the default interval and ceiling.
func NewPoller(api DocumentAPI) *Poller {
	return &Poller{
		API:      api,
		Interval: DefaultPollInterval,
		Timeout:  DefaultPollTimeout,
		Sleep:    sleepCtx,
		Now:      time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnsureReady processes attachments in order and stops at the first failure.
// It returns the attachments with their drive item ids filled in.
func (p *Poller) EnsureReady(ctx context.Context, userID, projectID string, atts []domain.Attachment, onStatus func(UploadStatus)) ([]domain.Attachment, error) {
	report := func(s UploadStatus) {
		if onStatus != nil {
			onStatus(s)
		}
	}
	if len(atts) == 0 {
		return atts, nil
	}
	if strings.TrimSpace(projectID) == "" {
		return nil, errors.New("Arena profile or project is missing")
	}

	report(UploadProcessing)
	out := make([]domain.Attachment, len(atts))
	for i, att := range atts {
		ready, err := p.one(ctx, userID, projectID, att)
		if err != nil {
			report(UploadError)
			return nil, err
		}
		out[i] = ready
	}
	report(UploadDone)
	return out, nil
}

// FileName picks the document name for an attachment.
func FileName(att domain.Attachment) string {
	if att.Filename != "" {
		return att.Filename
	}
	if base := path.Base(att.ObjectKey); att.ObjectKey != "" && base != "/" && base != "." {
		return base
	}
	return "file"
}

func (p *Poller) one(ctx context.Context, userID, projectID string, att domain.Attachment) (domain.Attachment, error) {
	doc, err := p.API.CreateDocument(ctx, userID, CreateDocumentRequest{
		ProjectID: projectID,
		FileName:  FileName(att),
		ObjectKey: att.ObjectKey,
	})
	if err != nil {
		return att, err
	}
	if doc.MemorylakeDocumentID == "" || doc.SupermemoryDocumentID == "" {
		return att, errors.New("Create document response missing memorylake_document_id or supermemory_document_id")
	}
	if doc.DriveItemID != "" {
		att.DriveItemID = doc.DriveItemID
	}

	started := p.Now()
	for {
		st, err := p.API.DocumentStatus(ctx, userID, doc.MemorylakeDocumentID, doc.SupermemoryDocumentID)
		if err != nil && ctx.Err() != nil {
			return att, ctx.Err()
		}
		if err == nil {
			switch st.MemorylakeStatus {
			case StatusOkay:
				return att, nil
			case StatusError, StatusInvalid:
				return att, fmt.Errorf("Document processing failed (memorylake_status: %s)", st.MemorylakeStatus)
			}
		}
		if p.Now().Sub(started) >= p.Timeout {
			return att, errors.New("Document processing timed out")
		}
		if err := p.Sleep(ctx, p.Interval); err != nil {
			return att, err
		}
	}
}
