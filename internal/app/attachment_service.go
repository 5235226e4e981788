package app

import (
	"context"
	"io"

	"leilaochat/internal/assistant"
)

// FileUploader is the provider file-store surface the ingester consumes.
type FileUploader interface {
	UploadFile(ctx context.Context, filename, purpose string, content io.Reader) (string, error)
}

// UploadedFile is the pair returned per ingested file; the client sends
// these back with the next turn as attachment references.
type UploadedFile struct {
	Filename string `json:"filename"`
	FileID   string `json:"file_id"`
}

// AttachmentService forwards uploaded files to the provider file store.
// Images go up with the vision purpose so they can be referenced as
// inline image blocks; everything else is stored for file_search.
type AttachmentService struct {
	uploader FileUploader
}

func NewAttachmentService(uploader FileUploader) *AttachmentService {
	return &AttachmentService{uploader: uploader}
}

func (s *AttachmentService) Ingest(ctx context.Context, filename, mimeType string, content io.Reader) (*UploadedFile, error) {
	if filename == "" {
		return nil, ErrInvalidInput
	}

	purpose := assistant.PurposeAssistants
	if ClassifyAttachment(filename, mimeType) == AttachmentImage {
		purpose = assistant.PurposeVision
	}

	fileID, err := s.uploader.UploadFile(ctx, filename, purpose, content)
	if err != nil {
		return nil, err
	}
	return &UploadedFile{Filename: filename, FileID: fileID}, nil
}
