package app

import "strings"

// AttachmentKind is the closed classification result for an uploaded file.
type AttachmentKind uint8

const (
	AttachmentImage AttachmentKind = iota
	AttachmentDocument
)

// AttachmentRef is a provider-assigned file id plus the client-declared
// metadata passed alongside a turn. It is never persisted.
type AttachmentRef struct {
	FileID   string `json:"file_id"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
}

var imageExtensions = []string{
	".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".tiff", ".svg",
}

// ClassifyAttachment decides whether a file is an image or a document.
// Priority: MIME prefix, then filename extension, then an "image"
// substring in the name. Every input maps to exactly one kind;
// unclassifiable files are documents.
func ClassifyAttachment(filename, mimeType string) AttachmentKind {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "image/") {
		return AttachmentImage
	}

	name := strings.ToLower(strings.TrimSpace(filename))
	for _, ext := range imageExtensions {
		if strings.HasSuffix(name, ext) {
			return AttachmentImage
		}
	}
	if strings.Contains(name, "image") {
		return AttachmentImage
	}
	return AttachmentDocument
}
