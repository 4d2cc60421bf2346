// Package images validates and probes base64 image uploads before they are
// injected into a thread's inbound queue.
package images

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	apperrors "github.com/coday/coday/internal/common/errors"
	"github.com/coday/coday/internal/events"
)

// maxUploadBytes bounds the decoded payload size.
const maxUploadBytes = 10 << 20

var allowedMimeTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// Processed describes an accepted upload.
type Processed struct {
	Filename  string `json:"filename"`
	MimeType  string `json:"mimeType"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	SizeBytes int    `json:"sizeBytes"`

	content string
}

// Block returns the image content block to hand to the runtime.
func (p Processed) Block() events.ContentBlock {
	return events.ContentBlock{
		Type:     events.ContentImage,
		Content:  p.content,
		MimeType: p.MimeType,
	}
}

// Processor decodes and validates uploads. Stateless and safe for concurrent use.
type Processor struct{}

// NewProcessor creates a Processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Process validates the base64 payload, checks the mime type against the
// decoded image format, and probes its dimensions.
func (p *Processor) Process(content, mimeType, filename string) (Processed, error) {
	if content == "" {
		return Processed{}, apperrors.BadRequest("content is required")
	}
	if !allowedMimeTypes[mimeType] {
		return Processed{}, apperrors.BadRequest(fmt.Sprintf("unsupported mime type %q", mimeType))
	}

	raw, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return Processed{}, apperrors.BadRequest("content is not valid base64")
	}
	if len(raw) > maxUploadBytes {
		return Processed{}, apperrors.BadRequest("image exceeds the 10MB upload limit")
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return Processed{}, apperrors.BadRequest("content is not a decodable image")
	}
	if "image/"+format != mimeType {
		return Processed{}, apperrors.BadRequest(
			fmt.Sprintf("mime type %q does not match image format %q", mimeType, format))
	}

	return Processed{
		Filename:  filename,
		MimeType:  mimeType,
		Width:     cfg.Width,
		Height:    cfg.Height,
		SizeBytes: len(raw),
		content:   content,
	}, nil
}
