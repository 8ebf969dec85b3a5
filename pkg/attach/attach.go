// Package attach validates and prepares chat attachments. Two deployment
// variants exist and are kept separate on purpose: the inline path re-encodes
// the file as base64 and sends it over the live socket, the upload path posts
// multipart form data on the REST side channel. Each has its own size ceiling
// and MIME policy, enforced here before any network activity.
package attach

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/barchshimelis/supportchat/pkg/wire"
)

// Mode selects which attachment path a deployment uses.
type Mode string

const (
	ModeInline Mode = "inline"
	ModeUpload Mode = "upload"
)

const (
	// InlineMaxBytes caps the base64-over-socket path.
	InlineMaxBytes = 2 << 20
	// UploadMaxBytes caps the multipart upload path.
	UploadMaxBytes = 3 << 20
)

// inlineMimes is the exact allow-list for inline sends.
var inlineMimes = map[string]struct{}{
	"image/jpeg":      {},
	"image/png":       {},
	"image/gif":       {},
	"image/webp":      {},
	"application/pdf": {},
	"text/plain":      {},
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
}

// uploadPrefixes is the prefix allow-list for multipart uploads.
var uploadPrefixes = []string{"image/", "audio/", "video/"}

// ValidationError is a pre-flight rejection. It carries a user-facing
// reason; no network call was attempted.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// IsValidation reports whether err is a local pre-flight rejection.
func IsValidation(err error) bool {
	_, ok := err.(*ValidationError)
	return ok
}

// Validate checks size and MIME type against the policy of the given mode.
func Validate(mode Mode, mimeType string, size int64) error {
	switch mode {
	case ModeInline:
		if size > InlineMaxBytes {
			return &ValidationError{Reason: "file must be 2 MB or smaller"}
		}
		if _, ok := inlineMimes[strings.ToLower(mimeType)]; !ok {
			return &ValidationError{Reason: "file type not allowed"}
		}
	case ModeUpload:
		if size > UploadMaxBytes {
			return &ValidationError{Reason: "file must be 3 MB or smaller"}
		}
		mt := strings.ToLower(mimeType)
		allowed := false
		for _, p := range uploadPrefixes {
			if strings.HasPrefix(mt, p) {
				allowed = true
				break
			}
		}
		if !allowed {
			return &ValidationError{Reason: "only image, video, or audio files are allowed"}
		}
	default:
		return fmt.Errorf("unknown attachment mode %q", mode)
	}
	return nil
}

// InlineAction validates data against the inline policy and builds the
// socket action carrying the payload as base64 text.
func InlineAction(name, mimeType string, data []byte) (wire.FileAction, error) {
	if err := Validate(ModeInline, mimeType, int64(len(data))); err != nil {
		return wire.FileAction{}, err
	}
	return wire.FileAction{
		FileName: name,
		MimeType: mimeType,
		FileData: base64.StdEncoding.EncodeToString(data),
	}, nil
}

// DecodeInline recovers the binary payload of an inline file action.
func DecodeInline(a wire.FileAction) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(a.FileData)
	if err != nil {
		return nil, fmt.Errorf("decode inline attachment: %w", err)
	}
	return b, nil
}
