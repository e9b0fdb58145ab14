// Package validator checks uploads before anything is stored or queued.
package validator

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/harleven/casedocs/internal/errs"
)

// Config bounds what the gateway accepts.
type Config struct {
	MaxFileSize  int64
	AllowedTypes map[string][]string // extension -> acceptable sniffed MIME types
}

// DefaultConfig accepts the document formats the pipeline can process.
func DefaultConfig(maxFileSize int64) *Config {
	return &Config{
		MaxFileSize: maxFileSize,
		AllowedTypes: map[string][]string{
			".pdf":  {"application/pdf"},
			".png":  {"image/png"},
			".jpg":  {"image/jpeg"},
			".jpeg": {"image/jpeg"},
			// DetectContentType reports plain text with a charset suffix.
			".txt": {"text/plain", "text/plain; charset=utf-8"},
		},
	}
}

// FileInfo describes a validated upload.
type FileInfo struct {
	Filename  string
	Size      int64
	Extension string
	MimeType  string
}

type DocumentValidator struct {
	config *Config
}

func NewDocumentValidator(config *Config) *DocumentValidator {
	if config == nil {
		config = DefaultConfig(50 << 20)
	}
	return &DocumentValidator{config: config}
}

// ValidateFile checks size, extension and sniffed content type. The
// declared Content-Type header is ignored; only file content counts.
func (v *DocumentValidator) ValidateFile(file *multipart.FileHeader) (*FileInfo, error) {
	info := &FileInfo{
		Filename:  file.Filename,
		Size:      file.Size,
		Extension: strings.ToLower(filepath.Ext(file.Filename)),
	}

	if file.Size > v.config.MaxFileSize {
		return nil, &errs.ValidationError{
			Field:   "size",
			Message: fmt.Sprintf("file size %d exceeds the %d byte limit", file.Size, v.config.MaxFileSize),
		}
	}
	if file.Size == 0 {
		return nil, &errs.ValidationError{Field: "size", Message: "file is empty"}
	}

	allowedMimes, ok := v.config.AllowedTypes[info.Extension]
	if !ok {
		return nil, &errs.ValidationError{
			Field:   "extension",
			Message: fmt.Sprintf("file type %q is not allowed", info.Extension),
		}
	}

	f, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	mimeType, err := detectMimeType(f)
	if err != nil {
		return nil, fmt.Errorf("detect content type: %w", err)
	}
	info.MimeType = normalizeMime(mimeType)

	for _, allowed := range allowedMimes {
		if normalizeMime(allowed) == info.MimeType {
			return info, nil
		}
	}
	return nil, &errs.ValidationError{
		Field:   "content",
		Message: fmt.Sprintf("content type %q does not match extension %q", mimeType, info.Extension),
	}
}

func detectMimeType(f multipart.File) (string, error) {
	buffer := make([]byte, 512)
	n, err := f.Read(buffer)
	if err != nil && err != io.EOF {
		return "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return http.DetectContentType(buffer[:n]), nil
}

// normalizeMime drops charset parameters so text/plain variants compare
// equal.
func normalizeMime(m string) string {
	if idx := strings.IndexByte(m, ';'); idx >= 0 {
		m = m[:idx]
	}
	return strings.TrimSpace(strings.ToLower(m))
}
