package documents

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"taxrecovery-backend/internal/shared/util"
)

// UploadFile is one incoming file from an HTTP upload.
type UploadFile struct {
	FileName  string
	MimeType  string
	SizeBytes int64
	Reader    io.Reader
}

// SpoolUpload writes an upload to a temp file under dir for a worker to
// consume and delete. Files over maxSize are rejected and nothing is left
// behind.
func SpoolUpload(dir string, f UploadFile, maxSize int64) (string, int64, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create upload dir: %w", err)
	}

	safe, err := util.SanitizeFileName(f.FileName)
	if err != nil {
		safe = "upload"
	}
	tmp, err := os.CreateTemp(dir, "doc-*-"+safe)
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	written, err := io.Copy(tmp, io.LimitReader(f.Reader, maxSize+1))
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("write temp file: %w", err)
	}
	if written > maxSize {
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("%w: %s exceeds size limit", ErrInvalidInput, f.FileName)
	}
	return filepath.Clean(tmp.Name()), written, nil
}
