package files

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/nstogner/autoassist/pkg/store"
)

// Local implements store.FileStore on a directory of the local file system.
// Reads are confined to the upload and image directories.
type Local struct {
	imageDir string
	roots    []string
}

var _ store.FileStore = (*Local)(nil)

// New creates a Local store that writes generated images under imageDir and
// reads attachments and knowledge files from uploadDir. Relative paths are
// resolved against uploadDir.
func New(imageDir, uploadDir string) (*Local, error) {
	if err := os.MkdirAll(imageDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	var roots []string
	for _, dir := range []string{uploadDir, imageDir} {
		root, err := realPath(dir)
		if err != nil {
			return nil, err
		}
		roots = append(roots, root)
	}
	return &Local{imageDir: imageDir, roots: roots}, nil
}

func realPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", p, err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", p, err)
	}
	return real, nil
}

// resolve returns the real path of p if it lies inside one of the roots.
func (l *Local) resolve(p string) (string, error) {
	if !filepath.IsAbs(p) {
		p = filepath.Join(l.roots[0], p)
	}
	real, err := realPath(filepath.Clean(p))
	if err != nil {
		return "", err
	}
	for _, root := range l.roots {
		rel, err := filepath.Rel(root, real)
		if err != nil {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return real, nil
		}
	}
	return "", fmt.Errorf("%w: %s", store.ErrPathNotAllowed, p)
}

// ReadBase64 reads a file and returns its content base64 encoded.
func (l *Local) ReadBase64(path string) (string, error) {
	slog.Debug("Reading file", "path", path)
	real, err := l.resolve(path)
	if err != nil {
		slog.Warn("Refusing to read file", "path", path, "error", err)
		return "", err
	}
	data, err := os.ReadFile(real)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// SaveImage decodes base64 image data and writes it under the image directory.
// The extension follows the sniffed content type.
func (l *Local) SaveImage(data string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", fmt.Errorf("failed to decode image data: %w", err)
	}

	path := filepath.Join(l.imageDir, uuid.New().String()+extensionFor(http.DetectContentType(raw)))
	slog.Info("Writing image", "path", path, "size", len(raw))
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return "", fmt.Errorf("failed to write image: %w", err)
	}
	return path, nil
}

// Delete removes a file inside the served directories. Deleting a missing
// file is not an error.
func (l *Local) Delete(path string) (bool, error) {
	real, err := l.resolve(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	err = os.Remove(real)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete file: %w", err)
	}
	return true, nil
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
