package extraction

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileStore writes media blobs under a local root. Locators have the form
// /media/<chat>_<unixnano>.<ext> and are relative to the root.
type FileStore struct {
	root string
	now  func() time.Time
}

func NewFileStore(root string) *FileStore {
	return &FileStore{root: root, now: time.Now}
}

func (s *FileStore) Put(ctx context.Context, chatID, mimeType string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.root, 0o750); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}

	name := fmt.Sprintf("%s_%d%s", sanitize(chatID), s.now().UnixNano(), extension(mimeType))
	if err := os.WriteFile(filepath.Join(s.root, name), data, 0o640); err != nil {
		return "", fmt.Errorf("write media: %w", err)
	}
	return "/media/" + name, nil
}

// Path resolves a locator back to a file path under the root.
func (s *FileStore) Path(locator string) string {
	return filepath.Join(s.root, filepath.Base(locator))
}

func extension(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	switch strings.TrimSpace(base) {
	case "image/jpeg":
		return ".jpg"
	case "":
		return ".bin"
	}
	exts, err := mime.ExtensionsByType(base)
	if err != nil || len(exts) == 0 {
		return ".bin"
	}
	return exts[0]
}

func sanitize(s string) string {
	if s == "" {
		return "chat"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		}
		return '_'
	}, s)
}
