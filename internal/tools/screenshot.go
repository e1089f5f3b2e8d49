package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ScreenshotStore keeps a copy of every capture on disk.
type ScreenshotStore struct {
	Dir string
	Now func() time.Time
}

// Save writes data as screenshot_<unix-ms>.png and returns the path.
func (s *ScreenshotStore) Save(data []byte) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create screenshot dir: %w", err)
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	path := filepath.Join(s.Dir, fmt.Sprintf("screenshot_%d.png", now().UnixMilli()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}
