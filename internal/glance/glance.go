// Package glance is the single-slot durable cache holding the latest
// received drawing for an out-of-process display surface (a widget). The
// reader polls on its own schedule, so both files are replaced atomically
// and the read path tolerates either file being stale or missing.
package glance

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"doodle-sync-backend/internal/models"
)

const (
	imageFilename    = "latest_drawing.png"
	metadataFilename = "drawing_metadata.json"
)

// Cache writes and reads the shared slot under one directory.
type Cache struct {
	dir string
}

// New creates a cache rooted at dir, creating the directory if needed.
func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create glance cache dir: %w", err)
	}
	return &Cache{dir: dir}, nil
}

func (c *Cache) imagePath() string    { return filepath.Join(c.dir, imageFilename) }
func (c *Cache) metadataPath() string { return filepath.Join(c.dir, metadataFilename) }

// writeAtomic writes data to a temp file in the slot directory and renames
// it over the canonical path, so a concurrent reader never observes a
// partial write.
func (c *Cache) writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(c.dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

// SaveLatest overwrites the slot with a rendering of the newest received
// drawing and its metadata. The two writes are independent: a failed image
// write does not block the metadata write, mirroring the tolerant read
// path.
func (c *Cache) SaveLatest(img image.Image, meta models.GlanceMetadata) error {
	var firstErr error

	if img != nil {
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			firstErr = fmt.Errorf("failed to encode glance image: %w", err)
		} else if err := c.writeAtomic(c.imagePath(), buf.Bytes()); err != nil {
			firstErr = err
		}
	}

	metaBytes, err := json.Marshal(meta)
	if err != nil {
		if firstErr == nil {
			firstErr = fmt.Errorf("failed to encode glance metadata: %w", err)
		}
		return firstErr
	}
	if err := c.writeAtomic(c.metadataPath(), metaBytes); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Load returns the cached image and metadata, each independently possibly
// absent. Callers must tolerate either being nil.
func (c *Cache) Load() (image.Image, *models.GlanceMetadata) {
	var img image.Image
	if f, err := os.Open(c.imagePath()); err == nil {
		decoded, _, err := image.Decode(f)
		f.Close()
		if err == nil {
			img = decoded
		}
	}

	var meta *models.GlanceMetadata
	if data, err := os.ReadFile(c.metadataPath()); err == nil {
		var m models.GlanceMetadata
		if err := json.Unmarshal(data, &m); err == nil {
			meta = &m
		}
	}

	return img, meta
}
