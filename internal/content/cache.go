// Package content implements the local filesystem cache for downloaded
// documents.
package content

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config captures the parameters for the content cache.
type Config struct {
	// BaseDir is the root directory where documents are stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

var safeName = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// Cache writes downloaded documents to the local filesystem, one file per
// record under {base}/{source}/{record-id}.pdf.
type Cache struct {
	baseDir string
}

// New creates a content cache rooted at cfg.BaseDir, creating the directory
// if needed and verifying it is writable.
func New(cfg Config) (*Cache, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
				return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
			}
		} else {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &Cache{baseDir: cfg.BaseDir}, nil
}

// Path returns the cache location a record's document would occupy.
func (c *Cache) Path(source, recordID string) string {
	return filepath.Join(c.baseDir,
		safeName.ReplaceAllString(source, "_"),
		safeName.ReplaceAllString(recordID, "_")+".pdf")
}

// Put writes document bytes for a record and returns the absolute path.
func (c *Cache) Put(source, recordID string, data []byte) (string, error) {
	if source == "" || recordID == "" {
		return "", fmt.Errorf("source and record id are required")
	}
	fullPath := c.Path(source, recordID)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("failed to create parent directories: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write document: %w", err)
	}
	return fullPath, nil
}

// Read returns the cached bytes at path.
func (c *Cache) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cached document: %w", err)
	}
	return data, nil
}

// Exists reports whether a cached file is still present on disk. The record
// store cannot stat files, so the pipeline uses this before trusting a
// stored local path.
func (c *Cache) Exists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
