// Package storage defines the wiki file-system abstraction.
package storage

import "github.com/starford/wikigraph/internal/models"

// Provider is the interface for wiki file operations. All paths are relative
// to the wiki root and use forward slashes.
type Provider interface {
	// Root returns the absolute wiki root directory.
	Root() string
	// Extension returns the page file extension, including the dot.
	Extension() string
	// List returns metadata for every page file under dir.
	List(dir string) ([]models.FileMetadata, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Exists reports whether a regular file exists at path.
	Exists(path string) (bool, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
	// Move renames oldPath to newPath.
	Move(oldPath, newPath string) error
}
