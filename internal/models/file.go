// Package models defines the value types shared between storage and sync.
package models

import "time"

// FileMetadata describes one wiki file found on disk.
type FileMetadata struct {
	Path        string    `json:"path"`
	Fingerprint string    `json:"fingerprint"`
	UpdatedAt   time.Time `json:"updated_at"`
}
