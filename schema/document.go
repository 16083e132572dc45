package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Document is one immutable supergraph text.
type Document struct {
	// SDL is the raw supergraph document.
	SDL string `json:"-"`
	// Version is assigned by the Reconciler and only ever increases.
	Version uint64 `json:"version"`
	// Checksum is the hex sha256 of SDL.
	Checksum string `json:"checksum"`
	// Source describes where the text came from (a path, "reload", "rollback:N").
	Source string `json:"source"`
	// LoadedAt is when the text was read.
	LoadedAt time.Time `json:"loaded_at"`
}

// NewDocument wraps sdl into an unversioned Document.
func NewDocument(sdl, source string) *Document {
	return &Document{
		SDL:      sdl,
		Checksum: Checksum(sdl),
		Source:   source,
		LoadedAt: time.Now(),
	}
}

// Checksum returns the hex sha256 of sdl.
func Checksum(sdl string) string {
	sum := sha256.Sum256([]byte(sdl))
	return hex.EncodeToString(sum[:])
}

// withVersion returns a copy of d carrying version v.
func (d *Document) withVersion(v uint64) *Document {
	cp := *d
	cp.Version = v
	return &cp
}
