package schema

import (
	"sync/atomic"
	"time"

	"github.com/BaSui01/fedgateway/federation"
)

// Snapshot is one active schema: the document and its compiled supergraph.
// A Snapshot is never mutated after it is published.
type Snapshot struct {
	Document    *Document
	Supergraph  *federation.Supergraph
	InstalledAt time.Time
}

// Version is a nil-safe accessor for the document version.
func (s *Snapshot) Version() uint64 {
	if s == nil || s.Document == nil {
		return 0
	}
	return s.Document.Version
}

// Core holds the single active Snapshot.
type Core struct {
	current atomic.Pointer[Snapshot]
}

// NewCore creates an empty Core.
func NewCore() *Core {
	return &Core{}
}

// Current returns the active Snapshot, or nil before the first install.
func (c *Core) Current() *Snapshot {
	return c.current.Load()
}

// Ready reports whether a schema has been installed.
func (c *Core) Ready() bool {
	return c.current.Load() != nil
}

// install publishes s. Only the Reconciler calls it.
func (c *Core) install(s *Snapshot) *Snapshot {
	return c.current.Swap(s)
}
