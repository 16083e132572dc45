package schema

import (
	"fmt"
	"os"
	"strings"

	"github.com/BaSui01/fedgateway/types"
)

// Source yields the current supergraph text.
type Source interface {
	Load() (*Document, error)
}

// FileSource reads the supergraph from a file.
type FileSource struct {
	path string
}

// NewFileSource creates a FileSource for path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Path returns the file path.
func (s *FileSource) Path() string {
	return s.path
}

// Load reads the file. A missing, unreadable or blank file yields SCHEMA_UNAVAILABLE.
func (s *FileSource) Load() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, types.NewError(types.ErrSchemaUnavailable,
			fmt.Sprintf("cannot read supergraph %s", s.path)).WithCause(err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, types.NewError(types.ErrSchemaUnavailable,
			fmt.Sprintf("supergraph %s is empty", s.path))
	}
	return NewDocument(string(data), s.path), nil
}
