package persist

import (
	"bytes"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Store loads and saves documents.
type Store interface {
	// Load returns the stored document. A store that was never saved
	// yields an empty document.
	Load() (*Document, error)

	// Save replaces the stored document.
	Save(doc *Document) error
}

// Format names a file encoding.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FormatOf infers the format from a file extension. Anything that is not
// YAML is TOML.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatTOML
}

// ParseFormat validates a configured format name. The empty name selects
// the format by extension.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "", FormatTOML, FormatYAML:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// NewStore returns a file store for path. An empty format is inferred from
// the extension.
func NewStore(path string, format Format) (*FileStore, error) {
	if format == "" {
		format = FormatOf(path)
	}
	s := &FileStore{path: path, format: format}
	switch format {
	case FormatTOML:
		s.marshal = toml.Marshal
		s.unmarshal = toml.Unmarshal
	case FormatYAML:
		s.marshal = marshalYAML
		s.unmarshal = yaml.Unmarshal
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	return s, nil
}

// FileStore keeps a document in a single file.
type FileStore struct {
	path      string
	format    Format
	marshal   func(any) ([]byte, error)
	unmarshal func([]byte, any) error
}

// Path returns the file path.
func (s *FileStore) Path() string {
	return s.path
}

// Format returns the file encoding.
func (s *FileStore) Format() Format {
	return s.format
}

// Load reads the file. A missing or empty file yields an empty document.
func (s *FileStore) Load() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Document{}, nil
		}
		return nil, fmt.Errorf("reading store %s: %w", s.path, err)
	}

	doc := &Document{}
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, nil
	}
	if err := s.unmarshal(data, doc); err != nil {
		return nil, &ParseError{Path: s.path, Format: s.format, Err: err}
	}
	return doc, nil
}

// Save writes the file atomically: the document goes to a temporary file
// in the same directory which then replaces the old one.
func (s *FileStore) Save(doc *Document) error {
	if doc == nil {
		doc = &Document{}
	}
	data, err := s.marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding %s store: %w", s.format, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("writing store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("writing store: %w", err)
	}
	if err := os.Rename(name, s.path); err != nil {
		os.Remove(name)
		return fmt.Errorf("replacing store %s: %w", s.path, err)
	}
	return nil
}

func marshalYAML(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MemoryStore keeps a document in memory. Saved documents are copied so
// later mutation by the caller does not leak into the store.
type MemoryStore struct {
	doc *Document
}

// Load returns a copy of the last saved document.
func (m *MemoryStore) Load() (*Document, error) {
	if m.doc == nil {
		return &Document{}, nil
	}
	return cloneDocument(m.doc), nil
}

// Save stores a copy of doc.
func (m *MemoryStore) Save(doc *Document) error {
	if doc == nil {
		doc = &Document{}
	}
	m.doc = cloneDocument(doc)
	return nil
}

func cloneDocument(d *Document) *Document {
	out := &Document{Current: d.Current, Sessions: make([]SessionRecord, len(d.Sessions))}
	for i, s := range d.Sessions {
		rec := SessionRecord{ID: s.ID, Properties: maps.Clone(s.Properties), Groups: slices.Clone(s.Groups)}
		for _, bp := range s.Breakpoints {
			rec.Breakpoints = append(rec.Breakpoints, maps.Clone(bp))
		}
		out.Sessions[i] = rec
	}
	return out
}
