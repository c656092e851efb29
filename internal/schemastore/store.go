// Package schemastore serves schema documents from a local directory laid out as
// <root>/<tenant>/<schema id>.{json,yaml,yml}.
package schemastore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"talk2data/internal/registry"
	"talk2data/internal/schemamodel"
)

// ErrSchemaNotFound is returned when no document exists for a key.
var ErrSchemaNotFound = errors.New("schema not found")

// ErrInvalidKey is returned for tenant or schema ids that are not plain names.
var ErrInvalidKey = errors.New("invalid schema key")

// Extensions lists the accepted document extensions in lookup order.
var Extensions = []string{".json", ".yaml", ".yml"}

// IsNotFoundErr reports whether err means the schema document does not exist.
func IsNotFoundErr(err error) bool {
	return errors.Is(err, ErrSchemaNotFound)
}

// DirStore reads schema documents from a directory tree.
type DirStore struct {
	root string
}

// NewDirStore returns a store rooted at root.
func NewDirStore(root string) *DirStore {
	return &DirStore{root: root}
}

// Root returns the store directory.
func (s *DirStore) Root() string {
	return s.root
}

// Path resolves the document path for key.
func (s *DirStore) Path(key registry.Key) (string, error) {
	dir, err := s.tenantDir(key.Tenant)
	if err != nil {
		return "", err
	}
	if err := validateName(key.SchemaID); err != nil {
		return "", err
	}
	for _, ext := range Extensions {
		path := filepath.Join(dir, key.SchemaID+ext)
		info, err := os.Stat(path)
		if err == nil && !info.IsDir() {
			return path, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("stat schema %s: %w", key, err)
		}
	}
	return "", fmt.Errorf("%w: %s", ErrSchemaNotFound, key)
}

// Loader returns a document loader for key. Resolution happens when the loader runs.
func (s *DirStore) Loader(key registry.Key) schemamodel.Loader {
	return func() (schemamodel.Document, error) {
		path, err := s.Path(key)
		if err != nil {
			return schemamodel.Document{}, err
		}
		return schemamodel.FileLoader(path)()
	}
}

// LoadFunc returns a registry loader for key. The schema id becomes the default model name.
func (s *DirStore) LoadFunc(key registry.Key, opts ...schemamodel.ParseOption) registry.LoadFunc {
	opts = append([]schemamodel.ParseOption{schemamodel.WithName(key.SchemaID)}, opts...)
	return registry.DocumentLoader(s.Loader(key), opts...)
}

// List returns the sorted schema ids stored for tenant.
func (s *DirStore) List(tenant string) ([]string, error) {
	dir, err := s.tenantDir(tenant)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list schemas in %s: %w", dir, err)
	}

	seen := make(map[string]struct{})
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := filepath.Ext(name)
		if !isDocumentExt(ext) {
			continue
		}
		id := strings.TrimSuffix(name, ext)
		if id == "" || strings.HasPrefix(id, ".") {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *DirStore) tenantDir(tenant string) (string, error) {
	if tenant == "" {
		return s.root, nil
	}
	if err := validateName(tenant); err != nil {
		return "", err
	}
	return filepath.Join(s.root, tenant), nil
}

func validateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty name", ErrInvalidKey)
	case name == "." || strings.Contains(name, ".."):
		return fmt.Errorf("%w: %q", ErrInvalidKey, name)
	case strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidKey, name)
	}
	return nil
}

func isDocumentExt(ext string) bool {
	for _, candidate := range Extensions {
		if strings.EqualFold(ext, candidate) {
			return true
		}
	}
	return false
}
