// Package documents lists the source documents behind the index and serves
// the original files.
package documents

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	apperrors "github.com/finresearch/research-assistant/internal/pkg/errors"
	"github.com/finresearch/research-assistant/internal/pkg/logger"
)

// Document statuses.
const (
	StatusAvailable = "available"
	StatusMissing   = "missing"
)

// Info describes one source document.
type Info struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	FileSize *int64 `json:"file_size,omitempty"`
}

// NameLister returns the distinct document names held in the index.
type NameLister interface {
	DocumentNames(ctx context.Context) ([]string, error)
}

// Catalog joins the indexed document names with the files on disk.
type Catalog struct {
	index NameLister
	dir   string
	log   *logger.Logger
}

// NewCatalog creates a catalog. index may be nil, in which case only the
// directory is listed.
func NewCatalog(index NameLister, dir string, log *logger.Logger) *Catalog {
	if log == nil {
		log = logger.Default()
	}
	return &Catalog{
		index: index,
		dir:   dir,
		log:   log.WithComponent("documents"),
	}
}

// List returns the documents sorted by name. When the index cannot be read
// the PDFs in the directory are listed instead.
func (c *Catalog) List(ctx context.Context) ([]Info, error) {
	log := c.log.WithContext(ctx)

	var names []string
	if c.index != nil {
		indexed, err := c.index.DocumentNames(ctx)
		if err == nil {
			names = indexed
		} else {
			log.WithError(err).Warn("Listing indexed documents failed, using directory")
		}
	}
	if names == nil {
		fromDisk, err := c.pdfsOnDisk()
		if err != nil {
			return nil, apperrors.InternalError("could not list documents", err)
		}
		names = fromDisk
	}

	names = slices.Clone(names)
	slices.Sort(names)
	names = slices.Compact(names)

	docs := make([]Info, 0, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		info := Info{Name: name, Status: StatusMissing}
		if st, err := os.Stat(filepath.Join(c.dir, filepath.Base(name))); err == nil && st.Mode().IsRegular() {
			size := st.Size()
			info.Status = StatusAvailable
			info.FileSize = &size
		}
		docs = append(docs, info)
	}

	log.Debug("Listed documents", "count", len(docs))
	return docs, nil
}

func (c *Catalog) pdfsOnDisk() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}

	names := []string{}
	for _, e := range entries {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Open returns the named PDF for download. Names with path separators or
// parent references are rejected.
func (c *Catalog) Open(name string) (*os.File, fs.FileInfo, error) {
	if err := ValidateFilename(name); err != nil {
		return nil, nil, err
	}

	f, err := os.Open(filepath.Join(c.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, apperrors.NotFoundError("document")
	}
	if err != nil {
		return nil, nil, apperrors.InternalError("could not open document", err)
	}

	st, err := f.Stat()
	if err != nil || !st.Mode().IsRegular() {
		f.Close()
		if err == nil {
			return nil, nil, apperrors.NotFoundError("document")
		}
		return nil, nil, apperrors.InternalError("could not open document", err)
	}
	return f, st, nil
}

// ValidateFilename checks a download name.
func ValidateFilename(name string) error {
	switch {
	case name == "" || name == "." || strings.Contains(name, ".."):
		return apperrors.ValidationError("filename: invalid", nil)
	case strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0):
		return apperrors.ValidationError("filename: invalid", nil)
	case !strings.EqualFold(filepath.Ext(name), ".pdf"):
		return apperrors.ValidationError("filename: only PDF files are available", nil)
	}
	return nil
}
