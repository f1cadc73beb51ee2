package table

import (
	"bytes"
	"context"
	"fmt"
	"io"
)

// Persister saves a table back to where it came from.
type Persister interface {
	Persist(ctx context.Context, t *Table) error
	Location() string
}

// LocalPersister writes to a file path.
type LocalPersister struct {
	Path string
}

func (p LocalPersister) Persist(_ context.Context, t *Table) error {
	_, err := t.SaveFile(p.Path)
	return err
}

func (p LocalPersister) Location() string { return p.Path }

// ObjectWriter is the part of an object store a persister needs.
type ObjectWriter interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
}

// ObjectPersister re-uploads the workbook under its object key.
type ObjectPersister struct {
	Objects ObjectWriter
	Key     string
	Format  Format
}

func (p ObjectPersister) Persist(ctx context.Context, t *Table) error {
	var buf bytes.Buffer
	if err := t.Encode(&buf, p.Format); err != nil {
		return fmt.Errorf("encode %s: %w", p.Key, err)
	}
	if err := p.Objects.Put(ctx, p.Key, &buf, int64(buf.Len()), p.Format.ContentType()); err != nil {
		return fmt.Errorf("upload %s: %w", p.Key, err)
	}
	return nil
}

func (p ObjectPersister) Location() string { return p.Key }

// ObjectReader is the part of an object store used to open workbooks.
type ObjectReader interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// Objects is an object store that can both open and save workbooks.
type Objects interface {
	ObjectReader
	ObjectWriter
}

// LoadObject reads a workbook stored under key; the format comes from the
// key's extension.
func LoadObject(ctx context.Context, objects ObjectReader, key string) (*Table, Format, error) {
	format, err := FormatFromPath(key)
	if err != nil {
		return nil, "", err
	}
	rc, err := objects.Get(ctx, key)
	if err != nil {
		return nil, "", err
	}
	defer rc.Close()

	t, err := Load(rc, format)
	if err != nil {
		return nil, "", fmt.Errorf("load %s: %w", key, err)
	}
	return t, format, nil
}
