package table

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maraichr/cellforge/pkg/models"
)

type memObjects struct {
	data  map[string][]byte
	types map[string]string
}

func newMemObjects() *memObjects {
	return &memObjects{data: map[string][]byte{}, types: map[string]string{}}
}

func (m *memObjects) Get(_ context.Context, key string) (io.ReadCloser, error) {
	b, ok := m.data[key]
	if !ok {
		return nil, errors.New("missing " + key)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memObjects) Put(_ context.Context, key string, r io.Reader, size int64, contentType string) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if int64(len(b)) != size {
		return errors.New("size mismatch")
	}
	m.data[key] = b
	m.types[key] = contentType
	return nil
}

func TestStore_OpenObjectAutoPersist(t *testing.T) {
	objs := newMemObjects()
	objs.data["uploads/people.csv"] = []byte("Name,Age\nJohn,30\nJane,25\n")

	s := NewStore(nil)
	require.NoError(t, s.OpenObject(context.Background(), objs, "uploads/people.csv"))
	assert.Equal(t, "people.csv", s.Meta().Name)

	applied, failed := s.WriteRange(context.Background(), []models.CellResult{
		{Row: 1, Column: "Name", Success: true, Value: "JANE"},
	}, true)
	require.Equal(t, 1, applied)
	require.Equal(t, 0, failed)

	assert.Equal(t, "Name,Age\nJohn,30\nJANE,25\n", string(objs.data["uploads/people.csv"]))
	assert.Equal(t, "text/csv", objs.types["uploads/people.csv"])
	assert.False(t, s.Meta().Modified)
}

func TestLoadObject_Errors(t *testing.T) {
	objs := newMemObjects()
	_, _, err := LoadObject(context.Background(), objs, "book.pdf")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, _, err = LoadObject(context.Background(), objs, "missing.xlsx")
	assert.Error(t, err)
}
