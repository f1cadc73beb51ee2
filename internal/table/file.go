package table

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"

	"github.com/maraichr/cellforge/pkg/models"
)

// Format is a supported workbook encoding.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	case ".csv":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// ContentType is the MIME type used when storing the format as an object.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// LoadFile reads a workbook from disk.
func LoadFile(path string) (*Table, Format, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	t, err := Load(f, format)
	if err != nil {
		return nil, "", fmt.Errorf("load %s: %w", path, err)
	}
	return t, format, nil
}

// Load decodes a workbook stream. The first row is the header; a table with
// a header and no data rows is ErrNoData.
func Load(r io.Reader, format Format) (*Table, error) {
	var (
		records [][]string
		err     error
	)
	switch format {
	case FormatXLSX:
		records, err = readXLSX(r)
	case FormatCSV:
		records, err = readCSV(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, ErrNoData
	}

	header := records[0]
	rows := make([][]any, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make([]any, len(header))
		for i := 0; i < len(header) && i < len(rec); i++ {
			row[i] = ParseValue(rec[i])
		}
		rows = append(rows, row)
	}
	return New(header, rows)
}

func readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoData
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	return rows, nil
}

// readCSV accepts UTF-8 (with or without BOM) and falls back to Windows-1252
// for anything that is not valid UTF-8.
func readCSV(r io.Reader) ([][]string, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	raw = bytes.TrimPrefix(raw, utf8BOM)
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrNoData
	}
	if !utf8.Valid(raw) {
		raw, err = charmap.Windows1252.NewDecoder().Bytes(raw)
		if err != nil {
			return nil, fmt.Errorf("decode csv: %w", err)
		}
	}

	cr := csv.NewReader(bytes.NewReader(raw))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	records, err := cr.ReadAll()
	if err != nil {
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			return nil, fmt.Errorf("parse csv line %d: %w", pe.Line, err)
		}
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	return records, nil
}

// Encode writes t in format.
func (t *Table) Encode(w io.Writer, format Format) error {
	switch format {
	case FormatXLSX:
		return t.writeXLSX(w)
	case FormatCSV:
		return t.writeCSV(w)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// SaveFile writes t to path, appending .xlsx when path has no extension.
// It returns the path actually written.
func (t *Table) SaveFile(path string) (string, error) {
	if filepath.Ext(path) == "" {
		path += ".xlsx"
	}
	format, err := FormatFromPath(path)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := t.Encode(&buf, format); err != nil {
		return "", err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("replace %s: %w", path, err)
	}
	return path, nil
}

func (t *Table) writeXLSX(w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	header := make([]any, len(t.columns))
	for i, c := range t.columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, row := range t.rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		vals := make([]any, len(row))
		copy(vals, row)
		if err := f.SetSheetRow(sheet, cell, &vals); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func (t *Table) writeCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.columns); err != nil {
		return err
	}
	rec := make([]string, len(t.columns))
	for _, row := range t.rows {
		for i, v := range row {
			rec[i] = models.Stringify(v)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
