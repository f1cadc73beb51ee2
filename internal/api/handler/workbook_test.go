package handler

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/maraichr/cellforge/internal/table"
	"github.com/maraichr/cellforge/pkg/apierr"
	"github.com/maraichr/cellforge/pkg/models"
)

func multipartBody(t *testing.T, name, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte(content))
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestWorkbookHandler_Upload(t *testing.T) {
	objs := newObjects()
	h := NewWorkbookHandler(nil, objs)

	body, ct := multipartBody(t, "sales.csv", "Region,Total\nnorth,10\n")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/workbooks", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	h.Upload(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Key     string   `json:"key"`
		Rows    int      `json:"rows"`
		Columns []string `json:"columns"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if !strings.HasPrefix(resp.Key, "uploads/") || !strings.HasSuffix(resp.Key, "/sales.csv") {
		t.Errorf("key = %q", resp.Key)
	}
	if resp.Rows != 1 || len(resp.Columns) != 2 {
		t.Errorf("resp = %+v", resp)
	}
	if _, ok := objs.data[resp.Key]; !ok {
		t.Error("object not stored")
	}
}

func TestWorkbookHandler_Upload_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		code    apierr.Code
		want    int
	}{
		{"legacy xls", "old.xls", "whatever", apierr.CodeUnsupportedFormat, http.StatusBadRequest},
		{"empty csv", "empty.csv", "", apierr.CodeWorkbookUnreadable, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := multipartBody(t, tt.file, tt.content)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/workbooks", body)
			req.Header.Set("Content-Type", ct)
			w := httptest.NewRecorder()
			NewWorkbookHandler(nil, newObjects()).Upload(w, req)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, w.Code)
			}
			if resp := decodeError(t, w); resp.Error.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, resp.Error.Code)
			}
		})
	}
}

func TestWorkbookHandler_Upload_NoFile(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/workbooks", strings.NewReader(""))
	w := httptest.NewRecorder()
	NewWorkbookHandler(nil, newObjects()).Upload(w, req)
	if resp := decodeError(t, w); resp.Error.Code != apierr.CodeFileRequired {
		t.Errorf("expected code %s, got %s", apierr.CodeFileRequired, resp.Error.Code)
	}
}

func TestWorkbookHandler_NoStorage(t *testing.T) {
	w := httptest.NewRecorder()
	NewWorkbookHandler(nil, nil).List(w, httptest.NewRequest(http.MethodGet, "/api/v1/workbooks", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestWorkbookHandler_List(t *testing.T) {
	w := httptest.NewRecorder()
	NewWorkbookHandler(nil, newObjects()).List(w, httptest.NewRequest(http.MethodGet, "/api/v1/workbooks", nil))

	var resp struct {
		Bucket string `json:"bucket"`
		Total  int    `json:"total"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if w.Code != http.StatusOK || resp.Total != 1 || resp.Bucket != "workbooks" {
		t.Errorf("code=%d resp=%+v", w.Code, resp)
	}
}

func TestWorkbookHandler_Summary(t *testing.T) {
	w := httptest.NewRecorder()
	NewWorkbookHandler(nil, newObjects()).Summary(w, httptest.NewRequest(http.MethodGet, "/api/v1/workbooks/summary?key=uploads/people.csv", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Meta    table.Meta    `json:"meta"`
		Summary table.Summary `json:"summary"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Summary.Rows != 3 || resp.Summary.ColumnTypes["Age"] != table.TypeInteger {
		t.Errorf("summary = %+v", resp.Summary)
	}
}

func TestWorkbookHandler_Cells(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  int
		rows  []int
		code  apierr.Code
	}{
		{"open range", "?key=uploads/people.csv&columns=Name", http.StatusOK, []int{0, 1, 2}, ""},
		{"bounded with context", "?key=uploads/people.csv&columns=Name&context=City&start_row=1&end_row=2", http.StatusOK, []int{1}, ""},
		{"filtered", "?key=uploads/people.csv&columns=Name&filter=Age%20%3E%2026", http.StatusOK, []int{0, 2}, ""},
		{"no columns", "?key=uploads/people.csv", http.StatusBadRequest, nil, apierr.CodeColumnsRequired},
		{"bad range", "?key=uploads/people.csv&columns=Name&start_row=2&end_row=1", http.StatusBadRequest, nil, apierr.CodeInvalidRange},
		{"unknown column", "?key=uploads/people.csv&columns=Email", http.StatusBadRequest, nil, apierr.CodeUnknownColumn},
		{"missing key", "?columns=Name", http.StatusBadRequest, nil, apierr.CodeSourceRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			NewWorkbookHandler(nil, newObjects()).Cells(w, httptest.NewRequest(http.MethodGet, "/api/v1/workbooks/cells"+tt.query, nil))
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
			if tt.code != "" {
				if resp := decodeError(t, w); resp.Error.Code != tt.code {
					t.Errorf("expected code %s, got %s", tt.code, resp.Error.Code)
				}
				return
			}
			var resp struct {
				Cells []models.CellTask `json:"cells"`
			}
			json.NewDecoder(w.Body).Decode(&resp)
			if len(resp.Cells) != len(tt.rows) {
				t.Fatalf("cells = %+v", resp.Cells)
			}
			for i, row := range tt.rows {
				if resp.Cells[i].Row != row {
					t.Errorf("cell %d row = %d, want %d", i, resp.Cells[i].Row, row)
				}
			}
		})
	}
}
