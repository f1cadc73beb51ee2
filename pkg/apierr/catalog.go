package apierr

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5"
)

// --- Common ---

func InvalidRequestBody() *Error {
	return New(CodeInvalidRequestBody, http.StatusBadRequest, "Invalid request body")
}

func InvalidID(entity string) *Error {
	return New(CodeInvalidID, http.StatusBadRequest, "Invalid "+entity+" ID")
}

func InternalError(cause error) *Error {
	return Wrap(CodeInternalError, http.StatusInternalServerError, "Internal server error", cause)
}

func NotImplemented(feature string) *Error {
	return New(CodeNotImplemented, http.StatusNotImplemented, feature+" is not implemented yet")
}

func Unauthorized() *Error {
	return New(CodeUnauthorized, http.StatusUnauthorized, "Authentication required")
}

// Forbidden lists the scopes that would have been accepted.
func Forbidden(scopes []string) *Error {
	return New(CodeForbidden, http.StatusForbidden, "Insufficient scope").WithField("scope", scopes)
}

// --- Run ---

// IsRunNotFound reports whether err is the run store's missing-row error.
func IsRunNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func RunNotFound() *Error {
	return New(CodeRunNotFound, http.StatusNotFound, "Run not found")
}

func InvalidRunID() *Error {
	return New(CodeInvalidRunID, http.StatusBadRequest, "Invalid run ID")
}

func RunCreateFailed(cause error) *Error {
	return Wrap(CodeRunCreateFailed, http.StatusInternalServerError, "Failed to create run", cause)
}

func RunListFailed(cause error) *Error {
	return Wrap(CodeRunListFailed, http.StatusInternalServerError, "Failed to list runs", cause)
}

func RunNotCancellable(status string) *Error {
	return New(CodeRunNotCancellable, http.StatusConflict, "Run is already "+status)
}

func CancelFailed(cause error) *Error {
	return Wrap(CodeCancelFailed, http.StatusInternalServerError, "Failed to cancel run", cause)
}

func ResultsListFailed(cause error) *Error {
	return Wrap(CodeResultsFailed, http.StatusInternalServerError, "Failed to list cell results", cause)
}

func QueueUnavailable() *Error {
	return New(CodeQueueUnavailable, http.StatusServiceUnavailable, "Run queue is not available")
}

func NoProgress() *Error {
	return New(CodeNoProgress, http.StatusNotFound, "No progress recorded for this run")
}

// --- Validation ---

func SourceRequired() *Error {
	return New(CodeSourceRequired, http.StatusBadRequest, "source is required").WithField("source", nil)
}

func ColumnsRequired() *Error {
	return New(CodeColumnsRequired, http.StatusBadRequest, "At least one column is required").WithField("columns", nil)
}

// InvalidRange names the bound that was rejected: start_row or end_row.
func InvalidRange(field string, value any) *Error {
	return New(CodeInvalidRange, http.StatusBadRequest, "start_row must be >= 0 and end_row must be greater than start_row").WithField(field, value)
}

func InvalidBatchSize(got int) *Error {
	return New(CodeInvalidBatchSize, http.StatusBadRequest, "batch_size must be positive").WithField("batch_size", got)
}

func InvalidTemperature(got float64) *Error {
	return New(CodeInvalidTemperature, http.StatusBadRequest, "temperature must be between 0 and 1").WithField("temperature", got)
}

func InvalidMaxTokens(got int) *Error {
	return New(CodeInvalidMaxTokens, http.StatusBadRequest, "max_tokens must be positive").WithField("max_tokens", got)
}

func UnknownBackend(name string) *Error {
	return New(CodeUnknownBackend, http.StatusBadRequest, "Backend "+name+" is not configured").WithField("backend", name)
}

func PromptRequired() *Error {
	return New(CodePromptRequired, http.StatusBadRequest, "user_prompt is required").WithField("user_prompt", nil)
}

func InvalidFilter(expression string, cause error) *Error {
	return Wrap(CodeInvalidFilter, http.StatusBadRequest, "Invalid filter expression: "+cause.Error(), cause).WithField("filter", expression)
}

// --- Workbook ---

func WorkbookNotFound() *Error {
	return New(CodeWorkbookNotFound, http.StatusNotFound, "Workbook not found")
}

func UnsupportedFormat() *Error {
	return New(CodeUnsupportedFormat, http.StatusBadRequest, "Workbook must be .xlsx, .xlsm or .csv")
}

func WorkbookUnreadable(cause error) *Error {
	return Wrap(CodeWorkbookUnreadable, http.StatusUnprocessableEntity, "Workbook could not be read", cause)
}

func FileRequired() *Error {
	return New(CodeFileRequired, http.StatusBadRequest, "File is required (multipart field 'file')")
}

func UploadFailed(cause error) *Error {
	return Wrap(CodeUploadFailed, http.StatusInternalServerError, "Failed to upload file", cause)
}

func StorageUnavailable() *Error {
	return New(CodeStorageUnavailable, http.StatusServiceUnavailable, "Object storage is not available")
}

// UnknownColumn reports a name from columns or context_columns (field).
func UnknownColumn(field, name string) *Error {
	return New(CodeUnknownColumn, http.StatusBadRequest, "Column "+name+" does not exist").WithField(field, name)
}

// --- Models ---

func ModelListFailed(cause error) *Error {
	return Wrap(CodeModelListFailed, http.StatusBadGateway, "Failed to list models", cause)
}

// --- Health ---

func DatabaseNotReady() *Error {
	return New(CodeDatabaseNotReady, http.StatusServiceUnavailable, "Database not ready")
}

func ValkeyNotReady() *Error {
	return New(CodeValkeyNotReady, http.StatusServiceUnavailable, "Valkey not ready")
}
