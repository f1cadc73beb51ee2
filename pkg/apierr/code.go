package apierr

// Code is a machine-readable error code returned in API responses.
type Code string

// Common errors.
const (
	CodeInvalidRequestBody Code = "INVALID_REQUEST_BODY"
	CodeInvalidID          Code = "INVALID_ID"
	CodeInternalError      Code = "INTERNAL_ERROR"
	CodeNotImplemented     Code = "NOT_IMPLEMENTED"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeForbidden          Code = "FORBIDDEN"
)

// Run errors.
const (
	CodeRunNotFound       Code = "RUN_NOT_FOUND"
	CodeInvalidRunID      Code = "INVALID_RUN_ID"
	CodeRunCreateFailed   Code = "RUN_CREATE_FAILED"
	CodeRunListFailed     Code = "RUN_LIST_FAILED"
	CodeRunNotCancellable Code = "RUN_NOT_CANCELLABLE"
	CodeCancelFailed      Code = "CANCEL_FAILED"
	CodeResultsFailed     Code = "RESULTS_LIST_FAILED"
	CodeQueueUnavailable  Code = "QUEUE_UNAVAILABLE"
	CodeNoProgress        Code = "NO_PROGRESS"
)

// Validation errors.
const (
	CodeSourceRequired     Code = "SOURCE_REQUIRED"
	CodeColumnsRequired    Code = "COLUMNS_REQUIRED"
	CodeInvalidRange       Code = "INVALID_RANGE"
	CodeInvalidBatchSize   Code = "INVALID_BATCH_SIZE"
	CodeInvalidTemperature Code = "INVALID_TEMPERATURE"
	CodeInvalidMaxTokens   Code = "INVALID_MAX_TOKENS"
	CodeUnknownBackend     Code = "UNKNOWN_BACKEND"
	CodePromptRequired     Code = "PROMPT_REQUIRED"
	CodeInvalidFilter      Code = "INVALID_FILTER"
)

// Workbook errors.
const (
	CodeWorkbookNotFound   Code = "WORKBOOK_NOT_FOUND"
	CodeUnsupportedFormat  Code = "UNSUPPORTED_FORMAT"
	CodeWorkbookUnreadable Code = "WORKBOOK_UNREADABLE"
	CodeFileRequired       Code = "FILE_REQUIRED"
	CodeUploadFailed       Code = "UPLOAD_FAILED"
	CodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"
	CodeUnknownColumn      Code = "UNKNOWN_COLUMN"
)

// Model errors.
const (
	CodeModelListFailed Code = "MODEL_LIST_FAILED"
)

// Health errors.
const (
	CodeDatabaseNotReady Code = "DATABASE_NOT_READY"
	CodeValkeyNotReady   Code = "VALKEY_NOT_READY"
)
