// Package errors provides structured error handling for chunkstack.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Ingestion errors (detection, extraction, chunking)
//   - 3XX: Embedding provider errors
//   - 4XX: Validation and query errors
//   - 5XX: Store and internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIngest indicates document detection, extraction, and chunking errors.
	CategoryIngest Category = "INGEST"
	// CategoryProvider indicates embedding provider errors.
	CategoryProvider Category = "PROVIDER"
	// CategoryValidation indicates input validation and query errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryStore indicates persistence errors.
	CategoryStore Category = "STORE"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"
	ErrCodeUnknownOption  = "ERR_103_UNKNOWN_OPTION"

	// Ingestion errors (200-299)
	ErrCodeDetectionFailed  = "ERR_201_DETECTION_FAILED"
	ErrCodeExtractionFailed = "ERR_202_EXTRACTION_FAILED"
	ErrCodeChunkingFailed   = "ERR_203_CHUNKING_FAILED"
	ErrCodeFileNotFound     = "ERR_204_FILE_NOT_FOUND"
	ErrCodeFileTooLarge     = "ERR_205_FILE_TOO_LARGE"

	// Provider errors (300-399)
	ErrCodeProviderTransient   = "ERR_301_PROVIDER_TRANSIENT"
	ErrCodeProviderRateLimited = "ERR_302_PROVIDER_RATE_LIMITED"
	ErrCodeProviderInvalid     = "ERR_303_PROVIDER_INVALID_INPUT"
	ErrCodeProviderFatal       = "ERR_304_PROVIDER_FATAL"
	ErrCodeDimensionMismatch   = "ERR_305_DIMENSION_MISMATCH"

	// Validation and query errors (400-499)
	ErrCodeInvalidInput = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidQuery = "ERR_402_INVALID_QUERY"
	ErrCodeQueryEmpty   = "ERR_403_QUERY_EMPTY"
	ErrCodeInvalidPath  = "ERR_404_INVALID_PATH"

	// Store and internal errors (500-599)
	ErrCodeStoreFailed     = "ERR_501_STORE_FAILED"
	ErrCodeCorruptIndex    = "ERR_502_CORRUPT_INDEX"
	ErrCodeInternal        = "ERR_503_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_504_EMBEDDING_FAILED"
	ErrCodeSearchFailed    = "ERR_505_SEARCH_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIngest
	case '3':
		return CategoryProvider
	case '4':
		return CategoryValidation
	case '5':
		if code == ErrCodeStoreFailed || code == ErrCodeCorruptIndex {
			return CategoryStore
		}
		return CategoryInternal
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeProviderFatal:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeProviderTransient, ErrCodeProviderRateLimited:
		return true
	default:
		return false
	}
}
