package failure

import (
	"errors"
	"fmt"
)

const (
	CodeAttachFailed       = "ATTACH_FAILED"
	CodeLaunchFailed       = "LAUNCH_FAILED"
	CodeTabNotFound        = "TAB_NOT_FOUND"
	CodeNavigationTimeout  = "NAVIGATION_TIMEOUT"
	CodeDownloadTimeout    = "DOWNLOAD_TIMEOUT"
	CodeDownloadFailed     = "DOWNLOAD_FAILED"
	CodeRangeNotApplied    = "RANGE_NOT_APPLIED"
	CodeRangeMismatch      = "RANGE_MISMATCH"
	CodeStaleContent       = "STALE_CONTENT"
	CodePreconditionFailed = "PRECONDITION_FAILED"
	CodeControlNotFound    = "CONTROL_NOT_FOUND"
	CodeRetryExhausted     = "RETRY_EXHAUSTED"

	CodeValidation   = "VALIDATION"
	CodeNotFound     = "NOT_FOUND"
	CodeBusy         = "BUSY"
	CodeRateLimited  = "RATE_LIMITED"
	CodeIngestFailed = "INGEST_FAILED"
	CodeCDP          = "CDP_ERROR"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

func New(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// Newf is New with a formatted message and no cause.
func Newf(code, format string, args ...any) error {
	return &CodedError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the code of the outermost CodedError in err's chain, or "".
func CodeOf(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

// HasCode reports whether any CodedError in err's chain carries code.
func HasCode(err error, code string) bool {
	for err != nil {
		var coded *CodedError
		if !errors.As(err, &coded) {
			return false
		}
		if coded.Code == code {
			return true
		}
		err = coded.Cause
	}
	return false
}
