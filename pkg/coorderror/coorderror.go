package coorderror

import (
	"errors"
	"fmt"
)

const (
	COORD_UNEXPECTED            = "DDLU"
	COORD_FEATURE_NOT_SUPPORTED = "DDLF"
	COORD_SEQUENTIAL_ESCALATION = "DDLS"
	COORD_REMOTE_EXECUTION      = "DDLR"
	COORD_PREPARE_FAILED        = "DDLP"
	COORD_CONCURRENT_INDEX      = "DDLC"
	COORD_CONNECTION_ERROR      = "DDLO"
	COORD_METADATA_CORRUPTION   = "DDLM"
	COORD_INVALID_CONFIG        = "DDLI"
	COORD_NOT_COORDINATOR       = "DDLN"
	COORD_TX_ABORTED            = "DDLA"
)

var existingErrorCodeMap = map[string]string{
	COORD_FEATURE_NOT_SUPPORTED: "Feature not supported",
	COORD_SEQUENTIAL_ESCALATION: "Cannot switch to sequential execution",
	COORD_REMOTE_EXECUTION:      "Remote execution failed",
	COORD_PREPARE_FAILED:        "Prepare transaction failed",
	COORD_CONCURRENT_INDEX:      "Concurrent index command failed",
	COORD_CONNECTION_ERROR:      "Connection error",
	COORD_METADATA_CORRUPTION:   "Metadata corruption",
	COORD_INVALID_CONFIG:        "Invalid configuration",
	COORD_NOT_COORDINATOR:       "Not a coordinator",
	COORD_TX_ABORTED:            "Transaction aborted",
}

func GetMessageByCode(errorCode string) string {
	rep, ok := existingErrorCodeMap[errorCode]
	if ok {
		return rep
	}
	return "Unexpected error"
}

var _ error = &CoordError{}

// CoordError carries a PostgreSQL-shaped error: code, message and optional
// detail and hint.
type CoordError struct {
	Err error

	ErrorCode string
	ErrDetail string
	ErrHint   string
}

func New(errorCode string, errorMsg string) *CoordError {
	return &CoordError{
		Err:       errors.New(errorMsg),
		ErrorCode: errorCode,
	}
}

func Newf(errorCode string, format string, a ...any) *CoordError {
	return &CoordError{
		Err:       fmt.Errorf(format, a...),
		ErrorCode: errorCode,
	}
}

// Wrap keeps err reachable through errors.Is / errors.As.
func Wrap(errorCode string, err error) *CoordError {
	return &CoordError{
		Err:       err,
		ErrorCode: errorCode,
	}
}

func (er *CoordError) WithDetail(detail string) *CoordError {
	er.ErrDetail = detail
	return er
}

func (er *CoordError) WithHint(hint string) *CoordError {
	er.ErrHint = hint
	return er
}

func (er *CoordError) Message() string {
	return er.Err.Error()
}

func (er *CoordError) Error() string {
	return fmt.Sprintf("Code: %s. Name: %s. Description: %s.",
		er.ErrorCode, GetMessageByCode(er.ErrorCode), er.Err)
}

func (er *CoordError) Unwrap() error {
	return er.Err
}

// HasCode reports whether err or anything it wraps is a CoordError with the
// given code.
func HasCode(err error, code string) bool {
	var ce *CoordError
	for err != nil {
		if !errors.As(err, &ce) {
			return false
		}
		if ce.ErrorCode == code {
			return true
		}
		err = ce.Err
	}
	return false
}

func As(err error) (*CoordError, bool) {
	var ce *CoordError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
