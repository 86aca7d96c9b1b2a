package dispatch

import "errors"

// Severity classifies a handler error for logging.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityInfo
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	default:
		return "error"
	}
}

type severityError struct {
	err error
	sev Severity
}

func (e *severityError) Error() string { return e.err.Error() }
func (e *severityError) Unwrap() error { return e.err }

// Info marks err as expected, e.g. a user cancelling an action. Nil stays nil.
func Info(err error) error {
	if err == nil {
		return nil
	}
	return &severityError{err: err, sev: SeverityInfo}
}

// Warn marks err as a warning. Nil stays nil.
func Warn(err error) error {
	if err == nil {
		return nil
	}
	return &severityError{err: err, sev: SeverityWarning}
}

// SeverityOf returns the severity err was marked with, SeverityError by default.
func SeverityOf(err error) Severity {
	var se *severityError
	if errors.As(err, &se) {
		return se.sev
	}
	return SeverityError
}
