package util

import "fmt"

// ResponseError is an error whose message is safe to show to the client.
type ResponseError struct {
	Msg     string
	Status  int
	Details map[string]string
}

func (e ResponseError) Error() string { return e.Msg }

func NewResponseError(status int, format string, args ...interface{}) error {
	return ResponseError{
		Msg:    fmt.Sprintf(format, args...),
		Status: status,
	}
}

func NewValidationError(status int, details map[string]string) error {
	return ResponseError{
		Msg:     "validation failed",
		Status:  status,
		Details: details,
	}
}
