package logger

import (
	"errors"
	"fmt"
	"os"
)

// Configuration errors returned by Init.
var (
	ErrAppNameIsEmpty     = errors.New("log: AppName is required")
	ErrServiceNameIsEmpty = errors.New("log: ServiceName is required")
)

// ErrorHandler is installed as zerolog.ErrorHandler; a log line that cannot
// be written goes to stderr.
func ErrorHandler(err error) {
	_, _ = fmt.Fprintln(os.Stderr, "authsession: dropped log event:", err)
}
