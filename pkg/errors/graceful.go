package errors

import (
	"context"
	"fmt"
	"os"

	"github.com/lememe/leme/logger"
)

// StartupError names the startup step that failed.
type StartupError struct {
	Operation string
	Err       error
}

func (s *StartupError) Error() string {
	return fmt.Sprintf("operation '%s' failed: %v", s.Operation, s.Err)
}

func (s *StartupError) Unwrap() error {
	return s.Err
}

func NewStartupError(operation string, err error) *StartupError {
	return &StartupError{
		Operation: operation,
		Err:       err,
	}
}

// ErrorHandler reports unrecoverable startup errors and hands the exit code
// back to main. Database unavailability is never routed through it.
type ErrorHandler struct {
	exitChannel chan int
}

func NewErrorHandler() *ErrorHandler {
	return &ErrorHandler{
		exitChannel: make(chan int, 1),
	}
}

func (eh *ErrorHandler) signal(code int) {
	select {
	case eh.exitChannel <- code:
	default:
	}
}

func (eh *ErrorHandler) FatalError(operation string, err error) {
	logger.Error("Fatal error", "error", NewStartupError(operation, err))
	eh.signal(1)
}

func (eh *ErrorHandler) ConfigError(configPath string, err error) {
	if os.IsNotExist(err) {
		logger.Error("Configuration file not found", "path", configPath, "error", err)
	} else {
		logger.Error("Failed to parse configuration file", "path", configPath, "error", err)
	}
	eh.signal(2)
}

func (eh *ErrorHandler) ValidationError(field string, err error) {
	logger.Error("Invalid configuration", "field", field, "error", err)
	eh.signal(2)
}

func (eh *ErrorHandler) WaitForExit() int {
	return <-eh.exitChannel
}

func (eh *ErrorHandler) Shutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
		logger.Info("Graceful shutdown initiated")
	default:
		logger.Warn("Unexpected shutdown")
	}
}
