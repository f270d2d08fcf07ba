package cmd

import "fmt"

// ExitCodeError carries a process exit status through cobra. main exits
// with Code instead of the generic failure status.
type ExitCodeError struct {
	Code int
}

// NewExitCodeError returns an ExitCodeError for code.
func NewExitCodeError(code int) *ExitCodeError {
	return &ExitCodeError{Code: code}
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// configError wraps a config load failure with the file it came from.
func configError(err error) error {
	path := configPath
	if path == "" {
		path = "the default config"
	}
	return fmt.Errorf("failed to load config (%s): %w", path, err)
}
