package relay

import (
	"errors"
	"fmt"
	"regexp"
)

// Sentinel errors matched by the typed errors below via errors.Is.
var (
	ErrInputOpen          = errors.New("input open failed")
	ErrOutputOpen         = errors.New("output open failed")
	ErrStreamRead         = errors.New("stream read failed")
	ErrStreamWrite        = errors.New("stream write failed")
	ErrDuplicateSession   = errors.New("session already exists")
	ErrSessionNotFound    = errors.New("session not found")
	ErrInvalidSessionName = errors.New("invalid session name")
	ErrManagerClosed      = errors.New("session manager is shut down")
)

// InputOpenError reports that the source could not be opened.
type InputOpenError struct {
	Name   string
	Source string
	Err    error
}

func (e *InputOpenError) Error() string {
	return fmt.Sprintf("session %q: opening input %q: %v", e.Name, e.Source, e.Err)
}

func (e *InputOpenError) Unwrap() error        { return e.Err }
func (e *InputOpenError) Is(target error) bool { return target == ErrInputOpen }

// OutputOpenError reports that the target could not be opened.
type OutputOpenError struct {
	Name   string
	Target string
	Err    error
}

func (e *OutputOpenError) Error() string {
	return fmt.Sprintf("session %q: opening output %q: %v", e.Name, e.Target, e.Err)
}

func (e *OutputOpenError) Unwrap() error        { return e.Err }
func (e *OutputOpenError) Is(target error) bool { return target == ErrOutputOpen }

// StreamReadError reports a mid-session failure to read from the input.
type StreamReadError struct {
	Name string
	Err  error
}

func (e *StreamReadError) Error() string {
	return fmt.Sprintf("session %q: reading frame: %v", e.Name, e.Err)
}

func (e *StreamReadError) Unwrap() error        { return e.Err }
func (e *StreamReadError) Is(target error) bool { return target == ErrStreamRead }

// StreamWriteError reports a mid-session failure to write to the output.
type StreamWriteError struct {
	Name string
	Err  error
}

func (e *StreamWriteError) Error() string {
	return fmt.Sprintf("session %q: writing frame: %v", e.Name, e.Err)
}

func (e *StreamWriteError) Unwrap() error        { return e.Err }
func (e *StreamWriteError) Is(target error) bool { return target == ErrStreamWrite }

// DuplicateSessionError reports that a session of the same mode and name is
// already active.
type DuplicateSessionError struct {
	Name string
	Mode Mode
}

func (e *DuplicateSessionError) Error() string {
	return fmt.Sprintf("%s session %q already exists", e.Mode, e.Name)
}

func (e *DuplicateSessionError) Is(target error) bool { return target == ErrDuplicateSession }

// SessionNotFoundError reports that no session of the mode and name is
// registered.
type SessionNotFoundError struct {
	Name string
	Mode Mode
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("%s session %q not found", e.Mode, e.Name)
}

func (e *SessionNotFoundError) Is(target error) bool { return target == ErrSessionNotFound }

// InvalidSessionNameError reports a name that cannot be used as a registry
// key, directory name and stream path segment.
type InvalidSessionNameError struct {
	Name string
}

func (e *InvalidSessionNameError) Error() string {
	return fmt.Sprintf("invalid session name %q", e.Name)
}

func (e *InvalidSessionNameError) Is(target error) bool { return target == ErrInvalidSessionName }

var sessionNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// ValidateName checks that name is safe to use as a session name.
func ValidateName(name string) error {
	if !sessionNamePattern.MatchString(name) {
		return &InvalidSessionNameError{Name: name}
	}
	return nil
}
