// Package errors defines the failure taxonomy for the module server:
// resolution failures, transform failures, watch failures, and optimizer
// failures. Each carries enough context to report the failing module and,
// where known, the plugin and source position.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ResolutionError indicates that no plugin or the default resolver could
// locate a module specifier. Non-fatal at the orchestrator level; handlers
// map it to a not-found response.
type ResolutionError struct {
	Specifier string
	Importer  string
}

// Error implements the error interface
func (re *ResolutionError) Error() string {
	if re.Importer != "" {
		return fmt.Sprintf("failed to resolve %q from %q", re.Specifier, re.Importer)
	}
	return fmt.Sprintf("failed to resolve %q", re.Specifier)
}

// TransformError indicates a plugin hook failed while processing a module.
// Fatal for the single request, reported with the offending plugin's name
// and, when available, the source position.
type TransformError struct {
	Plugin    string
	Hook      string
	ID        string
	Line      int
	Column    int
	Message   string
	Cause     error
	Timestamp time.Time
}

// Error implements the error interface
func (te *TransformError) Error() string {
	if te.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: plugin %s (%s): %s", te.ID, te.Line, te.Column, te.Plugin, te.Hook, te.Message)
	}
	return fmt.Sprintf("%s: plugin %s (%s): %s", te.ID, te.Plugin, te.Hook, te.Message)
}

// Unwrap returns the underlying hook error
func (te *TransformError) Unwrap() error {
	return te.Cause
}

// NewTransformError wraps a hook error with the plugin and module context.
// A PositionError anywhere in the cause chain has its line and column lifted
// onto the transform error.
func NewTransformError(plugin, hook, id string, cause error) *TransformError {
	te := &TransformError{
		Plugin:    plugin,
		Hook:      hook,
		ID:        id,
		Cause:     cause,
		Timestamp: time.Now(),
	}
	if cause != nil {
		te.Message = cause.Error()
		var pe *PositionError
		if stderrors.As(cause, &pe) {
			te.Line = pe.Line
			te.Column = pe.Column
			if pe.Cause != nil {
				// The position moves into the Line/Column fields; keep the
				// message to the underlying failure.
				te.Message = pe.Cause.Error()
			}
		}
	}
	return te
}

// PositionError attaches a source position to a hook failure. Hooks return
// it when they know where in the module the failure sits.
type PositionError struct {
	Line   int
	Column int
	Cause  error
}

// Error implements the error interface
func (pe *PositionError) Error() string {
	return fmt.Sprintf("%d:%d: %v", pe.Line, pe.Column, pe.Cause)
}

// Unwrap returns the underlying hook error
func (pe *PositionError) Unwrap() error {
	return pe.Cause
}

// WatchError indicates the underlying file notification primitive errored.
// Logged, and answered with a conservative full-reload broadcast.
type WatchError struct {
	Path  string
	Cause error
}

// Error implements the error interface
func (we *WatchError) Error() string {
	if we.Path != "" {
		return fmt.Sprintf("watch error for %s: %v", we.Path, we.Cause)
	}
	return fmt.Sprintf("watch error: %v", we.Cause)
}

// Unwrap returns the underlying watcher error
func (we *WatchError) Unwrap() error {
	return we.Cause
}

// OptimizerError indicates a package could not be pre-bundled. Logged
// per-package; the optimization batch continues.
type OptimizerError struct {
	Package string
	Cause   error
}

// Error implements the error interface
func (oe *OptimizerError) Error() string {
	return fmt.Sprintf("failed to pre-bundle %q: %v", oe.Package, oe.Cause)
}

// Unwrap returns the underlying optimizer error
func (oe *OptimizerError) Unwrap() error {
	return oe.Cause
}
