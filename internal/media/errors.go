package media

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"syscall"
)

// Stage identifies where in the upload pipeline an error occurred.
type Stage string

const (
	StageValidating Stage = "validating"
	StageSlug       Stage = "slug"
	StageWorkspace  Stage = "workspace"
	StageInput      Stage = "input"
	StageDuration   Stage = "duration"
	StagePackaging  Stage = "packaging"
	StageThumbnail  Stage = "thumbnail"
	StagePersist    Stage = "persist"
	StageCleanup    Stage = "cleanup"
)

// PipelineError wraps a failure with the stage the pipeline died in.
type PipelineError struct {
	Stage Stage
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("upload pipeline %s: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// StageOf extracts the pipeline stage from an error chain, or "unknown".
func StageOf(err error) Stage {
	var pipeErr *PipelineError
	if errors.As(err, &pipeErr) {
		return pipeErr.Stage
	}
	return "unknown"
}

// ValidationError reports a rejected upload request field. Validation happens
// before any filesystem or store mutation, so these never need rollback.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ExecError captures a failed external tool invocation. ExitCode is -1 when
// the process could not be started at all.
type ExecError struct {
	Tool     string
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExecError) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("%s %s: exit status %d: %s", e.Tool, strings.Join(e.Args, " "), e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("%s %s: %v", e.Tool, strings.Join(e.Args, " "), e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// InputRejected reports whether the tool ran to completion and refused the
// input, as opposed to failing to spawn. Only the former is attributable to
// the uploaded media.
func (e *ExecError) InputRejected() bool {
	return e.ExitCode > 0
}

// IsDiskFull reports whether the error chain contains an out-of-space errno.
func IsDiskFull(err error) bool {
	return errors.Is(err, syscall.ENOSPC)
}

// IsPermissionDenied reports whether the error chain is a filesystem
// permission failure.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, fs.ErrPermission) || errors.Is(err, syscall.EACCES)
}
