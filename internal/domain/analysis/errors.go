package analysis

import (
	"context"
	"errors"
)

var (
	ErrInvalidRequest          = errors.New("invalid request")
	ErrRevisionNotFound        = errors.New("revision not found")
	ErrFetchUnavailable        = errors.New("fetch unavailable")
	ErrWorkspaceCorrupt        = errors.New("workspace corrupt")
	ErrWorkspaceUnavailable    = errors.New("workspace unavailable")
	ErrBusy                    = errors.New("busy")
	ErrToolExecutionFailed     = errors.New("tool execution failed")
	ErrTimeout                 = errors.New("timeout")
	ErrWorkspaceRootUnwritable = errors.New("workspace root unwritable")
	ErrCanceled                = errors.New("request canceled")
	ErrRunNotFound             = errors.New("run not found")
)

// Kind is the wire name of an error class.
type Kind string

const (
	KindInvalidRequest       Kind = "InvalidRequest"
	KindRevisionNotFound     Kind = "RevisionNotFound"
	KindFetchUnavailable     Kind = "FetchUnavailable"
	KindWorkspaceCorrupt     Kind = "WorkspaceCorrupt"
	KindWorkspaceUnavailable Kind = "WorkspaceUnavailable"
	KindBusy                 Kind = "Busy"
	KindToolExecutionFailed  Kind = "ToolExecutionFailed"
	KindTimeout              Kind = "Timeout"
	KindFatal                Kind = "Fatal"
	KindCanceled             Kind = "Canceled"
	KindNotFound             Kind = "NotFound"
	KindInternal             Kind = "Internal"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrInvalidRequest, KindInvalidRequest},
	{ErrRevisionNotFound, KindRevisionNotFound},
	{ErrFetchUnavailable, KindFetchUnavailable},
	{ErrWorkspaceCorrupt, KindWorkspaceCorrupt},
	{ErrWorkspaceUnavailable, KindWorkspaceUnavailable},
	{ErrBusy, KindBusy},
	{ErrToolExecutionFailed, KindToolExecutionFailed},
	{ErrTimeout, KindTimeout},
	{ErrWorkspaceRootUnwritable, KindFatal},
	{ErrCanceled, KindCanceled},
	{ErrRunNotFound, KindNotFound},
	{context.Canceled, KindCanceled},
}

// KindOf classifies err. Unknown errors are Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// IsFatal reports process-level errors after which no request can succeed.
func IsFatal(err error) bool {
	return errors.Is(err, ErrWorkspaceRootUnwritable)
}
