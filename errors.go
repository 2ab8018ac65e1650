package arcanedb

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by ArcaneDB APIs.
//
// Callers should use [errors.Is] to check error kinds:
//
//	if errors.Is(err, arcanedb.ErrConflict) { ... }
var (
	// ErrNotFound indicates the key is absent at the read timestamp.
	ErrNotFound = errors.New("arcanedb: not found")

	// ErrConflict indicates a visible intent owned by another transaction.
	// A lock wait that times out is reported as [ErrTimeout] instead; Commit
	// reports that case with [StatusConflict].
	ErrConflict = errors.New("arcanedb: conflict")

	// ErrAbort indicates OCC validation failed, or an intent write failed.
	// The transaction is no longer usable.
	ErrAbort = errors.New("arcanedb: abort")

	// ErrTimeout indicates a lock wait exceeded kLockTimeoutUs.
	ErrTimeout = errors.New("arcanedb: lock timeout")

	// ErrCorrupt indicates malformed persisted data (page, WAL record, or
	// page snapshot) was encountered during decode.
	ErrCorrupt = errors.New("arcanedb: corrupt")

	// ErrClosed indicates an operation was attempted on a closed DB, Txn,
	// or BufferPool.
	ErrClosed = errors.New("arcanedb: closed")

	// ErrInvalidArgument indicates a malformed key, option, or schema value.
	ErrInvalidArgument = errors.New("arcanedb: invalid argument")

	// ErrNotSupported indicates an operation with no code path in this
	// module (e.g. internal b-tree pages, which are not implemented).
	ErrNotSupported = errors.New("arcanedb: not supported")

	// ErrIO indicates a backend I/O failure from the PageStore or WAL.
	ErrIO = errors.New("arcanedb: io")
)

// Error is the uniform error type returned by ArcaneDB's public APIs.
//
// It carries structured context (page key, sort key, txn id) appended to the
// error message, the same shape as spec §7's error propagation rules:
//
//	arcanedb: conflict (page_key=1E txn_id=9123)
//
// Use [errors.As] to extract structured fields, [errors.Is] to check for a
// sentinel.
type Error struct {
	// PageKey is the leaf page key involved in the failure, when known.
	PageKey string

	// SortKey is the hex-encoded sort-key bytes involved in the failure,
	// when known.
	SortKey string

	// TxnID is the transaction id involved in the failure, when known.
	TxnID uint64

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	cause := e.cause()
	suffix := e.suffix()

	if suffix == "" {
		return cause
	}

	if cause == "" {
		return suffix
	}

	return cause + " " + suffix
}

// Unwrap returns the underlying error for [errors.Is] / [errors.As].
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

func (e *Error) cause() string {
	if e.Err == nil {
		return ""
	}

	return e.Err.Error()
}

func (e *Error) suffix() string {
	var parts []string

	if e.PageKey != "" {
		parts = append(parts, "page_key="+e.PageKey)
	}

	if e.SortKey != "" {
		parts = append(parts, "sort_key="+e.SortKey)
	}

	if e.TxnID != 0 {
		parts = append(parts, fmt.Sprintf("txn_id=%d", e.TxnID))
	}

	if len(parts) == 0 {
		return ""
	}

	out := "("
	for i, p := range parts {
		if i > 0 {
			out += " "
		}

		out += p
	}

	return out + ")"
}

// errOpt configures an [Error] during construction via [wrapErr].
type errOpt func(*Error)

func withPageKey(key string) errOpt {
	return func(e *Error) { e.PageKey = key }
}

func withSortKeyHex(hex string) errOpt {
	return func(e *Error) { e.SortKey = hex }
}

func withTxnID(id uint64) errOpt {
	return func(e *Error) { e.TxnID = id }
}

// wrapErr creates an [*Error] with optional structured context, inheriting
// and overriding context from an already-wrapped error the same way
// mddb.wrap does.
func wrapErr(err error, opts ...errOpt) error {
	if err == nil {
		return nil
	}

	existing := &Error{}
	isDirect := errors.As(err, &existing)

	if isDirect && len(opts) == 0 {
		return existing
	}

	e := &Error{Err: err}

	if isDirect {
		e.PageKey = existing.PageKey
		e.SortKey = existing.SortKey
		e.TxnID = existing.TxnID
		e.Err = existing.Err
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Status is a distinguished result carried alongside errors for operations
// that have more outcomes than "succeeded or failed" (spec §6).
type Status uint8

const (
	// StatusOk indicates success with no further distinguished outcome.
	StatusOk Status = iota
	// StatusCommit indicates a transaction committed successfully.
	StatusCommit
	// StatusAbort indicates a transaction aborted (OCC validation failure
	// or a failed intent write).
	StatusAbort
	// StatusConflict indicates a caller-visible lock/intent conflict.
	StatusConflict
	// StatusDeleted indicates the key is tombstoned at the read timestamp.
	// Internal signal; public reads surface this as [ErrNotFound].
	StatusDeleted
	// StatusRetry indicates the caller should retry the operation (e.g. a
	// reader overlapped a concurrent compaction/publish).
	StatusRetry
	// StatusTimeout indicates a lock wait exceeded its timeout.
	StatusTimeout
	// StatusEndOfBuf indicates an iterator has been exhausted.
	StatusEndOfBuf
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusOk:
		return "Ok"
	case StatusCommit:
		return "Commit"
	case StatusAbort:
		return "Abort"
	case StatusConflict:
		return "Conflict"
	case StatusDeleted:
		return "Deleted"
	case StatusRetry:
		return "Retry"
	case StatusTimeout:
		return "Timeout"
	case StatusEndOfBuf:
		return "EndOfBuf"
	default:
		return "Unknown"
	}
}
