// Package walberr defines the error taxonomy shared by the wlog, wdiff,
// diffmap, merge, convert and redo packages.
//
// All of these are fatal at the subsystem boundary: callers are expected to
// abort the current operation and propagate the error, not retry internally.
// End-of-stream while reading a pack is a normal return (io.EOF), never one
// of these.
package walberr

import "errors"

var (
	// ErrBadFormat reports a structural mismatch: bad magic, unsupported
	// version, or an unexpected sector type.
	ErrBadFormat = errors.New("walb: bad format")

	// ErrBadChecksum reports a header or record checksum mismatch.
	ErrBadChecksum = errors.New("walb: checksum mismatch")

	// ErrLsidMismatch reports that a concatenated wlog stream's LSIDs are
	// not contiguous.
	ErrLsidMismatch = errors.New("walb: lsid mismatch")

	// ErrUuidMismatch reports that a concatenated wlog stream's device
	// UUID changed mid-stream, or that wdiff inputs disagree when UUID
	// validation is enabled.
	ErrUuidMismatch = errors.New("walb: uuid mismatch")

	// ErrIncompatible reports that a target device's physical block size
	// cannot host the log's physical block size.
	ErrIncompatible = errors.New("walb: incompatible device")

	// ErrIoError wraps an underlying read/write/ioctl failure.
	ErrIoError = errors.New("walb: io error")

	// ErrArgError reports contradictory flags or invalid split
	// parameters, e.g. splitting a compressed record.
	ErrArgError = errors.New("walb: invalid argument")
)
