package credentials

import (
	"errors"
	"fmt"
)

// Error exposes methods useful for categorizing errors.
type Error interface {
	error

	// Temporary returns true if the Error might be the result of a transient condition, such as a
	// network timeout or a directory server returning 503. Callers (for example, a setup wizard)
	// typically offer a retry when Temporary returns true and ask the user to correct their
	// account details otherwise.
	Temporary() bool
}

var (
	// ErrLoginFailed indicates the directory rejected the account credentials or could not be
	// reached while logging in.
	ErrLoginFailed = NewError("directory login failed", false)
	// ErrDeviceNotFound indicates no resolvable session knows a complete credential for the
	// requested address. Every negative Resolve result matches this error.
	ErrDeviceNotFound = NewError("device credentials not found", false)
	// ErrPartialFetch indicates that one device's detail fetch failed during a batch build. The
	// device is skipped and the rest of the batch continues.
	ErrPartialFetch = NewError("device detail fetch failed", true)
	// ErrInvalidAddress indicates a hardware address could not be parsed.
	ErrInvalidAddress = errors.New("invalid hardware address")
)

type CredentialError struct {
	Err               error
	PossibleTemporary bool
}

func NewError(message string, temporary bool) error {
	return &CredentialError{Err: errors.New(message), PossibleTemporary: temporary}
}

func (e *CredentialError) Error() string {
	return e.Err.Error()
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

func (e *CredentialError) Temporary() bool {
	return e.PossibleTemporary
}

// LoginError wraps the reason a login attempt failed. It matches ErrLoginFailed.
type LoginError struct {
	// Account is a non-secret label for the account (typically the username and endpoint).
	Account string
	Err     error
}

func (e *LoginError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s for %s", ErrLoginFailed, e.Account)
	}
	return fmt.Sprintf("%s for %s: %s", ErrLoginFailed, e.Account, e.Err)
}

func (e *LoginError) Unwrap() error {
	return e.Err
}

func (e *LoginError) Is(target error) bool {
	return target == ErrLoginFailed
}

func (e *LoginError) Temporary() bool {
	return Temporary(e.Err)
}

// FetchStage names the step of the detail-fetch pipeline that failed.
type FetchStage string

const (
	StageListDevices   FetchStage = "list-devices"
	StageFactoryInfo   FetchStage = "factory-info"
	StageSpecification FetchStage = "specification"
	StageAssemble      FetchStage = "assemble"
)

// PartialFetchError records a per-device failure during a batch build. It matches ErrPartialFetch.
type PartialFetchError struct {
	DeviceID string
	Stage    FetchStage
	Err      error
}

func (e *PartialFetchError) Error() string {
	return fmt.Sprintf("%s: device %s: %s: %s", ErrPartialFetch, e.DeviceID, e.Stage, e.Err)
}

func (e *PartialFetchError) Unwrap() error {
	return e.Err
}

func (e *PartialFetchError) Is(target error) bool {
	return target == ErrPartialFetch
}

func (e *PartialFetchError) Temporary() bool {
	return Temporary(e.Err)
}

// NotFoundError is returned for addresses that no session can resolve. It matches
// ErrDeviceNotFound; Cause, if set, explains why.
type NotFoundError struct {
	Address string
	Cause   error
}

func (e *NotFoundError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", ErrDeviceNotFound, e.Address)
	}
	return fmt.Sprintf("%s: %s: %s", ErrDeviceNotFound, e.Address, e.Cause)
}

func (e *NotFoundError) Unwrap() error {
	return e.Cause
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrDeviceNotFound
}

// Temporary returns true if the lookup might succeed later, for example after a login that timed
// out.
func (e *NotFoundError) Temporary() bool {
	return Temporary(e.Cause)
}

// NotFound returns an error for address that matches ErrDeviceNotFound. If cause is not nil, it
// is also reachable through errors.Is and errors.As.
func NotFound(address string, cause error) error {
	return &NotFoundError{Address: address, Cause: cause}
}

// Temporary returns true if err indicates a condition that may resolve without user action.
func Temporary(err error) bool {
	var credErr Error
	if errors.As(err, &credErr) {
		return credErr.Temporary()
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) {
		return timeout.Timeout()
	}
	return false
}
