package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"syscall"

	"github.com/aws/smithy-go"
)

// Failure kinds. A *StorageError matches exactly one of them with errors.Is.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
	ErrDiskFull         = errors.New("no space left on device")
	ErrTimeout          = errors.New("operation timed out")
	ErrThrottled        = errors.New("rate limited")
	ErrAuth             = errors.New("authentication failed") // bad or missing cloud credentials
	ErrAccessDenied     = errors.New("access denied")         // valid credentials, no grant
	ErrNetwork          = errors.New("network error")
	ErrUnclassified     = errors.New("storage error")
)

// StorageError is returned by every Saver operation that fails in the
// underlying store.
type StorageError struct {
	Kind error  // one of the Err* kinds above
	Op   string // init, write, read or list
	Path string // key or root, may be empty
	Err  error
}

func (e *StorageError) Error() string {
	where := e.Op
	if e.Path != "" {
		where += " " + e.Path
	}
	return fmt.Sprintf("%s: %v: %v", where, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return e.Kind == target }

func wrap(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Kind: classify(err), Op: op, Path: path, Err: err}
}

// classify maps err to a kind. Typed errors (fs, errno, S3 API codes) are
// checked first; lode and the SDK sometimes only give us text.
func classify(err error) error {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return ErrPermissionDenied
	case errors.Is(err, fs.ErrNotExist):
		return ErrNotFound
	case errors.Is(err, syscall.ENOSPC):
		return ErrDiskFull
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	}
	var t interface{ Timeout() bool }
	if errors.As(err, &t) && t.Timeout() {
		return ErrTimeout
	}
	var api smithy.APIError
	if errors.As(err, &api) {
		if kind := kindForCode(api.ErrorCode()); kind != nil {
			return kind
		}
	}
	return classifyMessage(err.Error())
}

func kindForCode(code string) error {
	switch code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return ErrNotFound
	case "SlowDown", "Throttling", "ThrottlingException", "TooManyRequests", "RequestLimitExceeded":
		return ErrThrottled
	case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "InvalidToken":
		return ErrAuth
	case "AccessDenied", "AllAccessDisabled", "Forbidden":
		return ErrAccessDenied
	}
	return nil
}

var messageKinds = []struct {
	kind    error
	needles []string
}{
	{ErrPermissionDenied, []string{"permission denied", "eacces"}},
	{ErrNotFound, []string{"no such file", "does not exist", "not found", "nosuchkey", "nosuchbucket"}},
	{ErrDiskFull, []string{"no space left", "disk full", "quota exceeded"}},
	{ErrTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{ErrThrottled, []string{"slowdown", "rate exceeded", "throttl", "toomanyrequests"}},
	{ErrAuth, []string{"nocredentialproviders", "failed to retrieve credentials", "invalidaccesskeyid", "signaturedoesnotmatch", "expiredtoken", "unauthorized"}},
	{ErrAccessDenied, []string{"accessdenied", "access denied", "forbidden"}},
	{ErrNetwork, []string{"connection refused", "connection reset", "no route to host", "network is unreachable", "dial tcp", "no such host"}},
}

func classifyMessage(msg string) error {
	msg = strings.ToLower(msg)
	for _, mk := range messageKinds {
		for _, n := range mk.needles {
			if strings.Contains(msg, n) {
				return mk.kind
			}
		}
	}
	return ErrUnclassified
}
