package fetch

import (
	"errors"
	"fmt"
)

// Kind is the error taxonomy every failed request is classified into.
// The fetch client classifies; callers decide policy (the session store
// decides invalidation, view models decide whether to keep stale data).
type Kind string

const (
	KindNetwork    Kind = "network"    // unreachable or timed out; retryable
	KindAuth       Kind = "auth"       // 401-equivalent; terminal for the call
	KindPermission Kind = "permission" // 403-equivalent; terminal
	KindServer     Kind = "server"     // 5xx-equivalent; retryable with backoff
	KindValidation Kind = "validation" // rejected input; surfaced inline, no retry
	KindUnknown    Kind = "unknown"    // anything else; retried once
)

// Error is a classified request failure.
type Error struct {
	Kind    Kind
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// KindOf extracts the classification from any error returned by the client.
// Unclassified errors report KindUnknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// retryable reports whether a failure of this kind may be retried at all.
// Auth, permission and validation failures are terminal and returned
// immediately.
func retryable(k Kind) bool {
	switch k {
	case KindNetwork, KindServer, KindUnknown:
		return true
	default:
		return false
	}
}

// classifyStatus maps an HTTP status to an error kind.
func classifyStatus(status int) Kind {
	switch {
	case status == 401:
		return KindAuth
	case status == 403:
		return KindPermission
	case status == 400 || status == 422:
		return KindValidation
	case status >= 500:
		return KindServer
	default:
		return KindUnknown
	}
}
