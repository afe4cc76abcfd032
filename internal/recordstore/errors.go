package recordstore

import "errors"

// ErrNotFound is returned by Get* lookups when the record does not exist.
var ErrNotFound = errors.New("recordstore: not found")

// ErrStateConflict is returned by UpdateChallengeState when the
// challenge's current state does not match the caller's expected state
// — either because another writer already transitioned it, or because
// the requested edge is not in the transition table.
var ErrStateConflict = errors.New("recordstore: state conflict")

// ErrDuplicate is returned by CreateUser when the contact id is already
// taken. Display names are not checked for uniqueness.
var ErrDuplicate = errors.New("recordstore: duplicate")
