package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// ErrOutOfMemory is the error returned when the arena backing a heap cannot supply the
// bytes needed to satisfy a growth request. Exhaustion is propagated to the caller and
// never retried internally- the consumer decides what to do about it.
var ErrOutOfMemory error = errors.New("out of memory")
