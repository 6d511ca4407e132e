// Package errkind classifies failures into the handful of kinds that
// drive retry, backoff, and exit-code decisions across the ingestor,
// processor, and deliverer. Call sites wrap an underlying error with
// the constructor matching its kind, then dispatch with errors.Is.
package errkind

import "errors"

var (
	// ErrTransient covers failures expected to clear on their own:
	// dropped connections, RPC timeouts, a momentarily unreachable
	// Redis or Postgres. Callers retry with backoff.
	ErrTransient = errors.New("transient dependency failure")

	// ErrPermanent covers failures that will not clear without
	// operator intervention: bad credentials, a missing database,
	// a malformed configuration value discovered at runtime.
	ErrPermanent = errors.New("permanent dependency failure")

	// ErrPoison marks a message that cannot be processed no matter
	// how many times it is retried: malformed stream payload, a log
	// that fails to decode. Poison messages are logged and
	// acknowledged rather than retried forever; they are not copied
	// to any dead-letter stream.
	ErrPoison = errors.New("poison message")

	// ErrConfig marks an invalid configuration discovered at startup.
	ErrConfig = errors.New("invalid configuration")

	// ErrDownstream marks a failure reported by a webhook endpoint
	// (non-2xx response, connection refused) as opposed to a failure
	// internal to the delivery pipeline.
	ErrDownstream = errors.New("downstream delivery failure")

	// ErrCircuitOpen marks a delivery attempt skipped because its
	// endpoint's circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit open")
)

// Transient wraps err so errors.Is(result, ErrTransient) holds.
func Transient(err error) error { return wrap(ErrTransient, err) }

// Permanent wraps err so errors.Is(result, ErrPermanent) holds.
func Permanent(err error) error { return wrap(ErrPermanent, err) }

// Poison wraps err so errors.Is(result, ErrPoison) holds.
func Poison(err error) error { return wrap(ErrPoison, err) }

// Config wraps err so errors.Is(result, ErrConfig) holds.
func Config(err error) error { return wrap(ErrConfig, err) }

// Downstream wraps err so errors.Is(result, ErrDownstream) holds.
func Downstream(err error) error { return wrap(ErrDownstream, err) }

// CircuitOpen wraps err so errors.Is(result, ErrCircuitOpen) holds.
// err may be nil, in which case ErrCircuitOpen is returned bare.
func CircuitOpen(err error) error {
	if err == nil {
		return ErrCircuitOpen
	}
	return wrap(ErrCircuitOpen, err)
}

func wrap(kind, err error) error {
	if err == nil {
		return kind
	}
	return &kindError{kind: kind, err: err}
}

type kindError struct {
	kind error
	err  error
}

func (e *kindError) Error() string { return e.kind.Error() + ": " + e.err.Error() }
func (e *kindError) Unwrap() []error { return []error{e.kind, e.err} }

// ExitCode maps a classified error to the process exit code convention
// described in spec.md §6: 0 clean shutdown, 1 configuration error, 2
// irrecoverable dependency at startup, 3 fatal loop exit. Startup
// dependency failures (DB/Redis ping) are decided by the caller before
// the main loop ever runs, so code 2 is assigned there directly rather
// than through this function; ExitCode only has to tell a config error
// apart from a permanent failure surfacing once the loop is running.
// Unclassified errors map to 1.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrConfig):
		return 1
	case errors.Is(err, ErrPermanent):
		return 3
	default:
		return 1
	}
}
