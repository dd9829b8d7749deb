// Package errors provides standardized error handling patterns for sensorsim.
//
// # Overview
//
// Errors fall into three classes: Transient (temporary, retryable), Invalid
// (bad input, non-retryable) and Fatal (stop the invoking command). The
// classification lets the simulator decide between "log and try again on the
// next tick" and "print a diagnostic and exit non-zero" without string matching
// at call sites.
//
// # Sensor Errors
//
// The inventory and broker collaborators report failures with typed errors:
//
//   - RegistrationError: the inventory did not acknowledge a create (fatal)
//   - LookupError: listing sensors returned a non-success response (fatal)
//   - DeletionError: one deletion was rejected; carries the SensorID (fatal)
//   - PublishError: connection, channel or publish fault (transient)
//
// Each unwraps to its cause and matches its sentinel:
//
//	if errors.Is(err, errors.ErrPublish) {
//	    // log and wait for the next tick
//	}
//
//	var de *errors.DeletionError
//	if errors.As(err, &de) {
//	    log.Printf("sensor %s could not be deleted", de.SensorID)
//	}
//
// # Error Wrapping Pattern
//
// All error wrapping follows the standardized format:
//
//	"component.method: action failed: cause"
//
// Use Wrap for plain context, or WrapTransient, WrapFatal and WrapInvalid to
// attach a class:
//
//	return errors.WrapInvalid(err, "Config", "Validate", "broker.kind")
//
// Packages importing this one alias the standard library as stderrors.
package errors
