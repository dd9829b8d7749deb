package errors

import (
	"errors"
	"fmt"
)

// Sentinels matched by the typed sensor errors through errors.Is.
var (
	ErrRegistration    = errors.New("sensor registration failed")
	ErrLookup          = errors.New("sensor lookup failed")
	ErrDeletion        = errors.New("sensor deletion failed")
	ErrPublish         = errors.New("reading publish failed")
	ErrSensorNotFound  = errors.New("sensor not found")
	ErrUnknownCategory = errors.New("unknown sensor category")
)

// RegistrationError reports that the inventory service did not acknowledge
// the creation of a sensor.
type RegistrationError struct {
	Name       string
	StatusCode int
	Err        error
}

func (e *RegistrationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("failed to create sensor %s: unexpected status %d", e.Name, e.StatusCode)
	}
	return fmt.Sprintf("failed to create sensor %s: %v", e.Name, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// Is matches ErrRegistration.
func (e *RegistrationError) Is(target error) bool { return target == ErrRegistration }

// LookupError reports a non-success response while reading the sensor inventory.
type LookupError struct {
	StatusCode int
	Err        error
}

func (e *LookupError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("failed to get sensors: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("failed to get sensors: %v", e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// Is matches ErrLookup.
func (e *LookupError) Is(target error) bool { return target == ErrLookup }

// DeletionError identifies the sensor whose deletion was rejected.
type DeletionError struct {
	SensorID   string
	StatusCode int
	Err        error
}

func (e *DeletionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("failed to delete sensor %s: unexpected status %d", e.SensorID, e.StatusCode)
	}
	return fmt.Sprintf("failed to delete sensor %s: %v", e.SensorID, e.Err)
}

func (e *DeletionError) Unwrap() error { return e.Err }

// Is matches ErrDeletion.
func (e *DeletionError) Is(target error) bool { return target == ErrDeletion }

// PublishError reports a connection, channel or publish fault in a broker
// connector. It is always transient: the sensor retries on its next tick.
type PublishError struct {
	Broker string
	Queue  string
	Stage  string
	Err    error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("%s publish to %s failed at %s: %v", e.Broker, e.Queue, e.Stage, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Is matches ErrPublish.
func (e *PublishError) Is(target error) bool { return target == ErrPublish }

// NewPublishError builds a PublishError for the given connector stage.
func NewPublishError(broker, queue, stage string, err error) error {
	if err == nil {
		return nil
	}
	return &PublishError{Broker: broker, Queue: queue, Stage: stage, Err: err}
}
