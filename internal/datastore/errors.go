package datastore

import "github.com/tphakala/wildwatch/internal/errors"

// Sentinel errors for store operations. Callers match them with errors.Is.
var (
	// ErrDeviceNotFound indicates the device id is not registered.
	ErrDeviceNotFound = errors.NewStd("device not found")

	// ErrReportNotFound indicates the requested report does not exist.
	ErrReportNotFound = errors.NewStd("report not found")

	// ErrInvalidTransition indicates a report status change that the
	// lifecycle does not allow.
	ErrInvalidTransition = errors.NewStd("invalid report status transition")

	// ErrNotInitialized indicates a store used before Open.
	ErrNotInitialized = errors.NewStd("database connection is not initialized")
)

// dbError wraps a gorm failure with store context
func dbError(err error, operation string) error {
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation).
		Build()
}

// notFound wraps a sentinel as a not-found error
func notFound(sentinel error, key string, value any) error {
	return errors.New(sentinel).
		Component("datastore").
		Category(errors.CategoryNotFound).
		Context(key, value).
		Build()
}
