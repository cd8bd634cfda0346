package breaker

import (
	"sales-service/internal/apperror"
)

// CountsAsFailure ignores client-facing errors: a declined card or a bad token
// says nothing about the dependency's health.
func CountsAsFailure(err error) bool {
	return err != nil && !apperror.IsClientFacing(err)
}

// PassThroughClientErrors is the fallback shared by every remote dependency.
// Client-facing errors reach the caller unchanged; everything else, including
// an open breaker, becomes the same unavailable error.
func PassThroughClientErrors[T any](err error) (T, error) {
	var zero T
	if apperror.IsClientFacing(err) {
		return zero, err
	}
	return zero, apperror.Unavailable(err)
}
