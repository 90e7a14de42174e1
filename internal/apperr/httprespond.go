package apperr

import (
	"errors"
	"net/http"
)

// Respond writes err as a JSON error body with the Kind's mapped HTTP
// status, wrapping a plain error as INTERNAL first. Shared by every
// echo handler across the scheduler and engine HTTP surfaces.
func Respond(err error) (int, *Error) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus(), appErr
	}
	wrapped := Wrap(Internal, "unexpected error", err)
	return http.StatusInternalServerError, wrapped
}
