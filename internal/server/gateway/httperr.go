// Copyright 2025 the Conductor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/labstack/echo/v4"

	"github.com/tidemark-io/conductor/internal/server/errs"
)

// httpStatus maps the taxonomy onto HTTP. Everything outside the closed
// set is a 500.
func httpStatus(err error) int {
	switch errs.Code(err) {
	case errs.CodeClassificationInvalid:
		return http.StatusBadRequest
	case errs.CodeAuthzDenied:
		return http.StatusForbidden
	case errs.CodeExecutionNotFound:
		return http.StatusNotFound
	case errs.CodeCancelRejected:
		return http.StatusConflict
	case errs.CodeActivityFatal:
		return http.StatusUnprocessableEntity
	case errs.CodeActivityRetryable, errs.CodeDispatchFailed:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError renders a taxonomy error as a JSON problem body.
func respondError(c echo.Context, err error) error {
	code := errs.Code(err)
	message := "internal error"

	var ge *goerrors.Error
	if goerrors.As(err, &ge) {
		message = ge.Message
	}

	return c.JSON(httpStatus(err), map[string]any{
		"error":   message,
		"code":    code,
		"details": metadata(err),
	})
}

func metadata(err error) map[string]any {
	var ge *goerrors.Error
	if goerrors.As(err, &ge) && len(ge.Metadata) > 0 {
		return ge.Metadata
	}
	return nil
}
