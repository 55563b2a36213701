package handlers

import (
	"context"
	"net/http"

	"example.com/backstage/services/calendar/internal/errs"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// StatusFor maps an error to its HTTP status and error code
func StatusFor(err error) (int, string) {
	switch {
	case errs.IsValidation(err):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errs.IsNotFound(err):
		return http.StatusNotFound, "NOT_FOUND"
	case errs.IsConflict(err):
		return http.StatusConflict, "CONFLICT"
	case errs.IsStoreUnavailable(err):
		return http.StatusServiceUnavailable, "STORE_UNAVAILABLE"
	case errs.IsIndexUnavailable(err):
		return http.StatusServiceUnavailable, "INDEX_UNAVAILABLE"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "TIMEOUT"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

// respondError writes err as an ErrorResponse. Server-side failures are logged and
// their message is not exposed.
func respondError(c *gin.Context, err error) {
	status, code := StatusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Str("code", code).Msg("Request failed")
		if status == http.StatusInternalServerError {
			msg = "Internal server error"
		}
	}
	if txn := nrgin.Transaction(c); txn != nil {
		txn.NoticeError(err)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Message: msg, Code: code})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Message: err.Error(), Code: "INVALID_REQUEST"})
}

// requestContext carries the request's New Relic transaction, if any, into the
// context handed to services
func requestContext(c *gin.Context) context.Context {
	ctx := c.Request.Context()
	if txn := nrgin.Transaction(c); txn != nil {
		ctx = newrelic.NewContext(ctx, txn)
	}
	return ctx
}
