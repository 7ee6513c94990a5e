package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/prismgate/prismgate/internal/domain/entity"
	apperrors "github.com/prismgate/prismgate/pkg/errors"
)

// RequestIDKey is where middleware stores the per-request id.
const RequestIDKey = "request_id"

// ErrorBody is the uniform error response shape. Detail is a string for
// most errors and a list of field errors for validation failures.
type ErrorBody struct {
	Detail    interface{} `json:"detail"`
	ErrorCode string      `json:"error_code,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

// RequestID returns the id assigned by the middleware.
func RequestID(c *gin.Context) string {
	if id, ok := c.Get(RequestIDKey); ok {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}

// RespondError maps an error to its HTTP status and the uniform body.
func RespondError(c *gin.Context, err error) {
	appErr := apperrors.AsAppError(err)
	if appErr.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(appErr.RetryAfter))
	}
	c.AbortWithStatusJSON(appErr.HTTPStatus(), ErrorBody{
		Detail:    appErr.Message,
		ErrorCode: string(appErr.Code),
		RequestID: RequestID(c),
	})
}

// RespondValidation emits a 422 with the list-of-field-errors convention.
func RespondValidation(c *gin.Context, fields []entity.FieldError) {
	c.AbortWithStatusJSON(http.StatusUnprocessableEntity, ErrorBody{
		Detail:    fields,
		ErrorCode: string(apperrors.CodeValidation),
		RequestID: RequestID(c),
	})
}
