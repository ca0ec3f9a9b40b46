package handler

import (
	"errors"
	"net/http"

	"auth_session/internal/models"
	"auth_session/internal/provider"
	"auth_session/internal/service"

	"github.com/gin-gonic/gin"
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeBadInput      = "BAD_INPUT"
	TextCodeUnauthorized  = "UNAUTHORIZED"
	TextCodeForbidden     = "FORBIDDEN"
	TextCodeNotFound      = "NOT_FOUND"
	TextCodeConflict      = "CONFLICT"
	TextCodeAccountFailed = "ACCOUNT_CREATION_FAILED"
	TextCodeExternal      = "EXTERNAL_FAILURE"
	TextCodeInternal      = "INTERNAL"
)

type errorResponse struct {
	Message  string `json:"message"`
	TextCode string `json:"text_code"`
}

// httpError translates a domain error into a rich error carrying the status
// code and the message that is safe to show to the client.
func httpError(err error) (*goerrors.Error, string) {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich, http.StatusText(rich.Code)
	}

	var (
		message  string
		category goerrors.Category
		code     int
		textCode string
	)
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		message, category, code, textCode = "invalid input", goerrors.CategoryBadInput, http.StatusBadRequest, TextCodeBadInput
	case errors.Is(err, models.ErrUnauthenticated), errors.Is(err, provider.ErrForeignToken):
		message, category, code, textCode = "unauthenticated", goerrors.CategoryAuth, http.StatusUnauthorized, TextCodeUnauthorized
	case errors.Is(err, models.ErrForbidden):
		message, category, code, textCode = "forbidden", goerrors.CategoryAuthz, http.StatusForbidden, TextCodeForbidden
	case errors.Is(err, service.ErrUserNotFound):
		message, category, code, textCode = "user not found", goerrors.CategoryNotFound, http.StatusNotFound, TextCodeNotFound
	case errors.Is(err, models.ErrConflict):
		message, category, code, textCode = "user already exists", goerrors.CategoryConflict, http.StatusConflict, TextCodeConflict
	case errors.Is(err, models.ErrAccountCreationFailed):
		message, category, code, textCode = "failed to create account", goerrors.CategoryOperation, http.StatusBadRequest, TextCodeAccountFailed
	case errors.Is(err, provider.ErrUnsupportedProvider):
		message, category, code, textCode = "unsupported provider", goerrors.CategoryNotFound, http.StatusNotFound, TextCodeNotFound
	case errors.Is(err, provider.ErrEmailUnavailable):
		message, category, code, textCode = "provider returned no verified email", goerrors.CategoryExternal, http.StatusBadGateway, TextCodeExternal
	default:
		message, category, code, textCode = "internal error", goerrors.CategoryInternal, http.StatusInternalServerError, TextCodeInternal
	}

	return goerrors.Wrap(err, category, message).
		WithCode(code).
		WithTextCode(textCode), message
}

func newErrorResponse(c *gin.Context, err error) {
	rich, message := httpError(err)
	c.AbortWithStatusJSON(rich.Code, errorResponse{Message: message, TextCode: rich.TextCode})
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Message: message, TextCode: TextCodeBadInput})
}
