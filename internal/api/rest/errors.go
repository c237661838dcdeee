package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	domain "github.com/oshokin/release-server/internal/domain/release"
	"github.com/oshokin/release-server/internal/logger"
)

// internalErrorMessage hides unexpected failures from clients.
const internalErrorMessage = "Internal server error"

// mapDomainError returns the status code and client message of err.
func mapDomainError(err error) (int, string) {
	message := domain.Message(err)

	switch {
	case message == "":
		return http.StatusInternalServerError, internalErrorMessage
	case errors.Is(err, domain.ErrMalformed), errors.Is(err, domain.ErrConflict):
		return http.StatusBadRequest, message
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, message
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, message
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, message
	case errors.Is(err, domain.ErrGone):
		return http.StatusGone, message
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, message
	case errors.Is(err, domain.ErrMisconfigured):
		return http.StatusInternalServerError, message
	default:
		return http.StatusInternalServerError, internalErrorMessage
	}
}

// respondError writes err as {"error": message} and aborts the chain.
func respondError(c *gin.Context, err error) {
	status, message := mapDomainError(err)
	if status == http.StatusInternalServerError {
		logger.ErrorKV(c.Request.Context(), "Request failed", "error", err)
	}

	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

// respondMessage writes a fixed client error.
func respondMessage(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}
