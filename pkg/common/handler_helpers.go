package common

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ridepulse/dispatch/pkg/logger"
)

// HandleServiceError writes the HTTP response for a service error and
// reports whether it did. AppErrors keep their status and code; anything
// else is logged and answered as a 500 carrying fallbackMessage.
func HandleServiceError(c *gin.Context, err error, fallbackMessage string) bool {
	if err == nil {
		return false
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		AppErrorResponse(c, appErr)
		return true
	}

	logger.ErrorContext(c.Request.Context(), fallbackMessage, zap.Error(err))
	ErrorResponse(c, http.StatusInternalServerError, fallbackMessage)
	return true
}

// ParseUUIDParam parses a UUID path parameter, answering 400 on failure.
func ParseUUIDParam(c *gin.Context, param, displayName string) (uuid.UUID, bool) {
	raw := c.Param(param)
	if raw == "" {
		ErrorResponse(c, http.StatusBadRequest, displayName+" is required")
		return uuid.Nil, false
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "invalid "+displayName)
		return uuid.Nil, false
	}
	return id, true
}

// BindJSON binds the JSON body, answering 400 on failure.
func BindJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}
