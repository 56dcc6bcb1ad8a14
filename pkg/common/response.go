package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response is the uniform JSON envelope for every REST endpoint.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// ErrorInfo describes a failure inside the envelope. ErrorCode is the
// machine-readable code clients switch on; Message is for humans.
type ErrorInfo struct {
	Code      int    `json:"code"`
	ErrorCode string `json:"error_code,omitempty"`
	Message   string `json:"message"`
}

// Meta carries pagination metadata.
type Meta struct {
	Limit      int   `json:"limit,omitempty"`
	Offset     int   `json:"offset,omitempty"`
	Total      int64 `json:"total,omitempty"`
	TotalPages int   `json:"total_pages,omitempty"`
}

// SuccessResponse sends a 200 with data.
func SuccessResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

// SuccessResponseWithMeta sends a 200 with data and pagination metadata.
func SuccessResponseWithMeta(c *gin.Context, data interface{}, meta *Meta) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data, Meta: meta})
}

// CreatedResponse sends a 201 with data.
func CreatedResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{Success: true, Data: data})
}

// ErrorResponse sends a failure envelope with the given status.
func ErrorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, Response{
		Success: false,
		Error:   &ErrorInfo{Code: statusCode, Message: message},
	})
}

// AppErrorResponse sends a failure envelope derived from an AppError.
func AppErrorResponse(c *gin.Context, err *AppError) {
	c.JSON(err.Code, Response{
		Success: false,
		Error:   &ErrorInfo{Code: err.Code, ErrorCode: err.ErrorCode, Message: err.Message},
	})
}
