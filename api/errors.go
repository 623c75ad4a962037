package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"docconvert/models"

	"github.com/gin-gonic/gin"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Status    int       `json:"status"`
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

var errUploadTooLarge = errors.New("upload exceeds maximum size")

func classify(err error) (int, string) {
	var verr *models.ValidationError
	switch {
	case errors.Is(err, models.ErrRateLimited):
		return http.StatusTooManyRequests, "Rate limit exceeded. Please try again later."
	case errors.As(err, &verr):
		msgs := make([]string, 0, len(verr.Errors))
		for _, e := range verr.Errors {
			msgs = append(msgs, e.Error())
		}
		return http.StatusBadRequest, strings.Join(msgs, ", ")
	case errors.Is(err, errUploadTooLarge):
		return http.StatusBadRequest, "File size exceeds maximum allowed size"
	case errors.Is(err, models.ErrJobNotFound):
		return http.StatusNotFound, "Document not found"
	case errors.Is(err, models.ErrNotCompleted):
		return http.StatusConflict, "Document conversion not completed"
	case models.IsStorageError(err):
		return http.StatusInternalServerError, "Error processing file"
	default:
		return http.StatusInternalServerError, "An unexpected error occurred"
	}
}

func abortWithError(c *gin.Context, err error) {
	status, message := classify(err)
	c.AbortWithStatusJSON(status, ErrorResponse{
		Status:    status,
		Error:     http.StatusText(status),
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}
