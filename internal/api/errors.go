package api

import (
	"errors"
	"net/http"

	"github.com/annel0/tilegrid/internal/grid"
	"github.com/annel0/tilegrid/internal/volume"
	"github.com/gin-gonic/gin"
)

// statusFor переводит доменную ошибку в HTTP-статус
func statusFor(err error) int {
	switch {
	case errors.Is(err, volume.ErrTileNotFound):
		return http.StatusNotFound
	case errors.Is(err, grid.ErrIndexOutOfRange), errors.Is(err, grid.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, volume.ErrNotMovable), errors.Is(err, volume.ErrNotScalable),
		errors.Is(err, volume.ErrDuplicateTile), errors.Is(err, volume.ErrSocketLimit):
		return http.StatusConflict
	case errors.Is(err, volume.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (rs *RestServer) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= 500 {
		rs.log.Error("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, GenericResponse{
		Success: false,
		Message: err.Error(),
	})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, GenericResponse{
		Success: false,
		Message: message,
	})
}
