package v1

import (
	"time"

	"github.com/gin-gonic/gin"

	ierr "github.com/kachi-io/kachi/internal/errors"
	"github.com/kachi-io/kachi/internal/types"
)

// parsePeriod reads the start and end query params as RFC 3339 timestamps
func parsePeriod(c *gin.Context) (types.Window, error) {
	start, err := time.Parse(time.RFC3339, c.Query("start"))
	if err != nil {
		return types.Window{}, ierr.WithError(err).
			WithHint("start must be an RFC 3339 timestamp").
			Mark(ierr.ErrValidation)
	}
	end, err := time.Parse(time.RFC3339, c.Query("end"))
	if err != nil {
		return types.Window{}, ierr.WithError(err).
			WithHint("end must be an RFC 3339 timestamp").
			Mark(ierr.ErrValidation)
	}
	if !start.Before(end) {
		return types.Window{}, ierr.NewError("start must be before end").
			WithHint("start must be before end").
			Mark(ierr.ErrValidation)
	}
	return types.NewWindow(start, end), nil
}
