package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/concert-ticketing/internal/apperr"
	"github.com/iliyamo/concert-ticketing/internal/middleware"
)

// errorBody is the uniform failure shape.
type errorBody struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// respondError maps typed business errors to their status and code and
// everything else to 500 INTERNAL_ERROR. Internal details are logged, not
// returned.
func respondError(c echo.Context, log *zap.SugaredLogger, err error) error {
	if e, ok := apperr.From(err); ok {
		return c.JSON(e.Status, errorBody{Code: string(e.Code), Message: e.Message})
	}
	log.Errorw("request failed", "method", c.Request().Method, "path", c.Request().URL.Path, "error", err)
	return c.JSON(http.StatusInternalServerError, errorBody{Code: string(apperr.CodeInternal), Message: "internal error"})
}

// getUserID reads the caller id set by middleware.JWTAuth.
func getUserID(c echo.Context) (uint64, error) {
	if id, ok := middleware.UserID(c); ok {
		return id, nil
	}
	return 0, echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
}

// pathID parses a positive numeric path parameter.
func pathID(c echo.Context, name string) (uint64, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.Invalid("invalid " + name)
	}
	return id, nil
}

// queryID parses a positive numeric query parameter.
func queryID(c echo.Context, name string) (uint64, error) {
	id, err := strconv.ParseUint(c.QueryParam(name), 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.Invalid("invalid " + name)
	}
	return id, nil
}
