package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// subjectID accepts the sub claim as a decimal string or a JSON number.
func subjectID(v interface{}) (uint64, bool) {
	switch t := v.(type) {
	case string:
		n, err := strconv.ParseUint(t, 10, 64)
		return n, err == nil && n > 0
	case float64:
		if t < 1 || t != float64(uint64(t)) {
			return 0, false
		}
		return uint64(t), true
	}
	return 0, false
}

// UserID returns the authenticated user id stored by JWTAuth.
func UserID(c echo.Context) (uint64, bool) {
	id, ok := c.Get(CtxUserID).(uint64)
	return id, ok && id > 0
}

// userKey is the rate-limit identity of the caller: the user id, or
// "anon" on unauthenticated routes.
func userKey(c echo.Context) string {
	if id, ok := UserID(c); ok {
		return strconv.FormatUint(id, 10)
	}
	return "anon"
}
