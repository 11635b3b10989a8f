package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/concert-ticketing/internal/utils"
)

const testSecret = "test-secret"

func newAuthServer() *echo.Echo {
	e := echo.New()
	e.GET("/me", func(c echo.Context) error {
		uid, _ := UserID(c)
		return c.JSON(http.StatusOK, echo.Map{"user_id": uid, "role": c.Get(CtxRole)})
	}, JWTAuth(testSecret), RequireRole("CUSTOMER"))
	return e
}

func call(e *echo.Echo, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuthAcceptsIssuedToken(t *testing.T) {
	tok, err := utils.NewAccessToken(testSecret, 42, "CUSTOMER", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	rec := call(newAuthServer(), tok.Token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if want := `{"role":"CUSTOMER","user_id":42}`; rec.Body.String() != want+"\n" {
		t.Fatalf("body = %s, want %s", rec.Body.String(), want)
	}
}

func TestJWTAuthRejects(t *testing.T) {
	expired, _ := utils.NewAccessToken(testSecret, 42, "CUSTOMER", -time.Minute)
	forged, _ := utils.NewAccessToken("other-secret", 42, "CUSTOMER", time.Minute)
	noSub, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"role": "CUSTOMER", "exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte(testSecret))
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "42", "role": "CUSTOMER",
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	for name, tok := range map[string]string{
		"missing":  "",
		"garbage":  "not-a-jwt",
		"expired":  expired.Token,
		"forged":   forged.Token,
		"no sub":   noSub,
		"alg none": none,
	} {
		if rec := call(newAuthServer(), tok); rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", name, rec.Code)
		}
	}
}

func TestRequireRoleForbidsOtherRoles(t *testing.T) {
	tok, _ := utils.NewAccessToken(testSecret, 42, "ADMIN", time.Minute)
	if rec := call(newAuthServer(), tok.Token); rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestSubjectID(t *testing.T) {
	tests := []struct {
		in   interface{}
		want uint64
		ok   bool
	}{
		{"42", 42, true},
		{float64(7), 7, true},
		{"0", 0, false},
		{"-3", 0, false},
		{float64(1.5), 0, false},
		{nil, 0, false},
		{true, 0, false},
	}
	for _, tt := range tests {
		got, ok := subjectID(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("subjectID(%v) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
