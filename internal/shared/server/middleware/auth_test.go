package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"taxrecovery-backend/internal/shared/auth"
)

func TestAuthAllowsOptionsWithoutIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Auth("dev"))
	router.OPTIONS("/api/v1/documents/current", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/documents/current", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
}

func identityRouter() (*gin.Engine, *string, *bool) {
	gin.SetMode(gin.TestMode)
	var gotUser string
	var gotGuest bool
	router := gin.New()
	router.Use(Auth("dev"))
	router.GET("/whoami", func(c *gin.Context) {
		gotUser = UserIDFromContext(c)
		gotGuest = IsGuestFromContext(c)
		c.Status(http.StatusOK)
	})
	return router, &gotUser, &gotGuest
}

func TestAuthAcceptsBearerToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	token, err := auth.SignJWT(auth.Claims{Sub: "user-42"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	router, gotUser, gotGuest := identityRouter()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if *gotUser != "user-42" {
		t.Fatalf("user = %q, want user-42", *gotUser)
	}
	if *gotGuest {
		t.Fatal("token identity flagged as guest")
	}
}

func TestAuthRejectsTamperedToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	token, err := auth.SignJWT(auth.Claims{Sub: "user-42"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	router, _, _ := identityRouter()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token+"x")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestAuthGuestHeader(t *testing.T) {
	router, gotUser, gotGuest := identityRouter()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("X-Guest-Id", "abc")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if *gotUser != "guest:abc" {
		t.Fatalf("user = %q, want guest:abc", *gotUser)
	}
	if !*gotGuest {
		t.Fatal("guest identity not flagged")
	}
}
