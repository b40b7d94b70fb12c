package authz

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

// signTestToken builds a well-formed signed token. The extractor under test
// runs in trusted proxy mode (no public key), so the signature itself is
// never verified.
func signTestToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return signed
}

func TestJWTRoleExtractor_TrustedProxyMode(t *testing.T) {
	extractor, err := NewJWTRoleExtractor(JWTRoleExtractorConfig{})
	if err != nil {
		t.Fatalf("NewJWTRoleExtractor() error = %v", err)
	}

	tests := []struct {
		name   string
		claims jwt.MapClaims
		want   Role
	}{
		{
			name:   "manager role claim",
			claims: jwt.MapClaims{"sub": "alice", "role": "manager"},
			want:   RoleManager,
		},
		{
			name:   "tester role claim",
			claims: jwt.MapClaims{"sub": "bob", "role": "tester"},
			want:   RoleTester,
		},
		{
			name:   "role claim is case-insensitive",
			claims: jwt.MapClaims{"sub": "bob", "role": "Manager"},
			want:   RoleManager,
		},
		{
			name:   "unknown role value defaults to viewer",
			claims: jwt.MapClaims{"sub": "carol", "role": "admin"},
			want:   RoleViewer,
		},
		{
			name:   "missing role claim defaults to viewer",
			claims: jwt.MapClaims{"sub": "dave"},
			want:   RoleViewer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req.Header.Set("Authorization", "Bearer "+signTestToken(t, tt.claims))

			if got := extractor(req); got != tt.want {
				t.Errorf("extractor() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestJWTRoleExtractor_NestedArrayClaim(t *testing.T) {
	extractor, err := NewJWTRoleExtractor(JWTRoleExtractorConfig{
		RoleClaim: "realm_access.roles",
	})
	if err != nil {
		t.Fatalf("NewJWTRoleExtractor() error = %v", err)
	}

	tests := []struct {
		name  string
		roles []interface{}
		want  Role
	}{
		{
			name:  "manager present in array",
			roles: []interface{}{"user", "manager"},
			want:  RoleManager,
		},
		{
			name:  "tester only",
			roles: []interface{}{"user", "tester"},
			want:  RoleTester,
		},
		{
			name:  "manager outranks tester",
			roles: []interface{}{"tester", "manager"},
			want:  RoleManager,
		},
		{
			name:  "no recognized roles",
			roles: []interface{}{"user", "uma_authorization"},
			want:  RoleViewer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := jwt.MapClaims{
				"sub":          "alice",
				"realm_access": map[string]interface{}{"roles": tt.roles},
			}
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req.Header.Set("Authorization", "Bearer "+signTestToken(t, claims))

			if got := extractor(req); got != tt.want {
				t.Errorf("extractor() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestJWTRoleExtractor_BadTokens(t *testing.T) {
	extractor, err := NewJWTRoleExtractor(JWTRoleExtractorConfig{})
	if err != nil {
		t.Fatalf("NewJWTRoleExtractor() error = %v", err)
	}

	tests := []struct {
		name       string
		authHeader string
	}{
		{name: "no authorization header", authHeader: ""},
		{name: "not a bearer scheme", authHeader: "Basic dXNlcjpwYXNz"},
		{name: "malformed token", authHeader: "Bearer not.a.jwt"},
		{name: "empty bearer token", authHeader: "Bearer "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}

			if got := extractor(req); got != RoleViewer {
				t.Errorf("extractor() = %q, want %q", got, RoleViewer)
			}
		})
	}
}

func TestJWTRoleExtractor_CustomRoleValues(t *testing.T) {
	extractor, err := NewJWTRoleExtractor(JWTRoleExtractorConfig{
		RoleClaim:        "groups",
		ManagerRoleValue: "release-managers",
		TesterRoleValue:  "qa-engineers",
	})
	if err != nil {
		t.Fatalf("NewJWTRoleExtractor() error = %v", err)
	}

	claims := jwt.MapClaims{"sub": "alice", "groups": "release-managers"}
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer "+signTestToken(t, claims))

	if got := extractor(req); got != RoleManager {
		t.Errorf("extractor() = %q, want %q", got, RoleManager)
	}
}
