package cabinet

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSigningKey = []byte("cabinet-test-key")

// mintToken signs a HS256 JWT expiring at exp. A zero exp omits the claim.
func mintToken(t testing.TB, subject string, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:  subject,
		IssuedAt: jwt.NewNumericDate(time.Now()),
	}
	if !exp.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(exp)
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSigningKey)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return signed
}

func TestJWTExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	checker := JWTExpiry{Skew: 30 * time.Second, Now: func() time.Time { return now }}

	tests := []struct {
		name    string
		token   string
		expired bool
	}{
		{"valid for an hour", mintToken(t, "u", now.Add(time.Hour)), false},
		{"already expired", mintToken(t, "u", now.Add(-time.Minute)), true},
		{"inside skew window", mintToken(t, "u", now.Add(10*time.Second)), true},
		{"exactly at skew boundary", mintToken(t, "u", now.Add(30*time.Second)), true},
		{"just past skew window", mintToken(t, "u", now.Add(31*time.Second)), false},
		{"no exp claim", mintToken(t, "u", time.Time{}), false},
		{"opaque token", "not-a-jwt", false},
		{"empty token", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := checker.Expired(tt.token); got != tt.expired {
				t.Errorf("Expired() = %v, want %v", got, tt.expired)
			}
		})
	}
}

func TestExpiresAt(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	got, ok := ExpiresAt(mintToken(t, "u", exp))
	if !ok {
		t.Fatal("ExpiresAt() reported no exp")
	}
	if !got.Equal(exp) {
		t.Errorf("ExpiresAt() = %v, want %v", got, exp)
	}

	if _, ok := ExpiresAt("garbage"); ok {
		t.Error("ExpiresAt() should fail on garbage")
	}
}

func TestExpiryCheckerFunc(t *testing.T) {
	checker := ExpiryCheckerFunc(func(token string) bool { return token == "old" })
	if !checker.Expired("old") || checker.Expired("new") {
		t.Error("ExpiryCheckerFunc did not delegate")
	}
}
