package jwt

import (
	"testing"
	"time"
)

func TestIssueAndValidate(t *testing.T) {
	service := NewService("test-secret-key", time.Hour)

	token, expiresAt, err := service.Issue(12345, "device-123", PlatformWeb)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	if token == "" {
		t.Fatal("Token should not be empty")
	}
	if !expiresAt.After(time.Now()) {
		t.Error("ExpiresAt should be in the future")
	}

	claims, err := service.Validate(token)
	if err != nil {
		t.Fatalf("Failed to validate token: %v", err)
	}
	if claims.UserID != 12345 {
		t.Errorf("Expected UserID 12345, got %d", claims.UserID)
	}
	if claims.Device() != "web:device-123" {
		t.Errorf("Expected device web:device-123, got %s", claims.Device())
	}
}

func TestValidate_Invalid(t *testing.T) {
	service := NewService("test-secret-key", time.Hour)

	if _, err := service.Validate("invalid-token"); err != ErrTokenInvalid {
		t.Errorf("Expected ErrTokenInvalid, got %v", err)
	}
}

func TestValidate_Expired(t *testing.T) {
	service := NewService("test-secret-key", -time.Hour)

	token, _, err := service.Issue(12345, "device-123", PlatformWeb)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}

	if _, err := service.Validate(token); err != ErrTokenExpired {
		t.Errorf("Expected ErrTokenExpired, got %v", err)
	}
}

func TestValidate_WrongSecretKey(t *testing.T) {
	service1 := NewService("secret-key-1", time.Hour)
	service2 := NewService("secret-key-2", time.Hour)

	token, _, err := service1.Issue(12345, "device-123", PlatformWeb)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}

	if _, err := service2.Validate(token); err != ErrTokenInvalid {
		t.Errorf("Expected ErrTokenInvalid, got %v", err)
	}
}

func TestValidate_ZeroUser(t *testing.T) {
	service := NewService("test-secret-key", time.Hour)

	token, _, err := service.Issue(0, "", PlatformUnknown)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}

	if _, err := service.Validate(token); err != ErrTokenInvalid {
		t.Errorf("Expected ErrTokenInvalid for zero user, got %v", err)
	}
}

func TestClaimsDevice(t *testing.T) {
	tests := []struct {
		name     string
		claims   Claims
		expected string
	}{
		{"platform only", Claims{Platform: PlatformIOS}, "ios"},
		{"platform and device", Claims{Platform: PlatformAndroid, DeviceID: "pixel"}, "android:pixel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.claims.Device(); got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}
}
