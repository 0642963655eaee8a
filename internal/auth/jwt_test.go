package auth

import "testing"

func TestTokenRoundTrip(t *testing.T) {
	token, err := GenerateToken("team-1", "sk-abc", "secret")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	claims, err := ValidateToken(token, "secret")
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.TeamID != "team-1" {
		t.Errorf("TeamID = %q, want %q", claims.TeamID, "team-1")
	}
	if claims.APIKey != "sk-abc" {
		t.Errorf("APIKey = %q, want %q", claims.APIKey, "sk-abc")
	}
}

func TestValidateToken_WrongSecret(t *testing.T) {
	token, err := GenerateToken("team-1", "sk-abc", "secret")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	if _, err := ValidateToken(token, "other-secret"); err == nil {
		t.Error("ValidateToken() accepted a token signed with a different secret")
	}
}

func TestValidateToken_Garbage(t *testing.T) {
	if _, err := ValidateToken("not.a.token", "secret"); err == nil {
		t.Error("ValidateToken() accepted a malformed token")
	}
}
