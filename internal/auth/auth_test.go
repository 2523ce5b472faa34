package auth

import (
	"net/http/httptest"
	"testing"
)

func TestExtractBearerToken(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"valid", "Bearer abc123", "abc123", false},
		{"valid with spaces", "Bearer   abc123", "abc123", false},
		{"missing header", "", "", true},
		{"wrong scheme", "Basic abc123", "", true},
		{"empty token", "Bearer ", "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			got, err := ExtractBearerToken(r)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got token %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()

	if !Verify("secret", "secret") {
		t.Error("matching tokens should verify")
	}
	if Verify("secret", "other1") {
		t.Error("mismatched tokens should not verify")
	}
	if Verify("", "secret") {
		t.Error("empty presented token should not verify")
	}
	if Verify("secret", "") {
		t.Error("empty configured key should never verify")
	}
	if Verify("", "") {
		t.Error("two empty tokens should not verify")
	}
}
