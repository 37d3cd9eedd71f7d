package validation

import (
	"testing"
)

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name     string
		username string
		wantErr  bool
	}{
		// Valid usernames
		{"simple", "admin", false},
		{"single char", "a", false},
		{"with digit", "user42", false},
		{"with dot", "jane.doe", false},
		{"with underscore", "svc_backup", false},
		{"with hyphen", "read-only-bot", false},
		{"mixed case", "Alice", false},
		{"max length", "a123456789012345678901234567890123456789012345678901234567890123", false},

		// Invalid usernames - traversal and injection attempts
		{"empty", "", true},
		{"path traversal", "../../etc/passwd", true},
		{"slash", "a/b", true},
		{"backslash", `a\b`, true},
		{"starts with dot", ".hidden", true},
		{"starts with hyphen", "-flag", true},
		{"spaces", "a b", true},
		{"null byte", "a\x00b", true},
		{"too long", "a1234567890123456789012345678901234567890123456789012345678901234", true},
		{"unicode", "adminé", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUsername(tt.username)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateUsername(%q) error = %v, wantErr %v", tt.username, err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeUsername(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Admin", "admin"},
		{"  Admin  ", "admin"},
		{"ALICE", "alice"},
		{"bob", "bob"},
	}
	for _, tt := range tests {
		if got := NormalizeUsername(tt.in); got != tt.want {
			t.Errorf("NormalizeUsername(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeUsername(t *testing.T) {
	tests := []struct {
		name     string
		username string
		want     string
		wantErr  bool
	}{
		{"lowercase passthrough", "admin", "admin", false},
		{"case folded", "Alice", "alice", false},
		{"unsafe replaced", "a b/c", "a_b_c", false},
		{"unicode replaced", "adminé", "admin_", false},
		{"empty rejected", "", "", true},
		{"whitespace only rejected", "   ", "", true},
		{"dots only rejected", "..", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeUsername(tt.username)
			if (err != nil) != tt.wantErr {
				t.Errorf("SanitizeUsername(%q) error = %v, wantErr %v", tt.username, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("SanitizeUsername(%q) = %q, want %q", tt.username, got, tt.want)
			}
		})
	}
}
