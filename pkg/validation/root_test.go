package validation

import (
	"strings"
	"testing"
)

func TestValidateRoot(t *testing.T) {
	tests := []struct {
		name    string
		root    string
		wantErr bool
	}{
		// Valid roots
		{"simple", "/home/dev/project", false},
		{"filesystem root", "/", false},
		{"single segment", "/srv", false},
		{"dots in names", "/home/dev/my.project", false},
		{"spaces in names", "/home/dev/my project", false},

		// Invalid roots - shape
		{"empty", "", true},
		{"relative", "project", true},
		{"relative with dot", "./project", true},
		{"relative parent", "../project", true},
		{"trailing slash", "/home/dev/project/", true},
		{"traversal segment", "/home/dev/../etc", true},
		{"double slash", "//home/dev", true},
		{"too long", "/" + strings.Repeat("a", rootMaxLen), true},

		// Invalid roots - injection attempts
		{"nul byte", "/home/dev\x00/project", true},
		{"newline", "/home/dev\n--flag", true},
		{"carriage return", "/home/dev\r/project", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRoot(tt.root)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRoot(%q) error = %v, wantErr %v", tt.root, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeRoot(t *testing.T) {
	tests := []struct {
		name    string
		root    string
		want    string
		wantErr bool
	}{
		{"clean passthrough", "/home/dev/project", "/home/dev/project", false},
		{"whitespace trimmed", "  /home/dev/project  ", "/home/dev/project", false},
		{"trailing slash cleaned", "/home/dev/project/", "/home/dev/project", false},
		{"traversal collapsed", "/home/dev/../dev/project", "/home/dev/project", false},
		{"relative rejected", "./project", "", true},
		{"empty rejected", "   ", "", true},
		{"nul rejected", "/home\x00/dev", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeRoot(tt.root)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SanitizeRoot(%q) error = %v, wantErr %v", tt.root, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("SanitizeRoot(%q) = %q, want %q", tt.root, got, tt.want)
			}
		})
	}
}
