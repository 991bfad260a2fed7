package registry

import "testing"

func TestConstraintCheck(t *testing.T) {
	tests := []struct {
		constraint string
		version    string
		want       bool
	}{
		{"1.2.3", "1.2.3", true},
		{"1.2.3", "1.2.4", false},
		{"=1.2.3", "1.2.3", true},
		{">1.0.0", "1.0.1", true},
		{">1.0.0", "1.0.0", false},
		{">=1.0.0", "1.0.0", true},
		{"<2.0.0", "1.9.9", true},
		{"<2.0.0", "2.0.0", false},
		{"<=2.0.0", "2.0.0", true},
		{"!=1.5.0", "1.5.0", false},
		{"!=1.5.0", "1.5.1", true},
		{"^1.4.0", "1.4.0", true},
		{"^1.4.0", "1.9.2", true},
		{"^1.4.0", "1.3.9", false},
		{"^1.4.0", "2.0.0", false},
		{"~2.1.0", "2.1.5", true},
		{"~2.1.0", "2.2.0", false},
		{"~2.1.0", "2.0.9", false},
		{">=1.2.0 <2.0.0", "1.5.0", true},
		{">=1.2.0 <2.0.0", "2.0.0", false},
		{">=1.2.0 <2.0.0", "1.1.0", false},
		{">=1.0.0", "2.0.0-rc.1", true},
		{"<2.0.0", "2.0.0-rc.1", true}, // prerelease sorts below its release
	}

	for _, tt := range tests {
		c, err := ParseConstraint(tt.constraint)
		if err != nil {
			t.Fatalf("ParseConstraint(%q): %v", tt.constraint, err)
		}
		v, err := Parse(tt.version)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tt.version, err)
		}
		if got := c.Check(v); got != tt.want {
			t.Errorf("Check(%q, %q) = %v, want %v", tt.constraint, tt.version, got, tt.want)
		}
	}
}

func TestParseConstraintInvalid(t *testing.T) {
	for _, s := range []string{"", "  ", ">=abc", "^1.2", "1.2.3 >="} {
		if _, err := ParseConstraint(s); err == nil {
			t.Errorf("ParseConstraint(%q) succeeded, want error", s)
		}
	}
}
