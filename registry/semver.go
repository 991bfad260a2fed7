package registry

import (
	"fmt"
	"strconv"
	"strings"
)

// Semver represents a parsed semantic version, including an optional
// prerelease label. Build metadata is accepted on parse and discarded.
type Semver struct {
	Major      int
	Minor      int
	Patch      int
	Prerelease string
}

func (s Semver) String() string {
	if s.Prerelease != "" {
		return fmt.Sprintf("%d.%d.%d-%s", s.Major, s.Minor, s.Patch, s.Prerelease)
	}
	return fmt.Sprintf("%d.%d.%d", s.Major, s.Minor, s.Patch)
}

// Parse parses a version string like "1.2.3", "v1.2.3", or "1.2.3-alpha.1"
// into a Semver.
func Parse(v string) (Semver, error) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if v == "" {
		return Semver{}, fmt.Errorf("empty version")
	}

	// Strip build metadata; it carries no precedence.
	if i := strings.IndexByte(v, '+'); i >= 0 {
		v = v[:i]
	}

	var prerelease string
	if i := strings.IndexByte(v, '-'); i >= 0 {
		prerelease = v[i+1:]
		v = v[:i]
		if prerelease == "" {
			return Semver{}, fmt.Errorf("empty prerelease label in %q", v)
		}
	}

	parts := strings.Split(v, ".")
	if len(parts) != 3 {
		return Semver{}, fmt.Errorf("expected major.minor.patch, got %q", v)
	}
	major, err := parseNumericField(parts[0])
	if err != nil {
		return Semver{}, fmt.Errorf("invalid major version: %w", err)
	}
	minor, err := parseNumericField(parts[1])
	if err != nil {
		return Semver{}, fmt.Errorf("invalid minor version: %w", err)
	}
	patch, err := parseNumericField(parts[2])
	if err != nil {
		return Semver{}, fmt.Errorf("invalid patch version: %w", err)
	}
	return Semver{Major: major, Minor: minor, Patch: patch, Prerelease: prerelease}, nil
}

func parseNumericField(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty field")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative field %d", n)
	}
	return n, nil
}

// Compare returns -1, 0, or 1 by semver precedence. A release version takes
// precedence over a prerelease with equal numeric fields; prerelease labels
// compare identifier by identifier, numeric identifiers before alphanumeric.
func (s Semver) Compare(other Semver) int {
	if s.Major != other.Major {
		return compareInt(s.Major, other.Major)
	}
	if s.Minor != other.Minor {
		return compareInt(s.Minor, other.Minor)
	}
	if s.Patch != other.Patch {
		return compareInt(s.Patch, other.Patch)
	}
	switch {
	case s.Prerelease == "" && other.Prerelease == "":
		return 0
	case s.Prerelease == "":
		return 1
	case other.Prerelease == "":
		return -1
	}
	return comparePrerelease(s.Prerelease, other.Prerelease)
}

func compareInt(a, b int) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

func comparePrerelease(a, b string) int {
	aParts := strings.Split(a, ".")
	bParts := strings.Split(b, ".")
	for i := 0; i < len(aParts) && i < len(bParts); i++ {
		an, aNum := strconv.Atoi(aParts[i])
		bn, bNum := strconv.Atoi(bParts[i])
		switch {
		case aNum == nil && bNum == nil:
			if an != bn {
				return compareInt(an, bn)
			}
		case aNum == nil:
			// Numeric identifiers sort before alphanumeric ones.
			return -1
		case bNum == nil:
			return 1
		default:
			if c := strings.Compare(aParts[i], bParts[i]); c != 0 {
				return c
			}
		}
	}
	// A longer identifier list wins when all shared identifiers are equal.
	return compareInt(len(aParts), len(bParts))
}
