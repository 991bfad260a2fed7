package registry

import (
	"fmt"
	"strings"
)

// Constraint represents a validated version-range constraint. A constraint is
// one or more space-separated comparators that must all hold, e.g.
// ">=1.2.0 <2.0.0", "^1.4.0", "~2.1.0", "1.0.0".
type Constraint struct {
	raw         string
	comparators []comparator
}

type comparator struct {
	op      string
	version Semver
}

// ParseConstraint parses and validates a constraint string.
func ParseConstraint(s string) (*Constraint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty constraint")
	}

	var comparators []comparator
	for _, part := range strings.Fields(s) {
		c, err := parseComparator(part)
		if err != nil {
			return nil, fmt.Errorf("constraint %q: %w", s, err)
		}
		comparators = append(comparators, c)
	}
	return &Constraint{raw: s, comparators: comparators}, nil
}

func (c *Constraint) String() string { return c.raw }

// AllowsPrerelease reports whether any comparator names a prerelease version.
// Resolution treats prereleases as opt-in: a plain range like "^1.0.0" never
// matches one, while ">=1.1.0-rc.0" does.
func (c *Constraint) AllowsPrerelease() bool {
	for _, cmp := range c.comparators {
		if cmp.version.Prerelease != "" {
			return true
		}
	}
	return false
}

func parseComparator(s string) (comparator, error) {
	var op string
	var vStr string

	switch {
	case strings.HasPrefix(s, ">="):
		op, vStr = ">=", s[2:]
	case strings.HasPrefix(s, "<="):
		op, vStr = "<=", s[2:]
	case strings.HasPrefix(s, "!="):
		op, vStr = "!=", s[2:]
	case strings.HasPrefix(s, ">"):
		op, vStr = ">", s[1:]
	case strings.HasPrefix(s, "<"):
		op, vStr = "<", s[1:]
	case strings.HasPrefix(s, "^"):
		op, vStr = "^", s[1:]
	case strings.HasPrefix(s, "~"):
		op, vStr = "~", s[1:]
	case strings.HasPrefix(s, "="):
		op, vStr = "=", s[1:]
	default:
		op, vStr = "=", s
	}

	v, err := Parse(strings.TrimSpace(vStr))
	if err != nil {
		return comparator{}, err
	}
	return comparator{op: op, version: v}, nil
}

// Check returns true if the given version satisfies every comparator.
func (c *Constraint) Check(v Semver) bool {
	for _, cmp := range c.comparators {
		if !cmp.check(v) {
			return false
		}
	}
	return true
}

func (c comparator) check(v Semver) bool {
	cmp := v.Compare(c.version)
	switch c.op {
	case "=":
		return cmp == 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case "!=":
		return cmp != 0
	case "^":
		// Same major, at or above the constraint version.
		if v.Major != c.version.Major {
			return false
		}
		return cmp >= 0
	case "~":
		// Same major.minor, at or above the constraint version.
		if v.Major != c.version.Major || v.Minor != c.version.Minor {
			return false
		}
		return cmp >= 0
	}
	return false
}
