// Package registry owns the catalog of published versions for pluggable
// modules: semver validation, monotonic ordering, the publication lifecycle,
// and dependency-constraint resolution.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/modlifecycle/store"
)

// Validation errors returned by Registry operations. All are rejected before
// any mutation; callers recover by correcting their input.
var (
	ErrInvalidVersion          = errors.New("invalid version")
	ErrInvalidConstraint       = errors.New("invalid constraint")
	ErrVersionExists           = errors.New("version already exists")
	ErrVersionNotIncreasing    = errors.New("version does not increase over existing versions")
	ErrNotDraft                = errors.New("version is not a draft")
	ErrNotPublished            = errors.New("version is not published")
	ErrUnsatisfiableDependency = errors.New("unsatisfiable dependency")
)

// Registry manages module version records.
type Registry struct {
	versions store.VersionStore
	logger   *slog.Logger
}

// New creates a Registry backed by the given version store.
func New(versions store.VersionStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{versions: versions, logger: logger}
}

// CreateOptions carries optional fields for version creation.
type CreateOptions struct {
	ContentHash string
	// Dependencies maps a module ID to a version-range constraint.
	Dependencies map[string]string
	// BreakingChanges declares the version breaking explicitly. It is also
	// derived automatically when the major number increases over the
	// previous published version.
	BreakingChanges bool
}

// Create registers a new draft version for a module. The version must parse
// as semver and compare strictly greater than every existing version of the
// module.
func (r *Registry) Create(ctx context.Context, moduleID, version, bundleRef string, opts CreateOptions) (*store.ModuleVersion, error) {
	sv, err := Parse(version)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVersion, err)
	}
	for depID, constraint := range opts.Dependencies {
		if _, err := ParseConstraint(constraint); err != nil {
			return nil, fmt.Errorf("%w: dependency %q: %v", ErrInvalidConstraint, depID, err)
		}
	}

	existing, err := r.versions.ListByModule(ctx, moduleID)
	if err != nil {
		return nil, fmt.Errorf("list versions for %s: %w", moduleID, err)
	}

	breaking := opts.BreakingChanges
	for _, e := range existing {
		ev := Semver{Major: e.Major, Minor: e.Minor, Patch: e.Patch, Prerelease: e.Prerelease}
		switch c := sv.Compare(ev); {
		case c == 0:
			return nil, fmt.Errorf("%w: %s@%s", ErrVersionExists, moduleID, version)
		case c < 0:
			return nil, fmt.Errorf("%w: %s is not greater than %s", ErrVersionNotIncreasing, version, e.Version)
		}
		if e.Status == store.VersionStatusPublished && sv.Major > e.Major {
			breaking = true
		}
	}

	v := &store.ModuleVersion{
		ID:              uuid.New(),
		ModuleID:        moduleID,
		Version:         sv.String(),
		Major:           sv.Major,
		Minor:           sv.Minor,
		Patch:           sv.Patch,
		Prerelease:      sv.Prerelease,
		BundleRef:       bundleRef,
		ContentHash:     opts.ContentHash,
		Dependencies:    opts.Dependencies,
		BreakingChanges: breaking,
		Status:          store.VersionStatusDraft,
		CreatedAt:       time.Now(),
	}
	if err := r.versions.Create(ctx, v); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %s@%s", ErrVersionExists, moduleID, version)
		}
		return nil, fmt.Errorf("create version %s@%s: %w", moduleID, version, err)
	}

	r.logger.Info("version registered",
		"module", moduleID,
		"version", v.Version,
		"breaking", v.BreakingChanges)
	return v, nil
}

// Publish transitions a draft version to published after verifying that every
// declared dependency constraint has a satisfying published version. Failure
// leaves no partial state.
func (r *Registry) Publish(ctx context.Context, versionID uuid.UUID) (*store.ModuleVersion, error) {
	v, err := r.versions.Get(ctx, versionID)
	if err != nil {
		return nil, fmt.Errorf("get version %s: %w", versionID, err)
	}
	if v.Status != store.VersionStatusDraft {
		return nil, fmt.Errorf("%w: %s@%s is %s", ErrNotDraft, v.ModuleID, v.Version, v.Status)
	}

	for depID, constraint := range v.Dependencies {
		match, err := r.FindMatching(ctx, depID, constraint)
		if err != nil {
			return nil, fmt.Errorf("resolve dependency %s: %w", depID, err)
		}
		if match == nil {
			return nil, fmt.Errorf("%w: no published version of %s satisfies %q", ErrUnsatisfiableDependency, depID, constraint)
		}
	}

	now := time.Now()
	v.Status = store.VersionStatusPublished
	v.PublishedAt = &now
	if err := r.versions.Update(ctx, v); err != nil {
		return nil, fmt.Errorf("publish %s@%s: %w", v.ModuleID, v.Version, err)
	}

	r.logger.Info("version published", "module", v.ModuleID, "version", v.Version)
	return v, nil
}

// FindMatching returns the highest published version of a module satisfying
// the constraint, or nil when none does. Prerelease versions are skipped
// unless the constraint itself names one.
func (r *Registry) FindMatching(ctx context.Context, moduleID, constraint string) (*store.ModuleVersion, error) {
	c, err := ParseConstraint(constraint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConstraint, err)
	}

	all, err := r.versions.ListByModule(ctx, moduleID)
	if err != nil {
		return nil, fmt.Errorf("list versions for %s: %w", moduleID, err)
	}

	published := filterByStatus(all, store.VersionStatusPublished)
	sortByPrecedence(published, true)
	for _, v := range published {
		if v.Prerelease != "" && !c.AllowsPrerelease() {
			continue
		}
		if c.Check(semverOf(v)) {
			return v, nil
		}
	}
	return nil, nil
}

// Deprecate marks a published version deprecated with a human-readable
// reason. It never blocks installations already on this version; planners
// surface it as a soft warning.
func (r *Registry) Deprecate(ctx context.Context, versionID uuid.UUID, reason string) (*store.ModuleVersion, error) {
	return r.retire(ctx, versionID, store.VersionStatusDeprecated, reason)
}

// Yank marks a published version yanked, the hard-warning variant used for
// security or critical defects.
func (r *Registry) Yank(ctx context.Context, versionID uuid.UUID, reason string) (*store.ModuleVersion, error) {
	return r.retire(ctx, versionID, store.VersionStatusYanked, reason)
}

func (r *Registry) retire(ctx context.Context, versionID uuid.UUID, status store.VersionStatus, reason string) (*store.ModuleVersion, error) {
	v, err := r.versions.Get(ctx, versionID)
	if err != nil {
		return nil, fmt.Errorf("get version %s: %w", versionID, err)
	}
	if v.Status != store.VersionStatusPublished && v.Status != store.VersionStatusDeprecated {
		return nil, fmt.Errorf("%w: %s@%s is %s", ErrNotPublished, v.ModuleID, v.Version, v.Status)
	}

	v.Status = status
	v.StatusReason = reason
	if err := r.versions.Update(ctx, v); err != nil {
		return nil, fmt.Errorf("update %s@%s: %w", v.ModuleID, v.Version, err)
	}

	r.logger.Info("version retired",
		"module", v.ModuleID,
		"version", v.Version,
		"status", status,
		"reason", reason)
	return v, nil
}

// UpgradePath returns the published versions of a module strictly greater
// than from (all when from is nil) and at most to, ascending by precedence.
// Drafts and yanked versions are excluded; deprecated versions stay in the
// path (they remain installable, planners warn about them). Prerelease
// versions are excluded unless includePrerelease is set. This list serves
// planning and display; execution order is owned by the migration catalog's
// sequence numbers.
func (r *Registry) UpgradePath(ctx context.Context, moduleID string, from *Semver, to Semver, includePrerelease bool) ([]*store.ModuleVersion, error) {
	all, err := r.versions.ListByModule(ctx, moduleID)
	if err != nil {
		return nil, fmt.Errorf("list versions for %s: %w", moduleID, err)
	}

	var path []*store.ModuleVersion
	for _, v := range all {
		if v.Status == store.VersionStatusDraft || v.Status == store.VersionStatusYanked {
			continue
		}
		sv := semverOf(v)
		if sv.Prerelease != "" && !includePrerelease {
			continue
		}
		if from != nil && sv.Compare(*from) <= 0 {
			continue
		}
		if sv.Compare(to) > 0 {
			continue
		}
		path = append(path, v)
	}
	sortByPrecedence(path, false)
	return path, nil
}

// Latest returns the highest published version of a module, or nil when the
// module has no published versions.
func (r *Registry) Latest(ctx context.Context, moduleID string) (*store.ModuleVersion, error) {
	all, err := r.versions.ListByModule(ctx, moduleID)
	if err != nil {
		return nil, fmt.Errorf("list versions for %s: %w", moduleID, err)
	}
	published := filterByStatus(all, store.VersionStatusPublished)
	if len(published) == 0 {
		return nil, nil
	}
	sortByPrecedence(published, true)
	return published[0], nil
}

// ListVersions returns all versions of a module ascending by precedence.
func (r *Registry) ListVersions(ctx context.Context, moduleID string) ([]*store.ModuleVersion, error) {
	all, err := r.versions.ListByModule(ctx, moduleID)
	if err != nil {
		return nil, fmt.Errorf("list versions for %s: %w", moduleID, err)
	}
	sortByPrecedence(all, false)
	return all, nil
}

func semverOf(v *store.ModuleVersion) Semver {
	return Semver{Major: v.Major, Minor: v.Minor, Patch: v.Patch, Prerelease: v.Prerelease}
}

func filterByStatus(versions []*store.ModuleVersion, status store.VersionStatus) []*store.ModuleVersion {
	var result []*store.ModuleVersion
	for _, v := range versions {
		if v.Status == status {
			result = append(result, v)
		}
	}
	return result
}

func sortByPrecedence(versions []*store.ModuleVersion, descending bool) {
	sort.Slice(versions, func(i, j int) bool {
		c := semverOf(versions[i]).Compare(semverOf(versions[j]))
		if descending {
			return c > 0
		}
		return c < 0
	})
}
