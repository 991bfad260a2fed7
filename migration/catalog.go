// Package migration owns the ordered chain of migration steps for a module
// and the orchestrator that executes them against a tenant's data.
package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/modlifecycle/registry"
	"github.com/GoCodeAlone/modlifecycle/store"
)

// Catalog validation errors.
var (
	ErrMissingDownScript     = errors.New("reversible migration requires a down script")
	ErrSequenceNotIncreasing = errors.New("sequence must be greater than every existing sequence")
	ErrChainBroken           = errors.New("migration does not extend the chain")
	ErrUnknownVersion        = errors.New("version not registered")
)

// Catalog manages the linear migration chain of each module. Reversibility
// and chain invariants are enforced at registration, not at execution time.
type Catalog struct {
	migrations store.MigrationStore
	versions   store.VersionStore
	logger     *slog.Logger
}

// NewCatalog creates a Catalog over the given stores.
func NewCatalog(migrations store.MigrationStore, versions store.VersionStore, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{migrations: migrations, versions: versions, logger: logger}
}

// AddStep registers a new migration step. The step must target a registered
// version, carry a sequence greater than every existing one, and extend the
// chain from the previous step's target version (or from genesis for the
// first step). A reversible step must have a down script.
func (c *Catalog) AddStep(ctx context.Context, m *store.Migration) (*store.Migration, error) {
	if m.UpScript == "" {
		return nil, fmt.Errorf("migration to %s: up script is required", m.ToVersion)
	}
	if m.IsReversible && m.DownScript == "" {
		return nil, fmt.Errorf("%w: migration to %s", ErrMissingDownScript, m.ToVersion)
	}
	if _, err := c.versions.GetByVersion(ctx, m.ModuleID, m.ToVersion); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s@%s", ErrUnknownVersion, m.ModuleID, m.ToVersion)
		}
		return nil, fmt.Errorf("resolve version %s@%s: %w", m.ModuleID, m.ToVersion, err)
	}

	chain, err := c.migrations.ListByModule(ctx, m.ModuleID)
	if err != nil {
		return nil, fmt.Errorf("list migrations for %s: %w", m.ModuleID, err)
	}

	if len(chain) == 0 {
		if m.FromVersion != nil {
			return nil, fmt.Errorf("%w: first migration must start from genesis, got from %s", ErrChainBroken, *m.FromVersion)
		}
	} else {
		last := chain[len(chain)-1]
		if m.Sequence <= last.Sequence {
			return nil, fmt.Errorf("%w: sequence %d <= %d", ErrSequenceNotIncreasing, m.Sequence, last.Sequence)
		}
		if m.FromVersion == nil || *m.FromVersion != last.ToVersion {
			return nil, fmt.Errorf("%w: expected from %s", ErrChainBroken, last.ToVersion)
		}
	}

	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if err := c.migrations.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("create migration to %s@%s: %w", m.ModuleID, m.ToVersion, err)
	}

	c.logger.Info("migration registered",
		"module", m.ModuleID,
		"to", m.ToVersion,
		"sequence", m.Sequence,
		"reversible", m.IsReversible)
	return m, nil
}

// Get returns a migration by ID.
func (c *Catalog) Get(ctx context.Context, id uuid.UUID) (*store.Migration, error) {
	return c.migrations.Get(ctx, id)
}

// StepsForUpgrade returns the migrations to apply when moving a tenant from
// fromVersion (nil = genesis) to toVersion, ascending by sequence. Versions
// without schema impact allocate no sequence, so bounds resolve to the
// highest sequence at or below each version by semver precedence.
func (c *Catalog) StepsForUpgrade(ctx context.Context, moduleID string, fromVersion *string, toVersion string) ([]*store.Migration, error) {
	fromSeq := int64(0)
	if fromVersion != nil {
		seq, err := c.sequenceAt(ctx, moduleID, *fromVersion)
		if err != nil {
			return nil, err
		}
		fromSeq = seq
	}
	toSeq, err := c.sequenceAt(ctx, moduleID, toVersion)
	if err != nil {
		return nil, err
	}

	steps, err := c.migrations.Range(ctx, moduleID, fromSeq, toSeq)
	if err != nil {
		return nil, fmt.Errorf("range migrations for %s: %w", moduleID, err)
	}
	return steps, nil
}

// StepsForRollback returns the migrations to undo when moving a tenant from
// currentVersion down to targetVersion, descending by sequence.
func (c *Catalog) StepsForRollback(ctx context.Context, moduleID, targetVersion, currentVersion string) ([]*store.Migration, error) {
	steps, err := c.StepsForUpgrade(ctx, moduleID, &targetVersion, currentVersion)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
	return steps, nil
}

// sequenceAt resolves a version to its position in the chain: the highest
// sequence among migrations whose target version is at or below it.
func (c *Catalog) sequenceAt(ctx context.Context, moduleID, version string) (int64, error) {
	sv, err := registry.Parse(version)
	if err != nil {
		return 0, fmt.Errorf("parse version %q: %w", version, err)
	}

	chain, err := c.migrations.ListByModule(ctx, moduleID)
	if err != nil {
		return 0, fmt.Errorf("list migrations for %s: %w", moduleID, err)
	}

	seq := int64(0)
	for _, m := range chain {
		mv, err := registry.Parse(m.ToVersion)
		if err != nil {
			return 0, fmt.Errorf("parse migration target %q: %w", m.ToVersion, err)
		}
		if mv.Compare(sv) <= 0 && m.Sequence > seq {
			seq = m.Sequence
		}
	}
	return seq, nil
}
