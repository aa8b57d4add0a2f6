//go:build integration

package storage

import (
	"context"
	"errors"
	"testing"
)

// TestPostgresStore_Integration exercises the registry tables against a real
// Postgres instance. Requires Docker; run with -tags integration.
func TestPostgresStore_Integration(t *testing.T) {
	WithPostgresStore(t, func(t *testing.T, store *PostgresStore) {
		ctx := context.Background()

		t.Run("ModuleDefinitions", func(t *testing.T) {
			def := &ModuleDefinition{
				Name:              "analytics",
				DisplayName:       "Analytics",
				ModuleType:        ModuleTypeFunctional,
				IsInstalled:       true,
				IsEnabledBySystem: true,
				BaseConfig:        map[string]any{"retention_days": float64(30)},
				BaseFeatureFlags:  map[string]bool{"dashboards": true},
			}
			if err := store.UpsertModuleDefinition(ctx, def); err != nil {
				t.Fatalf("UpsertModuleDefinition: %v", err)
			}

			got, err := store.GetModuleDefinition(ctx, "analytics")
			if err != nil {
				t.Fatalf("GetModuleDefinition: %v", err)
			}
			if got.BaseConfig["retention_days"] != float64(30) {
				t.Errorf("base config = %+v", got.BaseConfig)
			}

			if _, err := store.GetModuleDefinition(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})

		t.Run("Overrides", func(t *testing.T) {
			ov := &OrgModuleOverride{
				OrgID:           "org-pg",
				ModuleName:      "analytics",
				Enabled:         EnableDisabled,
				ConfigOverrides: map[string]any{"retention_days": float64(7)},
			}
			if err := store.UpsertOrgOverride(ctx, ov); err != nil {
				t.Fatalf("UpsertOrgOverride: %v", err)
			}

			got, err := store.GetOrgOverride(ctx, "org-pg", "analytics")
			if err != nil {
				t.Fatalf("GetOrgOverride: %v", err)
			}
			if got == nil || got.Enabled != EnableDisabled {
				t.Fatalf("unexpected override: %+v", got)
			}

			// Absent rows come back nil, not an error.
			absent, err := store.GetWorkspaceOverride(ctx, "ws-pg", "analytics")
			if err != nil || absent != nil {
				t.Fatalf("absent override: %+v, %v", absent, err)
			}

			// Inherit round-trips through the nullable column.
			ov.Enabled = EnableInherit
			if err := store.UpsertOrgOverride(ctx, ov); err != nil {
				t.Fatalf("UpsertOrgOverride inherit: %v", err)
			}
			got, err = store.GetOrgOverride(ctx, "org-pg", "analytics")
			if err != nil || got.Enabled != EnableInherit {
				t.Fatalf("inherit round-trip: %+v, %v", got, err)
			}
		})

		t.Run("Tenancy", func(t *testing.T) {
			org := &Organization{Name: "PG Org"}
			if err := store.CreateOrganization(ctx, org); err != nil {
				t.Fatalf("CreateOrganization: %v", err)
			}
			ws := &Workspace{OrgID: org.ID, Name: "PG Workspace"}
			if err := store.CreateWorkspace(ctx, ws); err != nil {
				t.Fatalf("CreateWorkspace: %v", err)
			}
			list, err := store.ListWorkspaces(ctx, org.ID)
			if err != nil || len(list) != 1 {
				t.Fatalf("ListWorkspaces: %+v, %v", list, err)
			}
		})
	})
}
