package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Mrgig7/Autonomous-Al-powered-SRE-Agent-sub001/internal/model"
)

// UpsertInstallation writes an installation keyed by (user_id, repo_id),
// refreshing the automation mode on repeat installs.
func (q Queries) UpsertInstallation(ctx context.Context, inst *model.GitHubAppInstallation) error {
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	if inst.AutomationMode == "" {
		inst.AutomationMode = model.ModeAutoPR
	}
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO github_app_installations (
			id, user_id, repo_id, repo_full_name, installation_id, automation_mode
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, repo_id) DO UPDATE SET
			repo_full_name = EXCLUDED.repo_full_name,
			installation_id = EXCLUDED.installation_id,
			automation_mode = EXCLUDED.automation_mode,
			updated_at = now()`,
		inst.ID, inst.UserID, inst.RepoID, inst.RepoFullName,
		inst.InstallationID, string(inst.AutomationMode))
	if err != nil {
		return fmt.Errorf("upsert installation: %w", err)
	}
	return nil
}

// AutomationModeForRepo resolves the automation mode for a repository.
// Repositories without an installation default to auto_pr.
func (q Queries) AutomationModeForRepo(ctx context.Context, repoFullName string) (model.AutomationMode, error) {
	var mode string
	err := q.q.GetContext(ctx, &mode, `
		SELECT automation_mode FROM github_app_installations
		WHERE repo_full_name = $1
		ORDER BY updated_at DESC
		LIMIT 1`, repoFullName)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ModeAutoPR, nil
	}
	if err != nil {
		return "", fmt.Errorf("automation mode for repo: %w", err)
	}
	return model.ParseAutomationMode(mode)
}
