package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nyakairu/prosa/model"
)

// PgStore is a PostgreSQL-backed DefinitionStore using pgx/v5.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL definition store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// HealthCheck verifies database connectivity. Used by the readiness endpoint.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateDefinition inserts a new definition.
func (s *PgStore) CreateDefinition(ctx context.Context, def model.ProcessDefinition) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO process_definitions (
			id, key, name, description, owner_id, business_owner_id,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		def.ID, def.Key, def.Name, def.Description, def.OwnerID, def.BusinessOwnerID,
		def.CreatedAt, def.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return model.NewConflictError(fmt.Sprintf("definition key %q already in use", def.Key))
	}
	if err != nil {
		return fmt.Errorf("insert definition: %w", err)
	}
	return nil
}

// GetDefinition retrieves a definition by id.
func (s *PgStore) GetDefinition(ctx context.Context, id string) (model.ProcessDefinition, error) {
	var def model.ProcessDefinition
	err := s.pool.QueryRow(ctx, `
		SELECT id, key, name, description, owner_id, business_owner_id,
		       created_at, updated_at
		FROM process_definitions
		WHERE id = $1`,
		id,
	).Scan(
		&def.ID, &def.Key, &def.Name, &def.Description, &def.OwnerID, &def.BusinessOwnerID,
		&def.CreatedAt, &def.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return model.ProcessDefinition{}, model.NewNotFoundError(
			fmt.Sprintf("definition %q not found", id),
		)
	}
	if err != nil {
		return model.ProcessDefinition{}, fmt.Errorf("query definition: %w", err)
	}
	return def, nil
}

// UpdateDefinition persists an updated definition. The key column is
// deliberately excluded from the update; it is immutable.
func (s *PgStore) UpdateDefinition(ctx context.Context, def model.ProcessDefinition) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE process_definitions SET
			name = $1,
			description = $2,
			owner_id = $3,
			business_owner_id = $4,
			updated_at = $5
		WHERE id = $6`,
		def.Name, def.Description, def.OwnerID, def.BusinessOwnerID,
		def.UpdatedAt, def.ID,
	)
	if err != nil {
		return fmt.Errorf("update definition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("definition %q not found", def.ID))
	}
	return nil
}

// DeleteDefinition removes a definition and its versions.
func (s *PgStore) DeleteDefinition(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM process_versions WHERE definition_id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete versions: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		DELETE FROM process_definitions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete definition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("definition %q not found", id))
	}
	return nil
}

// ListDefinitions returns a page of definitions matching the filters.
func (s *PgStore) ListDefinitions(ctx context.Context, filters ListFilters) ([]model.ProcessDefinition, int, error) {
	where := ""
	args := []any{}
	argIdx := 1

	if filters.Query != "" {
		where = fmt.Sprintf(
			" WHERE key ILIKE $%d OR name ILIKE $%d OR description ILIKE $%d",
			argIdx, argIdx, argIdx,
		)
		args = append(args, "%"+filters.Query+"%")
		argIdx++
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		"SELECT count(*) FROM process_definitions"+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count definitions: %w", err)
	}

	query := `SELECT id, key, name, description, owner_id, business_owner_id,
	                 created_at, updated_at
	          FROM process_definitions` + where + " ORDER BY created_at DESC, id"

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filters.Limit)
		argIdx++
	}
	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filters.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query definitions: %w", err)
	}
	defer rows.Close()

	var defs []model.ProcessDefinition
	for rows.Next() {
		var def model.ProcessDefinition
		if err := rows.Scan(
			&def.ID, &def.Key, &def.Name, &def.Description, &def.OwnerID, &def.BusinessOwnerID,
			&def.CreatedAt, &def.UpdatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan definition: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, total, rows.Err()
}

// CreateVersion inserts a new version.
func (s *PgStore) CreateVersion(ctx context.Context, ver model.ProcessVersion) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO process_versions (
			id, definition_id, version, description, bpmn_xml, status,
			deployment_key, deployment_id, form_version_id,
			created_by, created_at, updated_by, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		ver.ID, ver.DefinitionID, ver.Version, ver.Description, ver.BpmnXML, ver.Status,
		ver.DeploymentKey, nullable(ver.DeploymentID), nullable(ver.FormVersionID),
		ver.CreatedBy, ver.CreatedAt, nullable(ver.UpdatedBy), ver.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return model.NewConflictError(fmt.Sprintf(
			"version %q already exists for definition %q", ver.Version, ver.DefinitionID,
		))
	}
	if isForeignKeyViolation(err) {
		return model.NewNotFoundError(fmt.Sprintf("definition %q not found", ver.DefinitionID))
	}
	if err != nil {
		return fmt.Errorf("insert version: %w", err)
	}
	return nil
}

const versionColumns = `id, definition_id, version, description, bpmn_xml, status,
       deployment_key, coalesce(deployment_id, ''), coalesce(form_version_id, ''),
       created_by, created_at, coalesce(updated_by, ''), updated_at`

// GetVersion retrieves a version scoped to its definition.
func (s *PgStore) GetVersion(ctx context.Context, definitionID, versionID string) (model.ProcessVersion, error) {
	return s.queryVersion(ctx, `
		SELECT `+versionColumns+`
		FROM process_versions
		WHERE id = $1 AND definition_id = $2`,
		fmt.Sprintf("version %q not found for definition %q", versionID, definitionID),
		versionID, definitionID,
	)
}

// GetVersionByLabel retrieves a version by its definition and label.
func (s *PgStore) GetVersionByLabel(ctx context.Context, definitionID, label string) (model.ProcessVersion, error) {
	return s.queryVersion(ctx, `
		SELECT `+versionColumns+`
		FROM process_versions
		WHERE definition_id = $1 AND version = $2`,
		fmt.Sprintf("version %q not found for definition %q", label, definitionID),
		definitionID, label,
	)
}

// GetVersionByDeploymentID retrieves the version holding the deployment id.
func (s *PgStore) GetVersionByDeploymentID(ctx context.Context, deploymentID string) (model.ProcessVersion, error) {
	return s.queryVersion(ctx, `
		SELECT `+versionColumns+`
		FROM process_versions
		WHERE deployment_id = $1`,
		fmt.Sprintf("no version with deployment id %q", deploymentID),
		deploymentID,
	)
}

// UpdateVersion persists an updated version. Definition id, label, and
// deployment key are excluded from the update; they are immutable.
func (s *PgStore) UpdateVersion(ctx context.Context, ver model.ProcessVersion) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE process_versions SET
			description = $1,
			bpmn_xml = $2,
			status = $3,
			deployment_id = $4,
			form_version_id = $5,
			updated_by = $6,
			updated_at = $7
		WHERE id = $8`,
		ver.Description, ver.BpmnXML, ver.Status,
		nullable(ver.DeploymentID), nullable(ver.FormVersionID),
		nullable(ver.UpdatedBy), ver.UpdatedAt,
		ver.ID,
	)
	if err != nil {
		return fmt.Errorf("update version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("version %q not found", ver.ID))
	}
	return nil
}

// DeleteVersion removes a version scoped to its definition.
func (s *PgStore) DeleteVersion(ctx context.Context, definitionID, versionID string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM process_versions
		WHERE id = $1 AND definition_id = $2`,
		versionID, definitionID,
	)
	if err != nil {
		return fmt.Errorf("delete version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(
			fmt.Sprintf("version %q not found for definition %q", versionID, definitionID),
		)
	}
	return nil
}

// ListVersions returns all versions of a definition, newest first.
func (s *PgStore) ListVersions(ctx context.Context, definitionID string) ([]model.ProcessVersion, error) {
	// Verify the definition exists so an empty result is distinguishable
	// from an unknown definition.
	if _, err := s.GetDefinition(ctx, definitionID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+versionColumns+`
		FROM process_versions
		WHERE definition_id = $1
		ORDER BY created_at DESC, id`,
		definitionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query versions: %w", err)
	}
	defer rows.Close()

	var versions []model.ProcessVersion
	for rows.Next() {
		ver, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, ver)
	}
	return versions, rows.Err()
}

func (s *PgStore) queryVersion(ctx context.Context, query, notFoundMsg string, args ...any) (model.ProcessVersion, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return model.ProcessVersion{}, fmt.Errorf("query version: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return model.ProcessVersion{}, fmt.Errorf("query version: %w", err)
		}
		return model.ProcessVersion{}, model.NewNotFoundError(notFoundMsg)
	}
	return scanVersion(rows)
}

func scanVersion(rows pgx.Rows) (model.ProcessVersion, error) {
	var ver model.ProcessVersion
	if err := rows.Scan(
		&ver.ID, &ver.DefinitionID, &ver.Version, &ver.Description, &ver.BpmnXML, &ver.Status,
		&ver.DeploymentKey, &ver.DeploymentID, &ver.FormVersionID,
		&ver.CreatedBy, &ver.CreatedAt, &ver.UpdatedBy, &ver.UpdatedAt,
	); err != nil {
		return model.ProcessVersion{}, fmt.Errorf("scan version: %w", err)
	}
	return ver, nil
}

// nullable maps empty strings to NULL so partial unique indexes on
// deployment_id behave.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
