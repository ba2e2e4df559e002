package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/kubilitics/kubilitics-backend/internal/engineerr"
	"github.com/kubilitics/kubilitics-backend/internal/models"
	_ "modernc.org/sqlite"
)

// SQLiteRepository implements Repository against SQLite via sqlx, for
// single-process deployments and tests that want real SQL semantics
// without standing up PostgreSQL.
type SQLiteRepository struct {
	db *sqlx.DB
}

// NewSQLiteRepository opens dbPath in WAL mode for better read concurrency
// and tunes the pool the same way NewPostgresRepository does.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	var journalMode string
	if err := db.Get(&journalMode, "PRAGMA journal_mode"); err != nil {
		return nil, fmt.Errorf("failed to check journal mode: %w", err)
	}
	if journalMode != "wal" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	return &SQLiteRepository{db: db}, nil
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Ping checks database connectivity.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// RunMigrations applies migrationSQL verbatim.
func (r *SQLiteRepository) RunMigrations(migrationSQL string) error {
	_, err := r.db.Exec(migrationSQL)
	return err
}

// --- ClusterRepository ---

func (r *SQLiteRepository) CreateCluster(ctx context.Context, cluster *models.Cluster) error {
	if cluster.ID == "" {
		cluster.ID = uuid.New().String()
	}
	meta, err := marshalJSON(cluster.Metadata)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO clusters (id, name, profile_id, desired_capacity, min_size, max_size,
			status, status_reason, next_index, owner, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	_, err = r.db.ExecContext(ctx, query,
		cluster.ID, cluster.Name, cluster.ProfileID, cluster.DesiredCapacity,
		cluster.MinSize, cluster.MaxSize, cluster.Status, cluster.StatusReason,
		cluster.NextIndex, cluster.Owner, meta, now, now,
	)
	return err
}

func (r *SQLiteRepository) GetCluster(ctx context.Context, id string) (*models.Cluster, error) {
	var row clusterRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM clusters WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engineerr.NotFoundf("cluster %s", id)
	}
	if err != nil {
		return nil, err
	}
	cluster, err := row.toModel()
	if err != nil {
		return nil, err
	}
	if cluster.Nodes, err = r.ListByCluster(ctx, id); err != nil {
		return nil, err
	}
	if cluster.Policies, err = r.ListBindingsByCluster(ctx, id); err != nil {
		return nil, err
	}
	return cluster, nil
}

func (r *SQLiteRepository) ListClusters(ctx context.Context) ([]*models.Cluster, error) {
	var rows []clusterRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT * FROM clusters ORDER BY created_at DESC`); err != nil {
		return nil, err
	}
	out := make([]*models.Cluster, 0, len(rows))
	for _, row := range rows {
		c, err := row.toModel()
		if err != nil {
			return nil, err
		}
		if c.Nodes, err = r.ListByCluster(ctx, c.ID); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *SQLiteRepository) StoreCluster(ctx context.Context, cluster *models.Cluster) error {
	meta, err := marshalJSON(cluster.Metadata)
	if err != nil {
		return err
	}
	query := `
		UPDATE clusters
		SET name = ?, profile_id = ?, desired_capacity = ?, min_size = ?, max_size = ?,
		    status = ?, status_reason = ?, next_index = ?, owner = ?, metadata = ?,
		    updated_at = ?
		WHERE id = ?
	`
	res, err := r.db.ExecContext(ctx, query,
		cluster.Name, cluster.ProfileID, cluster.DesiredCapacity, cluster.MinSize,
		cluster.MaxSize, cluster.Status, cluster.StatusReason, cluster.NextIndex,
		cluster.Owner, meta, time.Now(), cluster.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engineerr.NotFoundf("cluster %s", cluster.ID)
	}
	return nil
}

func (r *SQLiteRepository) DeleteCluster(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM clusters WHERE id = ?`, id)
	return err
}

func (r *SQLiteRepository) NextIndex(ctx context.Context, clusterID string) (int, error) {
	var idx int
	err := r.db.GetContext(ctx, &idx, `SELECT next_index FROM clusters WHERE id = ?`, clusterID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, engineerr.NotFoundf("cluster %s", clusterID)
	}
	return idx, err
}

// ReserveIndices runs inside a transaction since SQLite has no RETURNING-safe
// single-statement increment-and-read idiom across all driver versions used
// here; the read-modify-write happens under the connection's implicit lock.
func (r *SQLiteRepository) ReserveIndices(ctx context.Context, clusterID string, count int) (int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var current int
	if err := tx.GetContext(ctx, &current, `SELECT next_index FROM clusters WHERE id = ?`, clusterID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, engineerr.NotFoundf("cluster %s", clusterID)
		}
		return 0, err
	}
	first := current + 1
	if _, err := tx.ExecContext(ctx, `UPDATE clusters SET next_index = ? WHERE id = ?`, current+count, clusterID); err != nil {
		return 0, err
	}
	return first, tx.Commit()
}

// --- NodeRepository ---

func (r *SQLiteRepository) CreateNode(ctx context.Context, node *models.Node) error {
	if node.ID == "" {
		node.ID = uuid.New().String()
	}
	meta, err := marshalJSON(node.Metadata)
	if err != nil {
		return err
	}
	placement, err := marshalJSON(node.Placement)
	if err != nil {
		return err
	}
	data, err := marshalJSON(node.Data)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO nodes (id, name, profile_id, cluster_id, index_num, status, status_reason,
			owner, metadata, placement, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	_, err = r.db.ExecContext(ctx, query,
		node.ID, node.Name, node.ProfileID, node.ClusterID, node.Index, node.Status,
		node.StatusReason, node.Owner, meta, placement, data, now, now,
	)
	return err
}

func (r *SQLiteRepository) GetNode(ctx context.Context, id string) (*models.Node, error) {
	var row nodeRow
	err := r.db.GetContext(ctx, &row, `SELECT id, name, profile_id, cluster_id, index_num,
		status, status_reason, owner, metadata, placement, data, created_at, updated_at
		FROM nodes WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engineerr.NotFoundf("node %s", id)
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

func (r *SQLiteRepository) StoreNode(ctx context.Context, node *models.Node) error {
	meta, err := marshalJSON(node.Metadata)
	if err != nil {
		return err
	}
	placement, err := marshalJSON(node.Placement)
	if err != nil {
		return err
	}
	data, err := marshalJSON(node.Data)
	if err != nil {
		return err
	}
	query := `
		UPDATE nodes
		SET name = ?, profile_id = ?, cluster_id = ?, index_num = ?, status = ?,
		    status_reason = ?, owner = ?, metadata = ?, placement = ?, data = ?,
		    updated_at = ?
		WHERE id = ?
	`
	res, err := r.db.ExecContext(ctx, query,
		node.Name, node.ProfileID, node.ClusterID, node.Index, node.Status,
		node.StatusReason, node.Owner, meta, placement, data, time.Now(), node.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engineerr.NotFoundf("node %s", node.ID)
	}
	return nil
}

func (r *SQLiteRepository) DeleteNode(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, id)
	return err
}

func (r *SQLiteRepository) ListByCluster(ctx context.Context, clusterID string) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `SELECT id FROM nodes WHERE cluster_id = ?`, clusterID)
	return ids, err
}

// --- ActionRepository ---

func (r *SQLiteRepository) StoreAction(ctx context.Context, action *models.Action) error {
	inputs, err := marshalJSON(action.Inputs)
	if err != nil {
		return err
	}
	data, err := marshalJSON(action.Data)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO actions (id, name, target, kind, status, status_reason, result,
			result_message, cause, owner, parent_id, inputs, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status, status_reason = excluded.status_reason,
			result = excluded.result, result_message = excluded.result_message,
			data = excluded.data, updated_at = excluded.updated_at
	`
	now := time.Now()
	_, err = r.db.ExecContext(ctx, query,
		action.ID, action.Name, action.Target, action.Kind, action.Status,
		action.StatusReason, action.Result, action.ResultMsg, action.Cause,
		action.Owner, action.ParentID, inputs, data, now, now,
	)
	return err
}

func (r *SQLiteRepository) GetAction(ctx context.Context, id string) (*models.Action, error) {
	var row actionRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM actions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engineerr.NotFoundf("action %s", id)
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

func (r *SQLiteRepository) AddDependency(ctx context.Context, childID, parentID string) error {
	query := `
		INSERT INTO action_dependencies (child_id, parent_id)
		VALUES (?, ?)
		ON CONFLICT DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query, childID, parentID)
	return err
}

func (r *SQLiteRepository) ListDependents(ctx context.Context, parentID string) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids,
		`SELECT child_id FROM action_dependencies WHERE parent_id = ?`, parentID)
	return ids, err
}

func (r *SQLiteRepository) SetActionStatus(ctx context.Context, id string, status models.ActionStatus, reason string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE actions SET status = ?, status_reason = ?, updated_at = ? WHERE id = ?`,
		status, reason, time.Now(), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engineerr.NotFoundf("action %s", id)
	}
	return nil
}

// --- PolicyBindingRepository ---

func (r *SQLiteRepository) CreateBinding(ctx context.Context, binding *models.ClusterPolicyBinding) error {
	if binding.ID == "" {
		binding.ID = uuid.New().String()
	}
	data, err := marshalJSON(binding.Data)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO policy_bindings (id, cluster_id, policy_id, priority, cooldown, level,
			enabled, data, last_run_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	_, err = r.db.ExecContext(ctx, query,
		binding.ID, binding.ClusterID, binding.PolicyID, binding.Priority,
		binding.Cooldown, binding.Level, binding.Enabled, data, binding.LastRunAt, now, now,
	)
	return err
}

func (r *SQLiteRepository) GetBinding(ctx context.Context, clusterID, policyID string) (*models.ClusterPolicyBinding, error) {
	var row bindingRow
	err := r.db.GetContext(ctx, &row,
		`SELECT * FROM policy_bindings WHERE cluster_id = ? AND policy_id = ?`, clusterID, policyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engineerr.NotFoundf("policy binding %s/%s", clusterID, policyID)
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

func (r *SQLiteRepository) ListBindingsByCluster(ctx context.Context, clusterID string) ([]*models.ClusterPolicyBinding, error) {
	var rows []bindingRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM policy_bindings WHERE cluster_id = ? ORDER BY priority ASC`, clusterID)
	if err != nil {
		return nil, err
	}
	out := make([]*models.ClusterPolicyBinding, 0, len(rows))
	for _, row := range rows {
		b, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func (r *SQLiteRepository) UpdateBinding(ctx context.Context, binding *models.ClusterPolicyBinding) error {
	data, err := marshalJSON(binding.Data)
	if err != nil {
		return err
	}
	query := `
		UPDATE policy_bindings
		SET priority = ?, cooldown = ?, level = ?, enabled = ?, data = ?,
		    last_run_at = ?, updated_at = ?
		WHERE cluster_id = ? AND policy_id = ?
	`
	res, err := r.db.ExecContext(ctx, query,
		binding.Priority, binding.Cooldown, binding.Level, binding.Enabled, data,
		binding.LastRunAt, time.Now(), binding.ClusterID, binding.PolicyID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engineerr.NotFoundf("policy binding %s/%s", binding.ClusterID, binding.PolicyID)
	}
	return nil
}

func (r *SQLiteRepository) DeleteBinding(ctx context.Context, clusterID, policyID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM policy_bindings WHERE cluster_id = ? AND policy_id = ?`, clusterID, policyID)
	return err
}

// --- ProfileRepository ---

func (r *SQLiteRepository) GetProfile(ctx context.Context, id string) (*models.ProfileSpec, error) {
	var row profileRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM profiles WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engineerr.NotFoundf("profile %s", id)
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

func (r *SQLiteRepository) ListProfiles(ctx context.Context) ([]*models.ProfileSpec, error) {
	var rows []profileRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT * FROM profiles ORDER BY created_at DESC`); err != nil {
		return nil, err
	}
	out := make([]*models.ProfileSpec, 0, len(rows))
	for _, row := range rows {
		p, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *SQLiteRepository) CreateProfile(ctx context.Context, profile *models.ProfileSpec) error {
	if profile.ID == "" {
		profile.ID = uuid.New().String()
	}
	props, err := marshalJSON(profile.Properties)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO profiles (id, type, version, properties, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	now := time.Now()
	_, err = r.db.ExecContext(ctx, query, profile.ID, profile.Type, profile.Version, props, now, now)
	return err
}
