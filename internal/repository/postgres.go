package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/kubilitics/kubilitics-backend/internal/engineerr"
	"github.com/kubilitics/kubilitics-backend/internal/models"
	_ "github.com/lib/pq"
)

// PostgresRepository implements Repository against PostgreSQL via sqlx. It
// is the production-grade reference implementation; SQLite backs
// single-process deployments and tests that want a real SQL engine without
// a server.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository dials connectionString and tunes the pool the way
// a long-lived engine process should: bounded open/idle connections and a
// recycling lifetime so stale connections get replaced transparently.
func NewPostgresRepository(connectionString string) (*PostgresRepository, error) {
	db, err := sqlx.Connect("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresRepository{db: db}, nil
}

// Close closes the database connection.
func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

// RunMigrations applies migrationSQL verbatim.
func (r *PostgresRepository) RunMigrations(migrationSQL string) error {
	_, err := r.db.Exec(migrationSQL)
	return err
}

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalJSON[T any](raw string, out *T) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), out)
}

// clusterRow is the wire shape for the clusters table: JSON envelope
// columns are staged as text and decoded after the scan, since sqlx has no
// column for a Go map with a "-" db tag.
type clusterRow struct {
	ID              string    `db:"id"`
	Name            string    `db:"name"`
	ProfileID       string    `db:"profile_id"`
	DesiredCapacity int       `db:"desired_capacity"`
	MinSize         int       `db:"min_size"`
	MaxSize         int       `db:"max_size"`
	Status          string    `db:"status"`
	StatusReason    string    `db:"status_reason"`
	NextIndex       int       `db:"next_index"`
	Owner           string    `db:"owner"`
	Metadata        string    `db:"metadata"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func (row *clusterRow) toModel() (*models.Cluster, error) {
	c := &models.Cluster{
		ID:              row.ID,
		Name:            row.Name,
		ProfileID:       row.ProfileID,
		DesiredCapacity: row.DesiredCapacity,
		MinSize:         row.MinSize,
		MaxSize:         row.MaxSize,
		Status:          models.ClusterStatus(row.Status),
		StatusReason:    row.StatusReason,
		NextIndex:       row.NextIndex,
		Owner:           row.Owner,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
	if err := unmarshalJSON(row.Metadata, &c.Metadata); err != nil {
		return nil, fmt.Errorf("decode cluster metadata: %w", err)
	}
	return c, nil
}

// --- ClusterRepository ---

func (r *PostgresRepository) CreateCluster(ctx context.Context, cluster *models.Cluster) error {
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	now := time.Now()
	_, err = r.db.ExecContext(ctx, query,
		cluster.ID, cluster.Name, cluster.ProfileID, cluster.DesiredCapacity,
		cluster.MinSize, cluster.MaxSize, cluster.Status, cluster.StatusReason,
		cluster.NextIndex, cluster.Owner, meta, now, now,
	)
	return err
}

func (r *PostgresRepository) GetCluster(ctx context.Context, id string) (*models.Cluster, error) {
	var row clusterRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM clusters WHERE id = $1`, id)
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

func (r *PostgresRepository) ListClusters(ctx context.Context) ([]*models.Cluster, error) {
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

func (r *PostgresRepository) StoreCluster(ctx context.Context, cluster *models.Cluster) error {
	meta, err := marshalJSON(cluster.Metadata)
	if err != nil {
		return err
	}
	query := `
		UPDATE clusters
		SET name = $1, profile_id = $2, desired_capacity = $3, min_size = $4, max_size = $5,
		    status = $6, status_reason = $7, next_index = $8, owner = $9, metadata = $10,
		    updated_at = $11
		WHERE id = $12
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

func (r *PostgresRepository) DeleteCluster(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM clusters WHERE id = $1`, id)
	return err
}

func (r *PostgresRepository) NextIndex(ctx context.Context, clusterID string) (int, error) {
	var idx int
	err := r.db.GetContext(ctx, &idx, `SELECT next_index FROM clusters WHERE id = $1`, clusterID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, engineerr.NotFoundf("cluster %s", clusterID)
	}
	return idx, err
}

func (r *PostgresRepository) ReserveIndices(ctx context.Context, clusterID string, count int) (int, error) {
	var first int
	query := `UPDATE clusters SET next_index = next_index + $1 WHERE id = $2 RETURNING next_index - $1 + 1`
	err := r.db.GetContext(ctx, &first, query, count, clusterID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, engineerr.NotFoundf("cluster %s", clusterID)
	}
	return first, err
}

// --- NodeRepository ---

type nodeRow struct {
	ID           string    `db:"id"`
	Name         string    `db:"name"`
	ProfileID    string    `db:"profile_id"`
	ClusterID    string    `db:"cluster_id"`
	Index        int       `db:"index_num"`
	Status       string    `db:"status"`
	StatusReason string    `db:"status_reason"`
	Owner        string    `db:"owner"`
	Metadata     string    `db:"metadata"`
	Placement    string    `db:"placement"`
	Data         string    `db:"data"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (row *nodeRow) toModel() (*models.Node, error) {
	n := &models.Node{
		ID:           row.ID,
		Name:         row.Name,
		ProfileID:    row.ProfileID,
		ClusterID:    row.ClusterID,
		Index:        row.Index,
		Status:       models.NodeStatus(row.Status),
		StatusReason: row.StatusReason,
		Owner:        row.Owner,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
	if err := unmarshalJSON(row.Metadata, &n.Metadata); err != nil {
		return nil, fmt.Errorf("decode node metadata: %w", err)
	}
	if err := unmarshalJSON(row.Placement, &n.Placement); err != nil {
		return nil, fmt.Errorf("decode node placement: %w", err)
	}
	if err := unmarshalJSON(row.Data, &n.Data); err != nil {
		return nil, fmt.Errorf("decode node data: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) CreateNode(ctx context.Context, node *models.Node) error {
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	now := time.Now()
	_, err = r.db.ExecContext(ctx, query,
		node.ID, node.Name, node.ProfileID, node.ClusterID, node.Index, node.Status,
		node.StatusReason, node.Owner, meta, placement, data, now, now,
	)
	return err
}

func (r *PostgresRepository) GetNode(ctx context.Context, id string) (*models.Node, error) {
	var row nodeRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM nodes WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engineerr.NotFoundf("node %s", id)
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

func (r *PostgresRepository) StoreNode(ctx context.Context, node *models.Node) error {
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
		SET name = $1, profile_id = $2, cluster_id = $3, index_num = $4, status = $5,
		    status_reason = $6, owner = $7, metadata = $8, placement = $9, data = $10,
		    updated_at = $11
		WHERE id = $12
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

func (r *PostgresRepository) DeleteNode(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM nodes WHERE id = $1`, id)
	return err
}

func (r *PostgresRepository) ListByCluster(ctx context.Context, clusterID string) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `SELECT id FROM nodes WHERE cluster_id = $1`, clusterID)
	return ids, err
}

// --- ActionRepository ---

type actionRow struct {
	ID           string    `db:"id"`
	Name         string    `db:"name"`
	Target       string    `db:"target"`
	Kind         string    `db:"kind"`
	Status       string    `db:"status"`
	StatusReason string    `db:"status_reason"`
	Result       string    `db:"result"`
	ResultMsg    string    `db:"result_message"`
	Cause        string    `db:"cause"`
	Owner        string    `db:"owner"`
	ParentID     string    `db:"parent_id"`
	Inputs       string    `db:"inputs"`
	Data         string    `db:"data"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (row *actionRow) toModel() (*models.Action, error) {
	a := &models.Action{
		ID:           row.ID,
		Name:         row.Name,
		Target:       row.Target,
		Kind:         models.ActionKind(row.Kind),
		Status:       models.ActionStatus(row.Status),
		StatusReason: row.StatusReason,
		Result:       models.ResultCode(row.Result),
		ResultMsg:    row.ResultMsg,
		Cause:        models.ActionCause(row.Cause),
		Owner:        row.Owner,
		ParentID:     row.ParentID,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
	if err := unmarshalJSON(row.Inputs, &a.Inputs); err != nil {
		return nil, fmt.Errorf("decode action inputs: %w", err)
	}
	if err := unmarshalJSON(row.Data, &a.Data); err != nil {
		return nil, fmt.Errorf("decode action data: %w", err)
	}
	return a, nil
}

func (r *PostgresRepository) StoreAction(ctx context.Context, action *models.Action) error {
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status, status_reason = EXCLUDED.status_reason,
			result = EXCLUDED.result, result_message = EXCLUDED.result_message,
			data = EXCLUDED.data, updated_at = EXCLUDED.updated_at
	`
	now := time.Now()
	_, err = r.db.ExecContext(ctx, query,
		action.ID, action.Name, action.Target, action.Kind, action.Status,
		action.StatusReason, action.Result, action.ResultMsg, action.Cause,
		action.Owner, action.ParentID, inputs, data, now, now,
	)
	return err
}

func (r *PostgresRepository) GetAction(ctx context.Context, id string) (*models.Action, error) {
	var row actionRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM actions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engineerr.NotFoundf("action %s", id)
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

func (r *PostgresRepository) AddDependency(ctx context.Context, childID, parentID string) error {
	query := `
		INSERT INTO action_dependencies (child_id, parent_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query, childID, parentID)
	return err
}

func (r *PostgresRepository) ListDependents(ctx context.Context, parentID string) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids,
		`SELECT child_id FROM action_dependencies WHERE parent_id = $1`, parentID)
	return ids, err
}

func (r *PostgresRepository) SetActionStatus(ctx context.Context, id string, status models.ActionStatus, reason string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE actions SET status = $1, status_reason = $2, updated_at = $3 WHERE id = $4`,
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

type bindingRow struct {
	ID        string    `db:"id"`
	ClusterID string    `db:"cluster_id"`
	PolicyID  string    `db:"policy_id"`
	Priority  int       `db:"priority"`
	Cooldown  int       `db:"cooldown"`
	Level     int       `db:"level"`
	Enabled   bool      `db:"enabled"`
	Data      string    `db:"data"`
	LastRunAt time.Time `db:"last_run_at"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (row *bindingRow) toModel() (*models.ClusterPolicyBinding, error) {
	b := &models.ClusterPolicyBinding{
		ID:        row.ID,
		ClusterID: row.ClusterID,
		PolicyID:  row.PolicyID,
		Priority:  row.Priority,
		Cooldown:  row.Cooldown,
		Level:     models.PolicyLevel(row.Level),
		Enabled:   row.Enabled,
		LastRunAt: row.LastRunAt,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if err := unmarshalJSON(row.Data, &b.Data); err != nil {
		return nil, fmt.Errorf("decode binding data: %w", err)
	}
	return b, nil
}

func (r *PostgresRepository) CreateBinding(ctx context.Context, binding *models.ClusterPolicyBinding) error {
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	now := time.Now()
	_, err = r.db.ExecContext(ctx, query,
		binding.ID, binding.ClusterID, binding.PolicyID, binding.Priority,
		binding.Cooldown, binding.Level, binding.Enabled, data, binding.LastRunAt, now, now,
	)
	return err
}

func (r *PostgresRepository) GetBinding(ctx context.Context, clusterID, policyID string) (*models.ClusterPolicyBinding, error) {
	var row bindingRow
	err := r.db.GetContext(ctx, &row,
		`SELECT * FROM policy_bindings WHERE cluster_id = $1 AND policy_id = $2`, clusterID, policyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engineerr.NotFoundf("policy binding %s/%s", clusterID, policyID)
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

func (r *PostgresRepository) ListBindingsByCluster(ctx context.Context, clusterID string) ([]*models.ClusterPolicyBinding, error) {
	var rows []bindingRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM policy_bindings WHERE cluster_id = $1 ORDER BY priority ASC`, clusterID)
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

func (r *PostgresRepository) UpdateBinding(ctx context.Context, binding *models.ClusterPolicyBinding) error {
	data, err := marshalJSON(binding.Data)
	if err != nil {
		return err
	}
	query := `
		UPDATE policy_bindings
		SET priority = $1, cooldown = $2, level = $3, enabled = $4, data = $5,
		    last_run_at = $6, updated_at = $7
		WHERE cluster_id = $8 AND policy_id = $9
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

func (r *PostgresRepository) DeleteBinding(ctx context.Context, clusterID, policyID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM policy_bindings WHERE cluster_id = $1 AND policy_id = $2`, clusterID, policyID)
	return err
}

// --- ProfileRepository ---

type profileRow struct {
	ID         string    `db:"id"`
	Type       string    `db:"type"`
	Version    string    `db:"version"`
	Properties string    `db:"properties"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (row *profileRow) toModel() (*models.ProfileSpec, error) {
	p := &models.ProfileSpec{
		ID:        row.ID,
		Type:      row.Type,
		Version:   row.Version,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if err := unmarshalJSON(row.Properties, &p.Properties); err != nil {
		return nil, fmt.Errorf("decode profile properties: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) GetProfile(ctx context.Context, id string) (*models.ProfileSpec, error) {
	var row profileRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM profiles WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engineerr.NotFoundf("profile %s", id)
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

func (r *PostgresRepository) ListProfiles(ctx context.Context) ([]*models.ProfileSpec, error) {
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

func (r *PostgresRepository) CreateProfile(ctx context.Context, profile *models.ProfileSpec) error {
	if profile.ID == "" {
		profile.ID = uuid.New().String()
	}
	props, err := marshalJSON(profile.Properties)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO profiles (id, type, version, properties, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	now := time.Now()
	_, err = r.db.ExecContext(ctx, query, profile.ID, profile.Type, profile.Version, props, now, now)
	return err
}

// BeginTx exposes a raw transaction for callers that need atomicity across
// more than one of the calls above (e.g. _update_cluster_properties).
func (r *PostgresRepository) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	return r.db.BeginTxx(ctx, nil)
}
