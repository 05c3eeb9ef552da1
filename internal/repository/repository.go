package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"starthub/submission/internal/model"
)

func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	return pgxpool.NewWithConfig(ctx, cfg)
}

type Store struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewStore(pool *pgxpool.Pool, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Store{pool: pool, timeout: timeout}
}

// queryCtx bounds every store call so a stalled database cannot hold a
// request open past the configured timeout.
func (s *Store) queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) CreateUser(ctx context.Context, user model.User) error {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, email, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, user.ID, user.Email, user.PasswordHash, user.Role, user.CreatedAt)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	var user model.User
	row := s.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, role, created_at
		FROM users
		WHERE email = $1
	`, email)
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt)
	return user, err
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (model.User, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	var user model.User
	row := s.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, role, created_at
		FROM users
		WHERE id = $1
	`, userID)
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt)
	return user, err
}

func (s *Store) CreateProject(ctx context.Context, project model.Project) error {
	team, err := json.Marshal(project.Team)
	if err != nil {
		return err
	}
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO projects (id, title, description, team, created_by, status, assigned_to, deadline, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, project.ID, project.Title, project.Description, team, project.CreatedBy, project.Status, project.AssignedTo, project.Deadline, project.CreatedAt, project.UpdatedAt)
	return err
}

const projectColumns = `id, title, description, team, created_by, status, assigned_to, deadline, created_at, updated_at`

func (s *Store) GetProject(ctx context.Context, projectID string) (model.Project, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	row := s.pool.QueryRow(ctx, `
		SELECT `+projectColumns+`
		FROM projects
		WHERE id = $1
	`, projectID)
	return scanProject(row)
}

func (s *Store) GetProjectByCreator(ctx context.Context, userID string) (model.Project, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	row := s.pool.QueryRow(ctx, `
		SELECT `+projectColumns+`
		FROM projects
		WHERE created_by = $1
	`, userID)
	return scanProject(row)
}

func (s *Store) ListProjects(ctx context.Context, limit, offset int) ([]model.Project, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	rows, err := s.pool.Query(ctx, `
		SELECT `+projectColumns+`
		FROM projects
		ORDER BY created_at
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProjects(rows)
}

func (s *Store) ListProjectsByStatus(ctx context.Context, status model.Status) ([]model.Project, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	rows, err := s.pool.Query(ctx, `
		SELECT `+projectColumns+`
		FROM projects
		WHERE status = $1
		ORDER BY created_at
	`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProjects(rows)
}

func (s *Store) ListProjectsByCenter(ctx context.Context, center model.Center) ([]model.Project, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	rows, err := s.pool.Query(ctx, `
		SELECT `+projectColumns+`
		FROM projects
		WHERE assigned_to = $1
		ORDER BY created_at
	`, center)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProjects(rows)
}

func (s *Store) CountProjectsByStatus(ctx context.Context, status model.Status) (int, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM projects WHERE status = $1`, status).Scan(&count)
	return count, err
}

// UpdateProjectFields lands only while the project is still saved, so an edit
// racing a submission or the sweep cannot overwrite a submitted project.
func (s *Store) UpdateProjectFields(ctx context.Context, projectID, title, description string, team []model.TeamMember, updatedAt time.Time) (bool, error) {
	encoded, err := json.Marshal(team)
	if err != nil {
		return false, err
	}
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	tag, err := s.pool.Exec(ctx, `
		UPDATE projects
		SET title = $2, description = $3, team = $4, updated_at = $5
		WHERE id = $1 AND status = $6
	`, projectID, title, description, encoded, updatedAt, model.StatusSaved)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateProjectStatus is the entity-level compare-and-set: the write lands
// only if the status is still the one the caller observed.
func (s *Store) UpdateProjectStatus(ctx context.Context, projectID string, from, to model.Status, updatedAt time.Time) (bool, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	tag, err := s.pool.Exec(ctx, `
		UPDATE projects
		SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`, projectID, from, to, updatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// AssignProject moves the project to assigned and records the center in one
// conditional write. A project that is already assigned never matches.
func (s *Store) AssignProject(ctx context.Context, projectID string, from model.Status, center model.Center, updatedAt time.Time) (bool, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	tag, err := s.pool.Exec(ctx, `
		UPDATE projects
		SET status = $3, assigned_to = $4, updated_at = $5
		WHERE id = $1 AND status = $2 AND assigned_to IS NULL
	`, projectID, from, model.StatusAssigned, center, updatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) GetGlobalDeadline(ctx context.Context) (model.GlobalDeadline, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	var deadline model.GlobalDeadline
	err := s.pool.QueryRow(ctx, `SELECT deadline FROM global_deadline WHERE id = 1`).Scan(&deadline.Deadline)
	return deadline, err
}

func (s *Store) SetGlobalDeadline(ctx context.Context, deadline time.Time) error {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO global_deadline (id, deadline)
		VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET deadline = EXCLUDED.deadline
	`, deadline)
	return err
}

type projectRow interface {
	Scan(dest ...interface{}) error
}

func scanProject(row projectRow) (model.Project, error) {
	var project model.Project
	var team []byte
	err := row.Scan(
		&project.ID,
		&project.Title,
		&project.Description,
		&team,
		&project.CreatedBy,
		&project.Status,
		&project.AssignedTo,
		&project.Deadline,
		&project.CreatedAt,
		&project.UpdatedAt,
	)
	if err != nil {
		return model.Project{}, err
	}
	if len(team) > 0 {
		if err := json.Unmarshal(team, &project.Team); err != nil {
			return model.Project{}, err
		}
	}
	return project, nil
}

func collectProjects(rows pgx.Rows) ([]model.Project, error) {
	projects := []model.Project{}
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}
