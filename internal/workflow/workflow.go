package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"starthub/submission/internal/model"
)

const (
	ErrProjectNotFound     = "project_not_found"
	ErrNotOwner            = "not_project_owner"
	ErrDuplicateProject    = "project_already_exists"
	ErrValidation          = "validation_failed"
	ErrProjectLocked       = "project_locked"
	ErrDeadlinePassed      = "deadline_passed"
	ErrAlreadySubmitted    = "already_submitted"
	ErrAlreadyAssigned     = "already_assigned"
	ErrAlreadyTerminal     = "already_terminal"
	ErrInvalidTransition   = "invalid_transition"
	ErrInvalidTargetStatus = "invalid_target_status"
	ErrUnsweptProjects     = "unswept_projects_remain"
	ErrConflict            = "conflict"
	ErrInvalidDeadline     = "invalid_deadline"
	ErrServerError         = "server_error"
)

// Error carries a stable machine code and, for transition failures, the
// authoritative status so the caller can reconcile.
type Error struct {
	Code   string
	Status model.Status
	Fields []FieldError
}

func (e *Error) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("%s (status=%s)", e.Code, e.Status)
	}
	return e.Code
}

type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// Store is the persistence surface the state machine needs. Status updates
// are conditional writes keyed on the previously observed status.
type Store interface {
	CreateProject(ctx context.Context, project model.Project) error
	GetProject(ctx context.Context, projectID string) (model.Project, error)
	GetProjectByCreator(ctx context.Context, userID string) (model.Project, error)
	ListProjects(ctx context.Context, limit, offset int) ([]model.Project, error)
	ListProjectsByStatus(ctx context.Context, status model.Status) ([]model.Project, error)
	ListProjectsByCenter(ctx context.Context, center model.Center) ([]model.Project, error)
	CountProjectsByStatus(ctx context.Context, status model.Status) (int, error)
	UpdateProjectFields(ctx context.Context, projectID, title, description string, team []model.TeamMember, updatedAt time.Time) (bool, error)
	UpdateProjectStatus(ctx context.Context, projectID string, from, to model.Status, updatedAt time.Time) (bool, error)
	AssignProject(ctx context.Context, projectID string, from model.Status, center model.Center, updatedAt time.Time) (bool, error)
	GetGlobalDeadline(ctx context.Context) (model.GlobalDeadline, error)
	SetGlobalDeadline(ctx context.Context, deadline time.Time) error
}

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// canTransition is the closed transition table. saved only leaves via
// submission or sweep; assigned and rejected are terminal.
func canTransition(from, to model.Status) bool {
	switch from {
	case model.StatusSaved:
		return to == model.StatusSent
	case model.StatusSent:
		return to == model.StatusInProgress || to == model.StatusAssigned || to == model.StatusRejected
	case model.StatusInProgress:
		return to == model.StatusInProgress || to == model.StatusAssigned || to == model.StatusRejected
	default:
		return false
	}
}

type ProjectInput struct {
	Title       string
	Description string
	Team        []model.TeamMember
}

func (s *Service) CreateProject(ctx context.Context, actorID string, input ProjectInput) (model.Project, error) {
	if fields := validateProjectInput(input); len(fields) > 0 {
		return model.Project{}, &Error{Code: ErrValidation, Fields: fields}
	}

	_, err := s.store.GetProjectByCreator(ctx, actorID)
	if err == nil {
		return model.Project{}, &Error{Code: ErrDuplicateProject}
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Project{}, &Error{Code: ErrServerError}
	}

	now := s.now()
	project := model.Project{
		ID:          uuid.NewString(),
		Title:       input.Title,
		Description: input.Description,
		Team:        input.Team,
		CreatedBy:   actorID,
		Status:      model.StatusSaved,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateProject(ctx, project); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return model.Project{}, &Error{Code: ErrDuplicateProject}
		}
		return model.Project{}, &Error{Code: ErrServerError}
	}
	return project, nil
}

type EditInput struct {
	Title       *string
	Description *string
	Team        *[]model.TeamMember
}

func (s *Service) EditProject(ctx context.Context, actorID, projectID string, input EditInput) (model.Project, error) {
	project, err := s.ownedProject(ctx, actorID, projectID)
	if err != nil {
		return model.Project{}, err
	}
	if project.Status != model.StatusSaved {
		return model.Project{}, &Error{Code: ErrProjectLocked, Status: project.Status}
	}

	deadline, set, err := s.effectiveDeadline(ctx, project)
	if err != nil {
		return model.Project{}, err
	}
	if set && !s.now().Before(deadline) {
		return model.Project{}, &Error{Code: ErrDeadlinePassed, Status: project.Status}
	}

	if input.Title != nil {
		project.Title = *input.Title
	}
	if input.Description != nil {
		project.Description = *input.Description
	}
	if input.Team != nil {
		project.Team = *input.Team
	}
	if fields := validateProjectInput(ProjectInput{Title: project.Title, Description: project.Description, Team: project.Team}); len(fields) > 0 {
		return model.Project{}, &Error{Code: ErrValidation, Fields: fields}
	}

	// The write is conditional on the project still being saved: a submission
	// or sweep landing between the read and the write locks the edit out.
	project.UpdatedAt = s.now()
	ok, err := s.store.UpdateProjectFields(ctx, project.ID, project.Title, project.Description, project.Team, project.UpdatedAt)
	if err != nil {
		return model.Project{}, &Error{Code: ErrServerError}
	}
	if !ok {
		current, err := s.getProject(ctx, project.ID)
		if err != nil {
			return model.Project{}, err
		}
		if current.Status != model.StatusSaved {
			return model.Project{}, &Error{Code: ErrProjectLocked, Status: current.Status}
		}
		return model.Project{}, &Error{Code: ErrConflict, Status: current.Status}
	}
	return project, nil
}

type SubmitResult struct {
	Project        model.Project
	DeadlinePassed bool
}

// SubmitProject moves saved to sent for the owner. Submission past the global
// deadline is still accepted as a forced submission; the result notes it.
// A lost race against the sweeper reports the authoritative status instead of
// overwriting it.
func (s *Service) SubmitProject(ctx context.Context, actorID, projectID string) (SubmitResult, error) {
	project, err := s.ownedProject(ctx, actorID, projectID)
	if err != nil {
		return SubmitResult{}, err
	}
	if project.Status == model.StatusSent {
		return SubmitResult{}, &Error{Code: ErrAlreadySubmitted, Status: project.Status}
	}
	if project.Status != model.StatusSaved {
		return SubmitResult{}, &Error{Code: ErrProjectLocked, Status: project.Status}
	}

	deadline, set, err := s.effectiveDeadline(ctx, project)
	if err != nil {
		return SubmitResult{}, err
	}
	deadlinePassed := set && !s.now().Before(deadline)

	now := s.now()
	ok, err := s.store.UpdateProjectStatus(ctx, project.ID, model.StatusSaved, model.StatusSent, now)
	if err != nil {
		return SubmitResult{}, &Error{Code: ErrServerError}
	}
	if !ok {
		return SubmitResult{}, s.transitionLost(ctx, project.ID, model.StatusSent, ErrAlreadySubmitted)
	}

	project.Status = model.StatusSent
	project.UpdatedAt = now
	return SubmitResult{Project: project, DeadlinePassed: deadlinePassed}, nil
}

// SetStatus is the admin override. Only in_progress and rejected may be set
// manually: sent is reached through submission or the sweep, assigned through
// ConfirmAssignment.
func (s *Service) SetStatus(ctx context.Context, projectID string, target model.Status) (model.Project, error) {
	if target != model.StatusInProgress && target != model.StatusRejected {
		return model.Project{}, &Error{Code: ErrInvalidTargetStatus}
	}

	project, err := s.getProject(ctx, projectID)
	if err != nil {
		return model.Project{}, err
	}
	if project.Status.Terminal() {
		return model.Project{}, &Error{Code: ErrAlreadyTerminal, Status: project.Status}
	}
	if !canTransition(project.Status, target) {
		return model.Project{}, &Error{Code: ErrInvalidTransition, Status: project.Status}
	}
	if target == model.StatusRejected {
		if err := s.requireAllSwept(ctx); err != nil {
			return model.Project{}, err
		}
	}

	now := s.now()
	ok, err := s.store.UpdateProjectStatus(ctx, project.ID, project.Status, target, now)
	if err != nil {
		return model.Project{}, &Error{Code: ErrServerError}
	}
	if !ok {
		return model.Project{}, s.transitionLost(ctx, project.ID, target, ErrConflict)
	}

	project.Status = target
	project.UpdatedAt = now
	return project, nil
}

// ConfirmAssignment is terminal: it refuses while any project is still saved
// and refuses a second assignment rather than overwriting the first.
func (s *Service) ConfirmAssignment(ctx context.Context, projectID string, center model.Center) (model.Project, error) {
	if err := s.requireAllSwept(ctx); err != nil {
		return model.Project{}, err
	}

	project, err := s.getProject(ctx, projectID)
	if err != nil {
		return model.Project{}, err
	}
	if project.AssignedTo != nil || project.Status == model.StatusAssigned {
		return model.Project{}, &Error{Code: ErrAlreadyAssigned, Status: project.Status}
	}
	if !canTransition(project.Status, model.StatusAssigned) {
		return model.Project{}, &Error{Code: ErrInvalidTransition, Status: project.Status}
	}

	now := s.now()
	ok, err := s.store.AssignProject(ctx, project.ID, project.Status, center, now)
	if err != nil {
		return model.Project{}, &Error{Code: ErrServerError}
	}
	if !ok {
		return model.Project{}, s.transitionLost(ctx, project.ID, model.StatusAssigned, ErrAlreadyAssigned)
	}

	project.Status = model.StatusAssigned
	project.AssignedTo = &center
	project.UpdatedAt = now
	return project, nil
}

func (s *Service) SetGlobalDeadline(ctx context.Context, deadline time.Time) error {
	if deadline.IsZero() {
		return &Error{Code: ErrInvalidDeadline}
	}
	if err := s.store.SetGlobalDeadline(ctx, deadline.UTC()); err != nil {
		return &Error{Code: ErrServerError}
	}
	return nil
}

func (s *Service) GlobalDeadline(ctx context.Context) (model.GlobalDeadline, bool, error) {
	deadline, err := s.store.GetGlobalDeadline(ctx)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.GlobalDeadline{}, false, nil
	}
	if err != nil {
		return model.GlobalDeadline{}, false, &Error{Code: ErrServerError}
	}
	return deadline, true, nil
}

type SweepFailure struct {
	ProjectID string `json:"project_id"`
	Reason    string `json:"reason"`
}

type SweepResult struct {
	Transitioned int            `json:"transitioned"`
	Failures     []SweepFailure `json:"failures"`
}

// SweepDeadlines force-submits every saved project whose effective deadline
// has passed. Per-entity failures accumulate without aborting the batch, and
// a project that lost its compare-and-set to a concurrent submission is
// counted as already transitioned, not as a failure. Running the sweep twice
// transitions nothing the second time.
func (s *Service) SweepDeadlines(ctx context.Context) (SweepResult, error) {
	result := SweepResult{Failures: []SweepFailure{}}

	global, globalSet, err := s.GlobalDeadline(ctx)
	if err != nil {
		return result, err
	}

	saved, err := s.store.ListProjectsByStatus(ctx, model.StatusSaved)
	if err != nil {
		return result, &Error{Code: ErrServerError}
	}

	now := s.now()
	for _, project := range saved {
		deadline := global.Deadline
		set := globalSet
		if project.Deadline != nil {
			deadline = *project.Deadline
			set = true
		}
		if !set || now.Before(deadline) {
			continue
		}

		ok, err := s.store.UpdateProjectStatus(ctx, project.ID, model.StatusSaved, model.StatusSent, now)
		if err != nil {
			result.Failures = append(result.Failures, SweepFailure{ProjectID: project.ID, Reason: err.Error()})
			continue
		}
		if ok {
			result.Transitioned++
		}
	}
	return result, nil
}

func (s *Service) ProjectOfOwner(ctx context.Context, actorID string) (model.Project, error) {
	project, err := s.store.GetProjectByCreator(ctx, actorID)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Project{}, &Error{Code: ErrProjectNotFound}
	}
	if err != nil {
		return model.Project{}, &Error{Code: ErrServerError}
	}
	return project, nil
}

func (s *Service) ListProjects(ctx context.Context, limit, offset int) ([]model.Project, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	projects, err := s.store.ListProjects(ctx, limit, offset)
	if err != nil {
		return nil, &Error{Code: ErrServerError}
	}
	return projects, nil
}

func (s *Service) ListByCenter(ctx context.Context, center model.Center) ([]model.Project, error) {
	projects, err := s.store.ListProjectsByCenter(ctx, center)
	if err != nil {
		return nil, &Error{Code: ErrServerError}
	}
	return projects, nil
}

func (s *Service) getProject(ctx context.Context, projectID string) (model.Project, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Project{}, &Error{Code: ErrProjectNotFound}
	}
	if err != nil {
		return model.Project{}, &Error{Code: ErrServerError}
	}
	return project, nil
}

func (s *Service) ownedProject(ctx context.Context, actorID, projectID string) (model.Project, error) {
	project, err := s.getProject(ctx, projectID)
	if err != nil {
		return model.Project{}, err
	}
	if project.CreatedBy != actorID {
		return model.Project{}, &Error{Code: ErrNotOwner}
	}
	return project, nil
}

// effectiveDeadline prefers the per-project override over the global
// singleton. set is false when neither exists.
func (s *Service) effectiveDeadline(ctx context.Context, project model.Project) (time.Time, bool, error) {
	if project.Deadline != nil {
		return *project.Deadline, true, nil
	}
	global, globalSet, err := s.GlobalDeadline(ctx)
	if err != nil {
		return time.Time{}, false, err
	}
	return global.Deadline, globalSet, nil
}

func (s *Service) requireAllSwept(ctx context.Context) error {
	count, err := s.store.CountProjectsByStatus(ctx, model.StatusSaved)
	if err != nil {
		return &Error{Code: ErrServerError}
	}
	if count > 0 {
		return &Error{Code: ErrUnsweptProjects}
	}
	return nil
}

// transitionLost re-reads after a failed compare-and-set so the caller sees
// the authoritative status. reachedCode is reported when the concurrent
// writer already landed the same target.
func (s *Service) transitionLost(ctx context.Context, projectID string, target model.Status, reachedCode string) error {
	current, err := s.getProject(ctx, projectID)
	if err != nil {
		return err
	}
	if current.Status == target {
		return &Error{Code: reachedCode, Status: current.Status}
	}
	return &Error{Code: ErrConflict, Status: current.Status}
}

func validateProjectInput(input ProjectInput) []FieldError {
	fields := []FieldError{}
	if input.Title == "" {
		fields = append(fields, FieldError{Field: "title", Reason: "required"})
	}
	if input.Description == "" {
		fields = append(fields, FieldError{Field: "description", Reason: "required"})
	}
	if len(input.Team) < 1 || len(input.Team) > 6 {
		fields = append(fields, FieldError{Field: "team", Reason: "must have between 1 and 6 members"})
		return fields
	}
	for i, member := range input.Team {
		prefix := fmt.Sprintf("team[%d].", i)
		if member.FirstName == "" {
			fields = append(fields, FieldError{Field: prefix + "first_name", Reason: "required"})
		}
		if member.LastName == "" {
			fields = append(fields, FieldError{Field: prefix + "last_name", Reason: "required"})
		}
		if member.StudentID == "" {
			fields = append(fields, FieldError{Field: prefix + "student_id", Reason: "required"})
		}
		if member.YearOfInscription <= 0 {
			fields = append(fields, FieldError{Field: prefix + "year_of_inscription", Reason: "required"})
		}
		if member.Speciality == "" {
			fields = append(fields, FieldError{Field: prefix + "speciality", Reason: "required"})
		}
		if member.PhoneNumber == "" {
			fields = append(fields, FieldError{Field: prefix + "phone_number", Reason: "required"})
		}
		if member.Email == "" {
			fields = append(fields, FieldError{Field: prefix + "email", Reason: "required"})
		}
	}
	return fields
}
