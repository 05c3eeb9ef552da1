package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"starthub/submission/internal/auth"
	"starthub/submission/internal/config"
	"starthub/submission/internal/crypto"
	"starthub/submission/internal/model"
	"starthub/submission/internal/workflow"
)

type userStore interface {
	CreateUser(ctx context.Context, user model.User) error
	GetUserByEmail(ctx context.Context, email string) (model.User, error)
	GetUserByID(ctx context.Context, userID string) (model.User, error)
}

type revocationStore interface {
	Revoke(ctx context.Context, token string, ttl time.Duration) error
	IsRevoked(ctx context.Context, token string) (bool, error)
}

type Server struct {
	cfg         config.Config
	users       userStore
	flow        *workflow.Service
	revocations revocationStore
}

func NewServer(cfg config.Config, users userStore, flow *workflow.Service, revocations revocationStore) *Server {
	return &Server{
		cfg:         cfg,
		users:       users,
		flow:        flow,
		revocations: revocations,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/auth/register", s.handleRegister)
	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/federated", s.handleFederatedLogin)
	r.With(s.authMiddleware).Post("/auth/logout", s.handleLogout)
	r.With(s.authMiddleware).Get("/auth/me", s.handleGetMe)

	r.Route("/projects", func(r chi.Router) {
		r.Use(s.authMiddleware, s.requireRoles(model.RoleStudent))
		r.Post("/", s.handleCreateProject)
		r.Get("/mine", s.handleGetMyProject)
		r.Patch("/{projectID}", s.handleEditProject)
		r.Post("/{projectID}/submit", s.handleSubmitProject)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.authMiddleware, s.requireRoles(model.RoleAdmin))
		r.Get("/projects", s.handleListProjects)
		r.Post("/users", s.handleCreateUser)
		r.Put("/deadline", s.handleSetDeadline)
		r.Get("/deadline", s.handleGetDeadline)
		r.Post("/sweep", s.handleSweep)
		r.Post("/projects/{projectID}/status", s.handleSetStatus)
		r.Post("/projects/{projectID}/assignment", s.handleConfirmAssignment)
	})

	r.With(s.authMiddleware, s.requireRoles(model.RoleCenterIncubator, model.RoleCenterCati, model.RoleCenterCde)).
		Get("/center/projects", s.handleCenterProjects)

	return r
}

// authMiddleware is the access gate. Check order is fixed: token presence,
// then signature/structure, then expiry, then revocation, so a response never
// reveals more than the weakest failing check. Role checks come after, in
// requireRoles. A revocation store outage fails closed.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}

		claims, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, token)
		if err != nil {
			if errors.Is(err, auth.ErrTokenExpired) {
				writeError(w, http.StatusUnauthorized, "token_expired")
				return
			}
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}

		revoked, err := s.revocations.IsRevoked(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "revocation_unavailable")
			return
		}
		if revoked {
			writeError(w, http.StatusUnauthorized, "token_revoked")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		ctx = context.WithValue(ctx, rawTokenKey{}, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRoles gates a route to the listed roles. An empty list means any
// authenticated identity.
func (s *Server) requireRoles(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := claimsFromContext(r.Context())
			if claims == nil {
				writeError(w, http.StatusUnauthorized, "missing_token")
				return
			}
			if len(roles) > 0 && !hasRole(claims.Role, roles) {
				writeError(w, http.StatusForbidden, "insufficient_role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  userSummary `json:"user"`
}

type userSummary struct {
	ID    string     `json:"id"`
	Email string     `json:"email"`
	Role  model.Role `json:"role"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_credentials")
		return
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "password_hash_failed")
		return
	}

	user := model.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		PasswordHash: hash,
		Role:         model.RoleStudent,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.CreateUser(r.Context(), user); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			writeError(w, http.StatusConflict, "email_in_use")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusCreated, userSummary{ID: user.ID, Email: user.Email, Role: user.Role})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_credentials")
		return
	}

	user, err := s.users.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if err := crypto.CheckPassword(user.PasswordHash, req.Password); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	s.writeAuthResponse(w, user, s.cfg.LoginTokenTTL)
}

type federatedRequest struct {
	Email string `json:"email"`
}

// handleFederatedLogin is the second issuance path: a trusted identity
// collaborator that has already verified the email exchanges it for an access
// token with the same claim shape as a password login.
func (s *Server) handleFederatedLogin(w http.ResponseWriter, r *http.Request) {
	if s.cfg.ServiceAuthToken == "" {
		writeError(w, http.StatusServiceUnavailable, "federated_login_disabled")
		return
	}
	provided := strings.TrimSpace(r.Header.Get("X-Service-Token"))
	if provided == "" {
		writeError(w, http.StatusUnauthorized, "missing_service_token")
		return
	}
	if subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.ServiceAuthToken)) != 1 {
		writeError(w, http.StatusForbidden, "invalid_service_token")
		return
	}

	var req federatedRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "missing_email")
		return
	}

	user, err := s.users.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "unknown_identity")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	s.writeAuthResponse(w, user, s.cfg.FederatedTokenTTL)
}

func (s *Server) writeAuthResponse(w http.ResponseWriter, user model.User, ttl time.Duration) {
	token, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, ttl, auth.Claims{
		UserID: user.ID,
		Role:   user.Role,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}
	writeJSON(w, http.StatusOK, authResponse{
		Token: token,
		User:  userSummary{ID: user.ID, Email: user.Email, Role: user.Role},
	})
}

// handleLogout records the presented token as revoked for exactly its
// remaining lifetime, so the entry expires no later than the token itself.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	token := rawTokenFromContext(r.Context())
	if claims == nil || token == "" {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	ttl := time.Until(claims.ExpiresAt.Time)
	if err := s.revocations.Revoke(r.Context(), token, ttl); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	user, err := s.users.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, http.StatusNotFound, "user_not_found")
		return
	}
	writeJSON(w, http.StatusOK, userSummary{ID: user.ID, Email: user.Email, Role: user.Role})
}

type createUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" || req.Role == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}
	role, err := model.ParseRole(strings.TrimSpace(strings.ToLower(req.Role)))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_role")
		return
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "password_hash_failed")
		return
	}
	user := model.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.CreateUser(r.Context(), user); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			writeError(w, http.StatusConflict, "email_in_use")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusCreated, userSummary{ID: user.ID, Email: user.Email, Role: user.Role})
}

type projectRequest struct {
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Team        []model.TeamMember `json:"team"`
}

type editProjectRequest struct {
	Title       *string             `json:"title,omitempty"`
	Description *string             `json:"description,omitempty"`
	Team        *[]model.TeamMember `json:"team,omitempty"`
}

type projectResponse struct {
	ID          string             `json:"id"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Team        []model.TeamMember `json:"team"`
	Status      model.Status       `json:"status"`
	AssignedTo  *model.Center      `json:"assignedTo,omitempty"`
	Deadline    *string            `json:"deadline,omitempty"`
	CreatedAt   string             `json:"createdAt"`
	UpdatedAt   string             `json:"updatedAt"`
}

func mapProjectResponse(project model.Project) projectResponse {
	resp := projectResponse{
		ID:          project.ID,
		Title:       project.Title,
		Description: project.Description,
		Team:        project.Team,
		Status:      project.Status,
		AssignedTo:  project.AssignedTo,
		CreatedAt:   project.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   project.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if project.Deadline != nil {
		formatted := project.Deadline.UTC().Format(time.RFC3339)
		resp.Deadline = &formatted
	}
	return resp
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	var req projectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	project, err := s.flow.CreateProject(r.Context(), claims.UserID, workflow.ProjectInput{
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		Team:        req.Team,
	})
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, mapProjectResponse(project))
}

func (s *Server) handleGetMyProject(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	project, err := s.flow.ProjectOfOwner(r.Context(), claims.UserID)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapProjectResponse(project))
}

func (s *Server) handleEditProject(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	projectID := chi.URLParam(r, "projectID")
	var req editProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	project, err := s.flow.EditProject(r.Context(), claims.UserID, projectID, workflow.EditInput{
		Title:       req.Title,
		Description: req.Description,
		Team:        req.Team,
	})
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapProjectResponse(project))
}

func (s *Server) handleSubmitProject(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	projectID := chi.URLParam(r, "projectID")

	result, err := s.flow.SubmitProject(r.Context(), claims.UserID, projectID)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"project":        mapProjectResponse(result.Project),
		"deadlinePassed": result.DeadlinePassed,
	})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	limit := 50
	offset := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	projects, err := s.flow.ListProjects(r.Context(), limit, offset)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	resp := make([]projectResponse, 0, len(projects))
	for _, project := range projects {
		resp = append(resp, mapProjectResponse(project))
	}
	writeJSON(w, http.StatusOK, resp)
}

type setDeadlineRequest struct {
	Deadline string `json:"deadline"`
}

func (s *Server) handleSetDeadline(w http.ResponseWriter, r *http.Request) {
	var req setDeadlineRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	deadline, err := time.Parse(time.RFC3339, req.Deadline)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_deadline")
		return
	}
	if err := s.flow.SetGlobalDeadline(r.Context(), deadline); err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deadline": deadline.UTC().Format(time.RFC3339)})
}

func (s *Server) handleGetDeadline(w http.ResponseWriter, r *http.Request) {
	deadline, set, err := s.flow.GlobalDeadline(r.Context())
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	if !set {
		writeError(w, http.StatusNotFound, "deadline_not_set")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deadline": deadline.Deadline.UTC().Format(time.RFC3339)})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	result, err := s.flow.SweepDeadlines(r.Context())
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type setStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	var req setStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	target, err := model.ParseStatus(strings.TrimSpace(strings.ToLower(req.Status)))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_status")
		return
	}

	project, err := s.flow.SetStatus(r.Context(), projectID, target)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapProjectResponse(project))
}

type confirmAssignmentRequest struct {
	AssignedTo string `json:"assignedTo"`
}

func (s *Server) handleConfirmAssignment(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	var req confirmAssignmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	center, err := model.ParseCenter(strings.TrimSpace(strings.ToLower(req.AssignedTo)))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_center")
		return
	}

	project, err := s.flow.ConfirmAssignment(r.Context(), projectID, center)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapProjectResponse(project))
}

func (s *Server) handleCenterProjects(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	center, ok := claims.Role.Center()
	if !ok {
		writeError(w, http.StatusForbidden, "insufficient_role")
		return
	}

	projects, err := s.flow.ListByCenter(r.Context(), center)
	if err != nil {
		writeWorkflowError(w, err)
		return
	}
	resp := make([]projectResponse, 0, len(projects))
	for _, project := range projects {
		resp = append(resp, mapProjectResponse(project))
	}
	writeJSON(w, http.StatusOK, resp)
}

type claimsKey struct{}

type rawTokenKey struct{}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

func rawTokenFromContext(ctx context.Context) string {
	value := ctx.Value(rawTokenKey{})
	token, _ := value.(string)
	return token
}

func hasRole(role model.Role, allowed []model.Role) bool {
	for _, candidate := range allowed {
		if candidate == role {
			return true
		}
	}
	return false
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// writeWorkflowError maps state-machine errors to stable codes; the
// authoritative status rides along so the caller can reconcile.
func writeWorkflowError(w http.ResponseWriter, err error) {
	var opErr *workflow.Error
	if !errors.As(err, &opErr) {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	status := http.StatusBadRequest
	switch opErr.Code {
	case workflow.ErrProjectNotFound:
		status = http.StatusNotFound
	case workflow.ErrNotOwner:
		status = http.StatusForbidden
	case workflow.ErrConflict, workflow.ErrAlreadySubmitted, workflow.ErrAlreadyAssigned, workflow.ErrAlreadyTerminal, workflow.ErrDuplicateProject:
		status = http.StatusConflict
	case workflow.ErrServerError:
		status = http.StatusInternalServerError
	}

	payload := map[string]interface{}{"error": opErr.Code}
	if opErr.Status != "" {
		payload["status"] = opErr.Status
	}
	if len(opErr.Fields) > 0 {
		payload["fields"] = opErr.Fields
	}
	writeJSON(w, status, payload)
}
