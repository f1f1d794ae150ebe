// Package api exposes the skill platform over REST.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skilldock/skilldock/internal/analyzer"
	"github.com/skilldock/skilldock/internal/archive"
	"github.com/skilldock/skilldock/internal/audit"
	"github.com/skilldock/skilldock/internal/deploy"
	"github.com/skilldock/skilldock/internal/importer"
	"github.com/skilldock/skilldock/internal/manifest"
	"github.com/skilldock/skilldock/internal/netpolicy"
	"github.com/skilldock/skilldock/internal/review"
	"github.com/skilldock/skilldock/internal/skill"
)

// TenantHeader carries the caller's tenant on every scoped route.
const TenantHeader = "X-Tenant-ID"

// UserHeader identifies the acting user for audit and storage.
const UserHeader = "X-User-ID"

// Store is the persistence surface the handlers need.
type Store interface {
	SaveSkill(ctx context.Context, sk *skill.Skill) error
	FindSkill(ctx context.Context, id string) (*skill.Skill, error)
	ListSkills(ctx context.Context, tenantID string) ([]*skill.Skill, error)
	ListInstallations(ctx context.Context, agentID string) ([]*deploy.Installation, error)
	ListViolations(ctx context.Context, tenantID string, limit int) ([]netpolicy.Violation, error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	validator    *archive.Validator
	analyzer     *analyzer.Analyzer
	storage      *archive.Storage
	importer     *importer.Importer
	orchestrator *deploy.Orchestrator
	policies     *netpolicy.Aggregator
	reviews      *review.Coordinator
	store        Store
	audit        *audit.Logger
	logger       *zap.Logger
}

func NewHandler(
	validator *archive.Validator,
	an *analyzer.Analyzer,
	storage *archive.Storage,
	imp *importer.Importer,
	orchestrator *deploy.Orchestrator,
	policies *netpolicy.Aggregator,
	reviews *review.Coordinator,
	store Store,
	auditLog *audit.Logger,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if auditLog == nil {
		auditLog = audit.NewLogger(nil, logger)
	}
	return &Handler{
		validator:    validator,
		analyzer:     an,
		storage:      storage,
		importer:     imp,
		orchestrator: orchestrator,
		policies:     policies,
		reviews:      reviews,
		store:        store,
		audit:        auditLog,
		logger:       logger,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", TenantHeader, UserHeader},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		// Validation and analysis
		r.Post("/skills/validate", h.validatePackage)
		r.Post("/skills/analyze", h.analyzeSource)
		r.Post("/skills/import", h.importRepository)

		// Skill catalog
		r.Get("/skills", h.listSkills)
		r.Get("/skills/{id}", h.getSkill)

		// Installations
		r.Post("/agents/{agentID}/installations", h.installSkill)
		r.Get("/agents/{agentID}/installations", h.listInstallations)
		r.Delete("/installations/{id}", h.uninstallSkill)

		// Network policy
		r.Get("/policy", h.getPolicy)
		r.Post("/policy/check", h.checkDomain)
		r.Get("/policy/violations", h.listViolations)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "skilldock"})
}

// tenantID extracts the tenant header, writing a 400 when absent.
func tenantID(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenant := r.Header.Get(TenantHeader)
	if tenant == "" {
		writeError(w, http.StatusBadRequest, "missing "+TenantHeader+" header")
		return "", false
	}
	return tenant, true
}

// validatePackage accepts a raw zip body. With ?persist=true and a user
// header, a valid package is stored and registered for review.
func (h *Handler) validatePackage(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(w, r)
	if !ok {
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, archive.CompressedLimit+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read request body")
		return
	}

	res := h.validator.Validate(data)
	h.audit.Action(r.Context(), audit.Entry{
		Actor:    r.Header.Get(UserHeader),
		Action:   "skill.validate",
		TenantID: tenant,
		Details:  map[string]any{"valid": res.Valid, "issues": len(res.Issues)},
	})

	if r.URL.Query().Get("persist") != "true" || !res.Valid {
		writeJSON(w, http.StatusOK, res)
		return
	}

	userID := r.Header.Get(UserHeader)
	saved, err := h.storage.Save(data, res, tenant, userID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sk := &skill.Skill{
		ID:              uuid.NewString(),
		TenantID:        tenant,
		Name:            res.Manifest.Name,
		Version:         res.Manifest.Version,
		Category:        string(res.Manifest.Category),
		Description:     res.Manifest.Description,
		CompatibleRoles: res.Manifest.CompatibleRoles,
		PackagePath:     saved.Path,
		Status:          skill.StatusPendingReview,
		CreatedAt:       saved.CreatedAt,
		UpdatedAt:       saved.CreatedAt,
	}
	if raw, err := json.Marshal(res.Manifest.Permissions); err == nil {
		sk.Permissions = raw
	}
	if res.Definition != nil {
		sk.Documentation = res.Definition.Description
	}
	if err := h.store.SaveSkill(r.Context(), sk); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if h.reviews != nil {
		if err := h.reviews.Submit(r.Context(), review.Request{
			SkillID:     sk.ID,
			TenantID:    tenant,
			Permissions: res.Manifest.Permissions,
			Roles:       sk.CompatibleRoles,
		}); err != nil {
			h.logger.Warn("review submission failed", zap.String("skill_id", sk.ID), zap.Error(err))
		}
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"result":     res,
		"skill_id":   sk.ID,
		"package_id": saved.PackageID,
		"path":       saved.Path,
	})
}

type analyzeRequest struct {
	Source string `json:"source"`
	DryRun bool   `json:"dry_run"`
}

func (h *Handler) analyzeSource(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.analyzer.Validate(req.Source, req.DryRun))
}

type importRequest struct {
	URL string `json:"url"`
}

type importedSkill struct {
	Dir        string              `json:"dir"`
	Definition *archive.Definition `json:"definition"`
	Manifest   *manifest.Manifest  `json:"manifest,omitempty"`
	Files      []string            `json:"files"`
}

func (h *Handler) importRepository(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(w, r)
	if !ok {
		return
	}
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "body must be {\"url\": ...}")
		return
	}

	skills, err := h.importer.Import(r.Context(), req.URL)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	h.audit.Action(r.Context(), audit.Entry{
		Actor:    r.Header.Get(UserHeader),
		Action:   "skill.import",
		TenantID: tenant,
		Details:  map[string]any{"url": req.URL, "skills": len(skills)},
	})

	out := make([]importedSkill, 0, len(skills))
	for _, sk := range skills {
		item := importedSkill{Dir: sk.Dir, Definition: sk.Definition, Manifest: sk.Manifest}
		for name := range sk.Files {
			item.Files = append(item.Files, name)
		}
		sort.Strings(item.Files)
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) listSkills(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(w, r)
	if !ok {
		return
	}
	skills, err := h.store.ListSkills(r.Context(), tenant)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if skills == nil {
		skills = []*skill.Skill{}
	}
	writeJSON(w, http.StatusOK, skills)
}

func (h *Handler) getSkill(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(w, r)
	if !ok {
		return
	}
	sk, err := h.store.FindSkill(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sk == nil || sk.TenantID != tenant {
		writeError(w, http.StatusNotFound, "skill not found")
		return
	}
	writeJSON(w, http.StatusOK, sk)
}

type installRequest struct {
	SkillID   string            `json:"skill_id"`
	EnvConfig map[string]string `json:"env_config,omitempty"`
}

func (h *Handler) installSkill(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(w, r)
	if !ok {
		return
	}
	var req installRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SkillID == "" {
		writeError(w, http.StatusBadRequest, "body must include skill_id")
		return
	}
	agentID := chi.URLParam(r, "agentID")

	inst, err := h.orchestrator.Install(r.Context(), tenant, agentID, req.SkillID, req.EnvConfig)
	if err != nil {
		writeError(w, installStatus(err), err.Error())
		return
	}
	h.audit.Action(r.Context(), audit.Entry{
		Actor:    r.Header.Get(UserHeader),
		Action:   "skill.install",
		Target:   "installation:" + inst.ID,
		TenantID: tenant,
	})
	writeJSON(w, http.StatusAccepted, inst)
}

func installStatus(err error) int {
	switch {
	case errors.Is(err, deploy.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, deploy.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, deploy.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, deploy.ErrNotApproved), errors.Is(err, deploy.ErrIncompatible):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) listInstallations(w http.ResponseWriter, r *http.Request) {
	if _, ok := tenantID(w, r); !ok {
		return
	}
	installs, err := h.store.ListInstallations(r.Context(), chi.URLParam(r, "agentID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if installs == nil {
		installs = []*deploy.Installation{}
	}
	writeJSON(w, http.StatusOK, installs)
}

func (h *Handler) uninstallSkill(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(w, r)
	if !ok {
		return
	}
	inst, err := h.orchestrator.Uninstall(r.Context(), tenant, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, installStatus(err), err.Error())
		return
	}
	h.audit.Action(r.Context(), audit.Entry{
		Actor:    r.Header.Get(UserHeader),
		Action:   "skill.uninstall",
		Target:   "installation:" + inst.ID,
		TenantID: tenant,
	})
	writeJSON(w, http.StatusAccepted, inst)
}

func (h *Handler) getPolicy(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(w, r)
	if !ok {
		return
	}
	policy, err := h.policies.GeneratePolicy(r.Context(), tenant)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

type checkDomainRequest struct {
	Domain  string `json:"domain"`
	AgentID string `json:"agent_id,omitempty"`
}

func (h *Handler) checkDomain(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(w, r)
	if !ok {
		return
	}
	var req checkDomainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Domain == "" {
		writeError(w, http.StatusBadRequest, "body must include domain")
		return
	}
	v, err := h.policies.ValidateDomain(r.Context(), tenant, req.Domain, req.AgentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) listViolations(w http.ResponseWriter, r *http.Request) {
	tenant, ok := tenantID(w, r)
	if !ok {
		return
	}
	violations, err := h.store.ListViolations(r.Context(), tenant, 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if violations == nil {
		violations = []netpolicy.Violation{}
	}
	writeJSON(w, http.StatusOK, violations)
}

// Serve runs the HTTP server until ctx is canceled.
func (h *Handler) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      h.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("HTTP server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
