package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Offlode-platform/back-end/internal/auth"
	"github.com/Offlode-platform/back-end/internal/core"
	"github.com/Offlode-platform/back-end/internal/crypto"
	"github.com/Offlode-platform/back-end/internal/repo"
	"github.com/Offlode-platform/back-end/internal/xero"
	"github.com/Offlode-platform/back-end/pkg/events"
)

// APIHandler handles HTTP API requests
type APIHandler struct {
	connectService *core.ConnectService
	syncService    *core.SyncService
	connections    repo.ConnectionRepository
	rules          repo.ExclusionRuleRepository
	transactions   repo.TransactionRepository
	clients        repo.ClientRepository
	jwtConfig      *auth.JWTConfig
	logger         *zap.Logger
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(
	connectService *core.ConnectService,
	syncService *core.SyncService,
	connections repo.ConnectionRepository,
	rules repo.ExclusionRuleRepository,
	transactions repo.TransactionRepository,
	clients repo.ClientRepository,
	jwtConfig *auth.JWTConfig,
	logger *zap.Logger,
) *APIHandler {
	return &APIHandler{
		connectService: connectService,
		syncService:    syncService,
		connections:    connections,
		rules:          rules,
		transactions:   transactions,
		clients:        clients,
		jwtConfig:      jwtConfig,
		logger:         logger.Named("api_handler"),
	}
}

// Routes returns the HTTP routes
func (h *APIHandler) Routes() chi.Router {
	r := chi.NewRouter()

	// Public routes. The OAuth callback is hit by the provider redirect, so
	// it cannot carry a bearer token.
	r.Get("/health", h.GetHealth)
	r.Get("/auth/xero/callback", h.XeroCallback)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(h.jwtConfig.ChiMiddleware())

		r.Get("/auth/xero/connect", h.XeroConnect)
		r.Get("/xero/connection", h.GetConnection)

		r.Get("/exclusion-rules", h.ListExclusionRules)
		r.Post("/exclusion-rules", h.CreateExclusionRule)

		r.Get("/transactions", h.ListTransactions)

		r.Get("/internal/xero/bank-transactions", h.GetBankTransactions)
		r.Post("/internal/xero/sync-transactions", h.SyncTransactions)
	})

	return r
}

// GetHealth handles health check requests
func (h *APIHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"version":   "1.0.0",
	}

	h.writeJSON(w, http.StatusOK, response)
}

// XeroConnect starts the OAuth flow and redirects the caller to Xero
func (h *APIHandler) XeroConnect(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actorFromRequest(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "Authentication required", err)
		return
	}

	authorizeURL, err := h.connectService.StartAuthorization(r.Context(), actor)
	if err != nil {
		h.writeServiceError(w, "Failed to start authorization", err)
		return
	}

	http.Redirect(w, r, authorizeURL, http.StatusFound)
}

// XeroCallback completes the OAuth flow with the code and state from Xero
func (h *APIHandler) XeroCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")

	conn, err := h.connectService.HandleCallback(r.Context(), code, state)
	if err != nil {
		h.writeServiceError(w, "Failed to complete authorization", err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"connected":   true,
		"tenant_id":   conn.TenantID,
		"tenant_name": conn.TenantName.String,
		"sync_status": conn.SyncStatus,
	})
}

// GetConnection returns the organization's Xero connection status
func (h *APIHandler) GetConnection(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actorFromRequest(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "Authentication required", err)
		return
	}
	if actor.OrganizationID == uuid.Nil {
		h.writeError(w, http.StatusBadRequest, "User has no organization", nil)
		return
	}

	conn, err := h.connections.Get(r.Context(), actor.OrganizationID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			h.writeJSON(w, http.StatusOK, events.ConnectionStatusPayload{Connected: false})
			return
		}
		h.writeError(w, http.StatusInternalServerError, "Failed to load connection", err)
		return
	}

	response := events.ConnectionStatusPayload{
		Connected:      true,
		OrganizationID: conn.OrganizationID.String(),
		Status:         conn.SyncStatus,
		TenantID:       conn.TenantID,
		TenantName:     conn.TenantName.String,
		ExpiresAt:      &conn.ExpiresAt,
	}
	if conn.LastSyncAt.Valid {
		response.LastSyncAt = &conn.LastSyncAt.Time
	}

	h.writeJSON(w, http.StatusOK, response)
}

// ListExclusionRules returns the organization's exclusion rules
func (h *APIHandler) ListExclusionRules(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actorFromRequest(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "Authentication required", err)
		return
	}

	rules, err := h.rules.List(r.Context(), actor.OrganizationID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to list exclusion rules", err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"rules": rules})
}

// CreateExclusionRule adds an exclusion rule for the organization
func (h *APIHandler) CreateExclusionRule(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actorFromRequest(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "Authentication required", err)
		return
	}

	var req struct {
		RuleType  string `json:"rule_type"`
		Pattern   string `json:"pattern"`
		MatchType string `json:"match_type"`
		Enabled   *bool  `json:"enabled"`
		Reason    string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	if req.RuleType == "" || req.Pattern == "" || req.MatchType == "" {
		h.writeError(w, http.StatusBadRequest, "Missing required fields", nil)
		return
	}
	if !validRuleType(req.RuleType) {
		h.writeError(w, http.StatusBadRequest, "Invalid rule_type", nil)
		return
	}
	if !validMatchType(req.MatchType) {
		h.writeError(w, http.StatusBadRequest, "Invalid match_type", nil)
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	rule, err := h.rules.Create(r.Context(), repo.CreateExclusionRuleParams{
		OrganizationID: actor.OrganizationID,
		RuleType:       req.RuleType,
		Pattern:        req.Pattern,
		MatchType:      req.MatchType,
		Enabled:        enabled,
		Reason:         nullString(req.Reason),
		CreatedBy:      uuid.NullUUID{UUID: actor.ID, Valid: true},
	})
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to create exclusion rule", err)
		return
	}

	h.logger.Info("Exclusion rule created",
		zap.String("organization_id", actor.OrganizationID.String()),
		zap.String("rule_type", rule.RuleType),
		zap.String("match_type", rule.MatchType))

	h.writeJSON(w, http.StatusCreated, rule)
}

// ListTransactions returns the organization's synced transactions
func (h *APIHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actorFromRequest(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "Authentication required", err)
		return
	}

	limit := int32(100)
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limitInt, err := strconv.Atoi(limitStr)
		if err != nil || limitInt < 1 || limitInt > 1000 {
			h.writeError(w, http.StatusBadRequest, "Invalid limit parameter (must be 1-1000)", nil)
			return
		}
		limit = int32(limitInt)
	}

	offset := int32(0)
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offsetInt, err := strconv.Atoi(offsetStr)
		if err != nil || offsetInt < 0 {
			h.writeError(w, http.StatusBadRequest, "Invalid offset parameter", nil)
			return
		}
		offset = int32(offsetInt)
	}

	transactions, err := h.transactions.List(r.Context(), repo.ListTransactionsParams{
		OrganizationID: actor.OrganizationID,
		Limit:          limit,
		Offset:         offset,
	})
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to list transactions", err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": transactions,
		"count":        len(transactions),
	})
}

// GetBankTransactions fetches the organization's raw bank transactions from
// Xero without writing anything
func (h *APIHandler) GetBankTransactions(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actorFromRequest(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "Authentication required", err)
		return
	}

	remote, err := h.syncService.FetchBankTransactions(r.Context(), actor.OrganizationID)
	if err != nil {
		h.writeServiceError(w, "Failed to fetch bank transactions", err)
		return
	}

	// Debug endpoint: a count and a small sample, not the full payload.
	sample := remote
	if len(sample) > 3 {
		sample = sample[:3]
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(remote),
		"sample": sample,
	})
}

// SyncTransactions runs a full fetch-and-reconcile pass for the organization
func (h *APIHandler) SyncTransactions(w http.ResponseWriter, r *http.Request) {
	actor, err := h.actorFromRequest(r)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "Authentication required", err)
		return
	}

	clientID, err := h.resolveClientID(r, actor.OrganizationID)
	if err != nil {
		h.writeServiceError(w, "Failed to resolve client", err)
		return
	}

	result, err := h.syncService.Sync(r.Context(), actor.OrganizationID, clientID)
	if err != nil {
		h.writeServiceError(w, "Failed to sync transactions", err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// resolveClientID reads client_id from the query, falling back to the
// organization's first client.
func (h *APIHandler) resolveClientID(r *http.Request, organizationID uuid.UUID) (uuid.UUID, error) {
	if raw := r.URL.Query().Get("client_id"); raw != "" {
		clientID, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, core.ErrNoClient
		}
		return clientID, nil
	}

	clientID, err := h.clients.FirstForOrganization(r.Context(), organizationID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return uuid.Nil, core.ErrNoClient
		}
		return uuid.Nil, err
	}
	return clientID, nil
}

func (h *APIHandler) actorFromRequest(r *http.Request) (core.Actor, error) {
	claims, err := auth.GetClaimsFromContext(r.Context())
	if err != nil {
		return core.Actor{}, err
	}
	return core.Actor{
		ID:             claims.UserID,
		OrganizationID: claims.OrganizationID,
		Role:           claims.Role,
	}, nil
}

// writeServiceError maps service errors onto HTTP statuses.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, message string, err error) {
	h.writeError(w, statusForError(err), message, err)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidState),
		errors.Is(err, core.ErrTokenExchange),
		errors.Is(err, core.ErrNoTenant),
		errors.Is(err, core.ErrNoOrganization),
		errors.Is(err, core.ErrNoClient):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrForbiddenRole):
		return http.StatusForbidden
	case errors.Is(err, core.ErrNotConnected),
		errors.Is(err, core.ErrRefreshFailed):
		return http.StatusConflict
	case errors.Is(err, xero.ErrProviderUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, crypto.ErrCiphertext):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func validRuleType(ruleType string) bool {
	switch ruleType {
	case repo.RuleTypeSupplierName, repo.RuleTypeDescription, repo.RuleTypeAmountRange, repo.RuleTypeCategory:
		return true
	}
	return false
}

func validMatchType(matchType string) bool {
	switch matchType {
	case repo.MatchContains, repo.MatchEquals, repo.MatchStartsWith, repo.MatchEndsWith, repo.MatchRegex:
		return true
	}
	return false
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

func (h *APIHandler) writeError(w http.ResponseWriter, status int, message string, err error) {
	h.logger.Error("API error",
		zap.String("message", message),
		zap.Error(err),
		zap.Int("status", status))

	response := map[string]interface{}{
		"error":     message,
		"timestamp": time.Now().UTC(),
	}
	if err != nil {
		response["details"] = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encodeErr := json.NewEncoder(w).Encode(response); encodeErr != nil {
		h.logger.Error("Failed to encode error response", zap.Error(encodeErr))
	}
}
