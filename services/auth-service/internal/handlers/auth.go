package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptdesk/libs/auth"
	"github.com/md-rashed-zaman/apptdesk/libs/db"
	"github.com/md-rashed-zaman/apptdesk/libs/httpx"
	"github.com/md-rashed-zaman/apptdesk/libs/outbox"
	"github.com/md-rashed-zaman/apptdesk/services/auth-service/internal/otp"
	"github.com/md-rashed-zaman/apptdesk/services/auth-service/internal/sessions"
	"github.com/md-rashed-zaman/apptdesk/services/auth-service/internal/storage"
)

const EventUserCreated = "auth.user.created.v1"

type Challenges interface {
	Issue(ctx context.Context, email, businessID string) (otp.Challenge, string, error)
	Verify(ctx context.Context, challengeID, code string) (otp.Challenge, error)
	TTL() time.Duration
}

// Limiter is satisfied by *httpx.RedisRateLimiter.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type Users interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	GetOrCreate(ctx context.Context, tx db.DBTX, businessID, email, role string) (storage.User, bool, error)
	GetByID(ctx context.Context, id string) (storage.User, error)
}

type RefreshTokens interface {
	Issue(ctx context.Context, tx db.DBTX, userID string) (string, error)
	Rotate(ctx context.Context, tx db.DBTX, raw string) (sessions.RefreshToken, error)
	Revoke(ctx context.Context, raw string) error
}

type EventWriter interface {
	Insert(ctx context.Context, tx db.DBTX, evt outbox.Event) error
}

type Options struct {
	AccessTTL time.Duration
	// OwnerEmails get the owner role when their user row is first created.
	OwnerEmails []string
}

type AuthHandler struct {
	signer     TokenSigner
	challenges Challenges
	sender     otp.CodeSender
	limiter    Limiter
	users      Users
	refresh    RefreshTokens
	events     EventWriter
	logger     *slog.Logger
	metrics    *Metrics
	accessTTL  time.Duration
	owners     map[string]bool
	now        func() time.Time
}

func NewAuthHandler(
	signer TokenSigner,
	challenges Challenges,
	sender otp.CodeSender,
	limiter Limiter,
	users Users,
	refresh RefreshTokens,
	events EventWriter,
	logger *slog.Logger,
	m *Metrics,
	opts Options,
) *AuthHandler {
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = 15 * time.Minute
	}
	owners := make(map[string]bool, len(opts.OwnerEmails))
	for _, e := range opts.OwnerEmails {
		owners[otp.NormalizeEmail(e)] = true
	}
	return &AuthHandler{
		signer:     signer,
		challenges: challenges,
		sender:     sender,
		limiter:    limiter,
		users:      users,
		refresh:    refresh,
		events:     events,
		logger:     logger,
		metrics:    m,
		accessTTL:  opts.AccessTTL,
		owners:     owners,
		now:        time.Now,
	}
}

func (h *AuthHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/auth/otp/request", h.RequestOTP)
	mux.HandleFunc("/api/v1/auth/otp/verify", h.VerifyOTP)
	mux.HandleFunc("/api/v1/auth/refresh", h.Refresh)
	mux.HandleFunc("/api/v1/auth/logout", h.Logout)
	mux.HandleFunc("/api/v1/auth/me", h.Me)
	mux.HandleFunc("/.well-known/jwks.json", h.JWKS)
}

type otpRequest struct {
	Email      string `json:"email"`
	BusinessID string `json:"business_id"`
}

type otpRequestResponse struct {
	ChallengeID string `json:"challenge_id"`
	ExpiresIn   int    `json:"expires_in"`
}

type otpVerifyRequest struct {
	ChallengeID string `json:"challenge_id"`
	Code        string `json:"code"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type meResponse struct {
	UserID     string `json:"user_id"`
	Email      string `json:"email"`
	BusinessID string `json:"business_id"`
	Role       string `json:"role"`
}

func (h *AuthHandler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req otpRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	email := otp.NormalizeEmail(req.Email)
	if !validEmail(email) {
		http.Error(w, "valid email required", http.StatusBadRequest)
		return
	}
	businessID := strings.TrimSpace(req.BusinessID)
	if _, err := uuid.Parse(businessID); err != nil || len(businessID) != 36 {
		http.Error(w, "valid business_id required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if h.limiter != nil {
		ok, err := h.limiter.Allow(ctx, email)
		if err != nil {
			h.logger.Error("otp limiter failed", "err", err)
			http.Error(w, "rate limiter unavailable", http.StatusServiceUnavailable)
			return
		}
		if !ok {
			h.metrics.ObserveOTP("request", "limited")
			http.Error(w, "too many otp requests", http.StatusTooManyRequests)
			return
		}
	}

	ch, code, err := h.challenges.Issue(ctx, email, businessID)
	if err != nil {
		h.logger.Error("otp issue failed", "err", err)
		http.Error(w, "failed to issue otp", http.StatusServiceUnavailable)
		return
	}
	if err := h.sender.Send(ctx, ch, code); err != nil {
		h.logger.Error("otp delivery failed", "err", err, "challenge_id", ch.ID)
		http.Error(w, "failed to deliver otp", http.StatusBadGateway)
		return
	}

	h.metrics.ObserveOTP("request", "issued")
	httpx.WriteJSON(w, http.StatusAccepted, otpRequestResponse{
		ChallengeID: ch.ID,
		ExpiresIn:   int(h.challenges.TTL().Seconds()),
	})
}

func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req otpVerifyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ChallengeID = strings.TrimSpace(req.ChallengeID)
	req.Code = strings.TrimSpace(req.Code)
	if req.ChallengeID == "" || req.Code == "" {
		http.Error(w, "challenge_id and code required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	ch, err := h.challenges.Verify(ctx, req.ChallengeID, req.Code)
	switch {
	case errors.Is(err, otp.ErrExpired):
		h.metrics.ObserveOTP("verify", "expired")
		http.Error(w, "otp expired", http.StatusUnauthorized)
		return
	case errors.Is(err, otp.ErrInvalidCode):
		h.metrics.ObserveOTP("verify", "invalid")
		http.Error(w, "invalid otp", http.StatusUnauthorized)
		return
	case errors.Is(err, otp.ErrTooManyAttempts):
		h.metrics.ObserveOTP("verify", "locked")
		http.Error(w, "too many attempts", http.StatusTooManyRequests)
		return
	case err != nil:
		h.logger.Error("otp verify failed", "err", err)
		http.Error(w, "failed to verify otp", http.StatusServiceUnavailable)
		return
	}

	tx, err := h.users.Begin(ctx)
	if err != nil {
		http.Error(w, "failed to start transaction", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	role := storage.RoleCustomer
	if h.owners[ch.Email] {
		role = storage.RoleOwner
	}
	user, created, err := h.users.GetOrCreate(ctx, tx, ch.BusinessID, ch.Email, role)
	if err != nil {
		h.logger.Error("user upsert failed", "err", err)
		http.Error(w, "failed to load user", http.StatusInternalServerError)
		return
	}
	if created {
		evt, err := outbox.NewEvent("user", user.ID, EventUserCreated, map[string]any{
			"user_id":     user.ID,
			"business_id": user.BusinessID,
			"email":       user.Email,
			"role":        user.Role,
			"created_at":  user.CreatedAt.UTC(),
		})
		if err == nil {
			err = h.events.Insert(ctx, tx, evt)
		}
		if err != nil {
			h.logger.Error("user event enqueue failed", "err", err)
			http.Error(w, "failed to enqueue user event", http.StatusInternalServerError)
			return
		}
	}
	refreshToken, err := h.refresh.Issue(ctx, tx, user.ID)
	if err != nil {
		h.logger.Error("refresh token issue failed", "err", err)
		http.Error(w, "failed to issue refresh token", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit transaction", http.StatusInternalServerError)
		return
	}

	h.metrics.ObserveOTP("verify", "ok")
	h.writeTokens(w, user, refreshToken)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req refreshRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		http.Error(w, "refresh_token required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.users.Begin(ctx)
	if err != nil {
		http.Error(w, "failed to start transaction", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	old, err := h.refresh.Rotate(ctx, tx, req.RefreshToken)
	if errors.Is(err, sessions.ErrNotFound) || errors.Is(err, sessions.ErrInactive) {
		http.Error(w, "invalid refresh token", http.StatusUnauthorized)
		return
	}
	if err != nil {
		h.logger.Error("refresh token lookup failed", "err", err)
		http.Error(w, "failed to rotate refresh token", http.StatusInternalServerError)
		return
	}
	next, err := h.refresh.Issue(ctx, tx, old.UserID)
	if err != nil {
		http.Error(w, "failed to issue refresh token", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit transaction", http.StatusInternalServerError)
		return
	}

	user, err := h.users.GetByID(ctx, old.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "invalid refresh token", http.StatusUnauthorized)
		return
	}
	if err != nil {
		http.Error(w, "failed to lookup user", http.StatusInternalServerError)
		return
	}
	h.writeTokens(w, user, next)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req refreshRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		http.Error(w, "refresh_token required", http.StatusBadRequest)
		return
	}
	if err := h.refresh.Revoke(r.Context(), req.RefreshToken); err != nil {
		http.Error(w, "failed to revoke refresh token", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") || len(strings.TrimSpace(authHeader)) <= len("Bearer ") {
		http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
		return
	}
	claims, err := h.signer.Verify(strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer ")))
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, meResponse{
		UserID:     claims.Sub,
		Email:      claims.Email,
		BusinessID: claims.BusinessID,
		Role:       claims.Role,
	})
}

func (h *AuthHandler) JWKS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	jwks := h.signer.JWKS()
	if len(jwks.Keys) == 0 {
		http.Error(w, "jwks not available", http.StatusNotFound)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	httpx.WriteJSON(w, http.StatusOK, jwks)
}

func (h *AuthHandler) writeTokens(w http.ResponseWriter, user storage.User, refreshToken string) {
	access, err := h.issueAccessToken(user)
	if err != nil {
		http.Error(w, "failed to issue token", http.StatusInternalServerError)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  access,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(h.accessTTL.Seconds()),
	})
}

func (h *AuthHandler) issueAccessToken(user storage.User) (string, error) {
	now := h.now()
	return h.signer.Sign(auth.Claims{
		Sub:        user.ID,
		Email:      user.Email,
		BusinessID: user.BusinessID,
		Role:       user.Role,
		Iat:        now.Unix(),
		Exp:        now.Add(h.accessTTL).Unix(),
	})
}

func validEmail(email string) bool {
	at := strings.IndexByte(email, '@')
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t\r\n") && strings.Count(email, "@") == 1
}
