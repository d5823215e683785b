package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/theatre-auth/internal/logger"
	"github.com/iliyamo/theatre-auth/internal/model"
	"github.com/iliyamo/theatre-auth/internal/repository"
	"github.com/iliyamo/theatre-auth/internal/utils"
)

// AuthResult is what a successful login, OAuth callback or refresh
// returns to the client.
type AuthResult struct {
	User      model.UserView  `json:"user"`
	Tokens    utils.TokenPair `json:"tokens"`
	SessionID string          `json:"session_id"`
}

// AuthService owns the session state machine:
//
//	no session -> open (login) -> open, token rotated (refresh) -> closed(reason)
//
// A refresh token is spent by appending its hash to the ledger.  The
// ledger insert fails for a hash seen before, so a token is exchanged at
// most once even under concurrent calls, and a replay closes its session.
type AuthService struct {
	users    UserStore
	sessions SessionStore
	ledger   TokenLedger
	identity *IdentityResolver
	codec    *utils.Codec
	log      *slog.Logger
	now      func() time.Time
}

func NewAuthService(users UserStore, sessions SessionStore, ledger TokenLedger, identity *IdentityResolver, codec *utils.Codec, log *slog.Logger) *AuthService {
	return &AuthService{
		users:    users,
		sessions: sessions,
		ledger:   ledger,
		identity: identity,
		codec:    codec,
		log:      logger.Resolve(log),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Login checks credentials and opens a session.  An account that was
// never activated is refused before its password is compared.
func (s *AuthService) Login(ctx context.Context, login, password string, meta model.ClientMeta) (*AuthResult, error) {
	if login == "" || password == "" {
		return nil, badRequest("login and password are required")
	}
	u, err := s.users.GetByLogin(ctx, login)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFound("user")
	}
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrInactive
	}
	if !utils.VerifyPassword(u.PasswordHash, password) {
		return nil, ErrBadCredentials
	}
	return s.Start(ctx, u, meta)
}

// Start opens a session for an already authenticated user and issues the
// first token pair.
func (s *AuthService) Start(ctx context.Context, u *model.User, meta model.ClientMeta) (*AuthResult, error) {
	view := u.View()
	sid := uuid.NewString()
	pair, err := s.codec.NewPair(u.ID, view.Roles, sid)
	if err != nil {
		return nil, err
	}
	sess := &model.Session{
		ID:          sid,
		UserID:      u.ID,
		StartedAt:   s.now(),
		RefreshHash: utils.HashToken(pair.Refresh.Token),
		IPAddress:   meta.IPAddress,
		UserAgent:   meta.UserAgent,
	}
	if err := s.sessions.Start(ctx, sess); err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	view = s.identity.Remember(ctx, u)
	s.log.Info("session started", "user_id", u.ID, "session_id", sid, "ip", meta.IPAddress)
	return &AuthResult{User: view, Tokens: pair, SessionID: sid}, nil
}

// Refresh exchanges a refresh token for a new pair in the same session.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	claims, err := s.codec.Parse(refreshToken, utils.KindRefresh)
	hash := utils.HashToken(refreshToken)
	switch {
	case errors.Is(err, utils.ErrTokenExpired):
		s.expire(ctx, claims, hash)
		return nil, ErrInvalidToken
	case err != nil:
		return nil, ErrInvalidToken
	}

	// The token is spent before its owner is looked up, so a replay is
	// caught even when the user is gone or deactivated.
	if err := s.ledger.Append(ctx, claims.Subject, hash); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			s.closeSession(ctx, claims.SessionID, model.EndInvalidRefresh)
			s.log.Warn("refresh token replayed", "user_id", claims.Subject, "session_id", claims.SessionID)
			return nil, ErrTokenReuse
		}
		return nil, fmt.Errorf("spend refresh token: %w", err)
	}

	view, err := s.identity.Resolve(ctx, claims.Subject)
	if errors.Is(err, repository.ErrNotFound) {
		s.closeSession(ctx, claims.SessionID, model.EndInvalidRefresh)
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if !view.IsActive {
		s.closeSession(ctx, claims.SessionID, model.EndInvalidRefresh)
		return nil, ErrInactive
	}

	pair, err := s.codec.NewPair(claims.Subject, view.Roles, claims.SessionID)
	if err != nil {
		return nil, err
	}
	err = s.sessions.Rotate(ctx, claims.SessionID, hash, utils.HashToken(pair.Refresh.Token))
	if errors.Is(err, repository.ErrStale) {
		return nil, ErrSessionClosed
	}
	if err != nil {
		return nil, fmt.Errorf("rotate session: %w", err)
	}
	return &AuthResult{User: view, Tokens: pair, SessionID: claims.SessionID}, nil
}

// expire spends an expired refresh token and closes its session.
func (s *AuthService) expire(ctx context.Context, claims *utils.Claims, hash string) {
	if err := s.ledger.Append(ctx, claims.Subject, hash); err != nil && !errors.Is(err, repository.ErrDuplicate) {
		s.log.Error("ledger append failed", "user_id", claims.Subject, "error", err.Error())
	}
	s.closeSession(ctx, claims.SessionID, model.EndExpired)
}

func (s *AuthService) closeSession(ctx context.Context, sid string, reason model.EndReason) {
	err := s.sessions.End(ctx, sid, reason, s.now())
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.log.Error("session close failed", "session_id", sid, "reason", string(reason), "error", err.Error())
	}
}

// Logout spends the refresh token and closes its session.  Both tokens
// must belong to the same user; the refresh token may already be expired.
func (s *AuthService) Logout(ctx context.Context, accessToken, refreshToken string) error {
	access, err := s.codec.Parse(accessToken, utils.KindAccess)
	if err != nil {
		return ErrInvalidToken
	}
	refresh, err := s.codec.Parse(refreshToken, utils.KindRefresh)
	if err != nil && !errors.Is(err, utils.ErrTokenExpired) {
		return ErrInvalidToken
	}
	if refresh.Subject != access.Subject {
		return ErrInvalidToken
	}
	if err := s.ledger.Append(ctx, refresh.Subject, utils.HashToken(refreshToken)); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			s.closeSession(ctx, refresh.SessionID, model.EndInvalidRefresh)
			return ErrTokenReuse
		}
		return fmt.Errorf("spend refresh token: %w", err)
	}
	s.closeSession(ctx, refresh.SessionID, model.EndLogout)
	s.log.Info("session closed", "user_id", refresh.Subject, "session_id", refresh.SessionID, "reason", string(model.EndLogout))
	return nil
}

// Authenticate verifies an access token and resolves its user.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*utils.Claims, model.UserView, error) {
	claims, err := s.codec.Parse(accessToken, utils.KindAccess)
	if err != nil {
		return nil, model.UserView{}, ErrInvalidToken
	}
	view, err := s.identity.Resolve(ctx, claims.Subject)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, model.UserView{}, ErrInvalidToken
	}
	if err != nil {
		return nil, model.UserView{}, err
	}
	return claims, view, nil
}

// CheckAccess grants access when the roles embedded in the token satisfy
// level.  The user must still exist; role changes take effect with the
// next token pair.
func (s *AuthService) CheckAccess(ctx context.Context, level model.AccessLevel, accessToken string) (*utils.Claims, model.UserView, error) {
	claims, view, err := s.Authenticate(ctx, accessToken)
	if err != nil {
		return nil, model.UserView{}, err
	}
	if !level.Allows(claims.Roles) {
		return claims, view, ErrAccessDenied
	}
	return claims, view, nil
}

// Checkout returns the compact identity downstream services work with.
func (s *AuthService) Checkout(ctx context.Context, accessToken string) (model.Checkout, error) {
	_, view, err := s.Authenticate(ctx, accessToken)
	if err != nil {
		return model.Checkout{}, err
	}
	return model.Checkout{
		UserData: model.CheckoutUser{
			UserID:    view.ID,
			Login:     view.Login,
			Email:     view.Email,
			FirstName: view.FirstName,
			LastName:  view.LastName,
		},
		UserRoles: view.Roles,
	}, nil
}
