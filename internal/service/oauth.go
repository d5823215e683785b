package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iliyamo/theatre-auth/internal/logger"
	"github.com/iliyamo/theatre-auth/internal/model"
	"github.com/iliyamo/theatre-auth/internal/oauth"
	"github.com/iliyamo/theatre-auth/internal/queue"
	"github.com/iliyamo/theatre-auth/internal/repository"
	"github.com/iliyamo/theatre-auth/internal/utils"
)

// StateMaxAge bounds the time between the redirect to a provider and the
// callback.
const StateMaxAge = 10 * time.Minute

// UnlinkAll removes every linked provider in Unlink.
const UnlinkAll = "all"

// OAuthService signs users in through external providers.
type OAuthService struct {
	providers map[string]OAuthProvider
	users     UserStore
	social    SocialStore
	auth      *AuthService
	identity  *IdentityResolver
	signer    *utils.Signer
	events    EventPublisher
	log       *slog.Logger
}

func NewOAuthService(providers map[string]OAuthProvider, users UserStore, social SocialStore, auth *AuthService, identity *IdentityResolver, signer *utils.Signer, events EventPublisher, log *slog.Logger) *OAuthService {
	return &OAuthService{
		providers: providers,
		users:     users,
		social:    social,
		auth:      auth,
		identity:  identity,
		signer:    signer.For(utils.PurposeOAuthState),
		events:    events,
		log:       logger.Resolve(log),
	}
}

func (s *OAuthService) provider(name string) (OAuthProvider, error) {
	p, ok := s.providers[name]
	if !ok {
		return nil, notFound("provider " + name)
	}
	return p, nil
}

// AuthURL returns the provider's sign-in page.  The state is the signed
// provider name.
func (s *OAuthService) AuthURL(name string) (string, error) {
	p, err := s.provider(name)
	if err != nil {
		return "", err
	}
	state, err := s.signer.EncodeID(name)
	if err != nil {
		return "", err
	}
	return p.AuthCodeURL(state), nil
}

// Callback completes the flow and opens a session.  The account is found
// by its provider link, else linked to the user with the same email, else
// created active with the default role.
func (s *OAuthService) Callback(ctx context.Context, name, code, state string, meta model.ClientMeta) (*AuthResult, error) {
	p, err := s.provider(name)
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, badRequest("code is required")
	}
	signed, err := s.signer.DecodeID(state, StateMaxAge)
	if err != nil {
		return nil, err
	}
	if signed != name {
		return nil, badRequest("state does not match provider")
	}
	prof, err := p.Exchange(ctx, code)
	if err != nil {
		if errors.Is(err, oauth.ErrIncompleteProfile) {
			return nil, badRequest(err.Error())
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	prof.Provider = name

	u, err := s.accountFor(ctx, prof)
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrInactive
	}
	return s.auth.Start(ctx, u, meta)
}

func (s *OAuthService) accountFor(ctx context.Context, prof oauth.Profile) (*model.User, error) {
	acc, err := s.social.GetByProvider(ctx, prof.Provider, prof.ProviderUserID)
	switch {
	case err == nil:
		u, err := s.users.GetByID(ctx, acc.UserID)
		if err != nil {
			return nil, fmt.Errorf("linked user %s: %w", acc.UserID, err)
		}
		return u, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	u, err := s.users.GetByEmail(ctx, prof.Email)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		if u, err = s.create(ctx, prof); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}

	link := &model.SocialAccount{UserID: u.ID, Provider: prof.Provider, ProviderUserID: prof.ProviderUserID}
	if err := s.social.Create(ctx, link); err != nil && !errors.Is(err, repository.ErrDuplicate) {
		return nil, fmt.Errorf("link %s account: %w", prof.Provider, err)
	}
	s.identity.Invalidate(ctx, u.ID)
	s.log.Info("social account linked", "user_id", u.ID, "provider", prof.Provider)
	// re-read so the view carries the new link
	return s.users.GetByID(ctx, u.ID)
}

// create registers an active user with no usable password.
func (s *OAuthService) create(ctx context.Context, prof oauth.Profile) (*model.User, error) {
	login, err := s.freeLogin(ctx, prof.Login)
	if err != nil {
		return nil, err
	}
	u := &model.User{
		Login:     login,
		Email:     prof.Email,
		FirstName: prof.FirstName,
		LastName:  prof.LastName,
		IsActive:  true,
		Roles:     []string{model.RoleUser},
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, conflict("login or email already taken")
		}
		return nil, err
	}
	ev := queue.UserRegisteredEvent{
		UserID:       u.ID,
		Login:        u.Login,
		Email:        u.Email,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		RegisteredAt: u.CreatedAt,
	}
	if err := s.events.UserRegistered(ctx, ev); err != nil {
		s.log.Error("user registered event failed", "user_id", u.ID, "error", err.Error())
	}
	s.log.Info("user registered", "user_id", u.ID, "login", u.Login, "provider", prof.Provider)
	return u, nil
}

// freeLogin returns base, or base with the first numeric suffix not taken.
func (s *OAuthService) freeLogin(ctx context.Context, base string) (string, error) {
	if base == "" {
		base = "user"
	}
	for i := 0; i < 100; i++ {
		login := base
		if i > 0 {
			login = fmt.Sprintf("%s%d", base, i)
		}
		_, err := s.users.GetByLogin(ctx, login)
		if errors.Is(err, repository.ErrNotFound) {
			return login, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", conflict("no free login for " + base)
}

// Unlink removes the user's link to provider, or every link for UnlinkAll.
func (s *OAuthService) Unlink(ctx context.Context, userID, provider string) error {
	var err error
	if provider == UnlinkAll {
		err = s.social.DeleteAll(ctx, userID)
	} else {
		if _, perr := s.provider(provider); perr != nil {
			return badRequest("unknown provider " + provider)
		}
		err = s.social.DeleteByProvider(ctx, userID, provider)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return notFound("social account")
	}
	if err != nil {
		return err
	}
	s.identity.Invalidate(ctx, userID)
	s.log.Info("social account unlinked", "user_id", userID, "provider", provider)
	return nil
}
