package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/iliyamo/theatre-auth/internal/cache"
	"github.com/iliyamo/theatre-auth/internal/logger"
	"github.com/iliyamo/theatre-auth/internal/model"
	"github.com/iliyamo/theatre-auth/internal/repository"
	"github.com/iliyamo/theatre-auth/internal/utils"
)

// UserService serves user lookups and the password reset flow.
type UserService struct {
	users       UserStore
	ledger      TokenLedger
	identity    *IdentityResolver
	cache       *cache.Store
	signer      *utils.Signer
	mailer      Mailer
	bcryptCost  int
	frontendURL string
	maxAge      time.Duration
	listTTL     time.Duration
	resetTTL    time.Duration
	log         *slog.Logger
}

// UserOptions carries the settings UserService needs from config.
type UserOptions struct {
	BcryptCost  int
	FrontendURL string
	LinkMaxAge  time.Duration
	ListTTL     time.Duration
	ResetTTL    time.Duration
}

func NewUserService(users UserStore, ledger TokenLedger, identity *IdentityResolver, c *cache.Store, signer *utils.Signer, mailer Mailer, opts UserOptions, log *slog.Logger) *UserService {
	return &UserService{
		users:       users,
		ledger:      ledger,
		identity:    identity,
		cache:       c,
		signer:      signer.For(utils.PurposeReset),
		mailer:      mailer,
		bcryptCost:  opts.BcryptCost,
		frontendURL: strings.TrimRight(opts.FrontendURL, "/"),
		maxAge:      opts.LinkMaxAge,
		listTTL:     opts.ListTTL,
		resetTTL:    opts.ResetTTL,
		log:         logger.Resolve(log),
	}
}

// Get returns one user, cache-first.
func (s *UserService) Get(ctx context.Context, id string) (model.UserView, error) {
	v, err := s.identity.Resolve(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return model.UserView{}, notFound("user")
	}
	return v, err
}

// List returns one page of users.  Pages are cached for the list TTL and
// are not invalidated on writes.
func (s *UserService) List(ctx context.Context, p repository.Page) ([]model.UserView, error) {
	p = p.Normalize()
	key := cache.ListKey("users", p.Params())
	if views, ok, err := cache.GetList[model.UserView](ctx, s.cache, key); err != nil {
		s.log.Warn("user list cache read failed", "error", err.Error())
	} else if ok {
		return views, nil
	}
	users, err := s.users.List(ctx, p)
	if err != nil {
		return nil, err
	}
	views := toViews(users)
	if err := cache.PutList(ctx, s.cache, key, views, s.listTTL); err != nil {
		s.log.Warn("user list cache write failed", "error", err.Error())
	}
	return views, nil
}

// Bulk returns the users among ids that exist.
func (s *UserService) Bulk(ctx context.Context, ids []string) ([]model.UserView, error) {
	if len(ids) > repository.MaxLimit {
		return nil, badRequest("too many ids")
	}
	users, err := s.users.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	return toViews(users), nil
}

func toViews(users []*model.User) []model.UserView {
	out := make([]model.UserView, 0, len(users))
	for _, u := range users {
		out = append(out, u.View())
	}
	return out
}

// RequestPasswordReset mails a reset link.  One email per address is
// sent per reset window.
func (s *UserService) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return badRequest("email is required")
	}
	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return badRequest("no user with this email")
	}
	if err != nil {
		return err
	}
	fresh, err := s.cache.SetNX(ctx, cache.ResetKey(email), true, s.resetTTL)
	if err != nil {
		// without the cache the throttle is skipped, not the reset
		s.log.Warn("reset throttle unavailable", "error", err.Error())
		fresh = true
	}
	if !fresh {
		return ErrTooManyRequests
	}
	code, err := s.signer.EncodeID(u.ID)
	if err != nil {
		return err
	}
	msg, err := resetEmail(u, s.frontendURL+"/api/v1/users/reset-password/"+code)
	if err != nil {
		return err
	}
	return s.mailer.Send(ctx, msg)
}

// ConfirmPasswordReset sets a new password from a reset link.  A link
// works once: its hash goes into the used-token ledger.
func (s *UserService) ConfirmPasswordReset(ctx context.Context, code, password, confirm string) error {
	if password == "" {
		return badRequest("password is required")
	}
	if password != confirm {
		return badRequest("passwords do not match")
	}
	id, err := s.signer.DecodeID(code, s.maxAge)
	if err != nil {
		return err
	}
	if _, err := s.users.GetByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return notFound("user")
		}
		return err
	}
	if err := s.ledger.Append(ctx, id, utils.HashToken(code)); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return badRequest("reset link already used")
		}
		return err
	}
	hash, err := utils.HashPassword(password, s.bcryptCost)
	if err != nil {
		return err
	}
	if err := s.users.SetPassword(ctx, id, hash); err != nil {
		return err
	}
	s.identity.Invalidate(ctx, id)
	s.log.Info("password reset", "user_id", id)
	return nil
}
