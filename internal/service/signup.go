package service

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/iliyamo/theatre-auth/internal/logger"
	"github.com/iliyamo/theatre-auth/internal/model"
	"github.com/iliyamo/theatre-auth/internal/queue"
	"github.com/iliyamo/theatre-auth/internal/repository"
	"github.com/iliyamo/theatre-auth/internal/utils"
)

// SignupInput is the registration form.
type SignupInput struct {
	Login           string `json:"login"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
}

// SignupService registers inactive users and activates them from the
// emailed confirmation link.
type SignupService struct {
	users       UserStore
	identity    *IdentityResolver
	signer      *utils.Signer
	mailer      Mailer
	events      EventPublisher
	bcryptCost  int
	frontendURL string
	maxAge      time.Duration
	log         *slog.Logger
}

// SignupOptions carries the settings SignupService needs from config.
type SignupOptions struct {
	BcryptCost         int
	FrontendURL        string
	ConfirmationMaxAge time.Duration
}

func NewSignupService(users UserStore, identity *IdentityResolver, signer *utils.Signer, mailer Mailer, events EventPublisher, opts SignupOptions, log *slog.Logger) *SignupService {
	return &SignupService{
		users:       users,
		identity:    identity,
		signer:      signer.For(utils.PurposeConfirm),
		mailer:      mailer,
		events:      events,
		bcryptCost:  opts.BcryptCost,
		frontendURL: strings.TrimRight(opts.FrontendURL, "/"),
		maxAge:      opts.ConfirmationMaxAge,
		log:         logger.Resolve(log),
	}
}

func (in *SignupInput) validate() error {
	in.Login = strings.TrimSpace(in.Login)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	switch {
	case in.Login == "" || len(in.Login) > 255:
		return badRequest("login is required")
	case in.Email == "":
		return badRequest("email is required")
	case in.Password == "":
		return badRequest("password is required")
	case in.Password != in.PasswordConfirm:
		return badRequest("passwords do not match")
	case len(in.FirstName) > 50 || len(in.LastName) > 50:
		return badRequest("name is too long")
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return badRequest("email is invalid")
	}
	return nil
}

// Register creates an inactive user with the default role and mails the
// confirmation link.  Delivery failures are logged; the account exists
// either way.
func (s *SignupService) Register(ctx context.Context, in SignupInput) (model.UserView, error) {
	if err := in.validate(); err != nil {
		return model.UserView{}, err
	}
	taken, err := s.users.ExistsByLoginOrEmail(ctx, in.Login, in.Email)
	if err != nil {
		return model.UserView{}, err
	}
	if taken {
		return model.UserView{}, conflict("login or email already taken")
	}
	hash, err := utils.HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return model.UserView{}, err
	}
	u := &model.User{
		Login:        in.Login,
		Email:        in.Email,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Roles:        []string{model.RoleUser},
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return model.UserView{}, conflict("login or email already taken")
		}
		return model.UserView{}, err
	}

	code, err := s.signer.EncodeID(u.ID)
	if err != nil {
		return model.UserView{}, err
	}
	msg, err := confirmationEmail(u, s.frontendURL+"/api/v1/signup/confirm/"+code)
	if err == nil {
		err = s.mailer.Send(ctx, msg)
	}
	if err != nil {
		s.log.Error("confirmation email failed", "user_id", u.ID, "error", err.Error())
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
	s.log.Info("user registered", "user_id", u.ID, "login", u.Login)
	return u.View(), nil
}

// Confirm activates the user named in a confirmation code.
func (s *SignupService) Confirm(ctx context.Context, code string) error {
	id, err := s.signer.DecodeID(code, s.maxAge)
	if err != nil {
		return err
	}
	if err := s.users.Activate(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return notFound("user")
		}
		return err
	}
	s.identity.Invalidate(ctx, id)
	return nil
}
