package service

import (
	"context"
	"time"

	"github.com/iliyamo/theatre-auth/internal/model"
	"github.com/iliyamo/theatre-auth/internal/oauth"
	"github.com/iliyamo/theatre-auth/internal/queue"
	"github.com/iliyamo/theatre-auth/internal/repository"
)

// The store interfaces are satisfied by the MySQL repositories and by
// memstore.

type UserStore interface {
	Create(ctx context.Context, u *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByLogin(ctx context.Context, login string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	ExistsByLoginOrEmail(ctx context.Context, login, email string) (bool, error)
	Activate(ctx context.Context, id string) error
	SetPassword(ctx context.Context, id, hash string) error
	List(ctx context.Context, p repository.Page) ([]*model.User, error)
	ListByIDs(ctx context.Context, ids []string) ([]*model.User, error)
}

type RoleStore interface {
	Create(ctx context.Context, name string) (*model.Role, error)
	GetByID(ctx context.Context, id uint64) (*model.Role, error)
	GetByName(ctx context.Context, name string) (*model.Role, error)
	List(ctx context.Context, p repository.Page) ([]*model.Role, error)
	Rename(ctx context.Context, id uint64, name string) (*model.Role, error)
	Delete(ctx context.Context, id uint64) error
	Grant(ctx context.Context, userID string, roleID uint64) (*model.UserRole, error)
	Revoke(ctx context.Context, userID string, roleID uint64) error
	EnsureRoles(ctx context.Context, names ...string) error
}

type SessionStore interface {
	Start(ctx context.Context, s *model.Session) error
	Get(ctx context.Context, id string) (*model.Session, error)
	Rotate(ctx context.Context, id, oldHash, newHash string) error
	End(ctx context.Context, id string, reason model.EndReason, at time.Time) error
	ListByUser(ctx context.Context, userID string, p repository.Page) ([]*model.Session, error)
}

// TokenLedger is the append-only record of spent refresh tokens.  Append
// must fail with repository.ErrDuplicate for a hash already present.
type TokenLedger interface {
	Append(ctx context.Context, userID, tokenHash string) error
	Contains(ctx context.Context, tokenHash string) (bool, error)
}

type SocialStore interface {
	Create(ctx context.Context, a *model.SocialAccount) error
	GetByProvider(ctx context.Context, provider, providerUserID string) (*model.SocialAccount, error)
	DeleteByProvider(ctx context.Context, userID, provider string) error
	DeleteAll(ctx context.Context, userID string) error
}

// Mailer hands an email over for delivery.
type Mailer interface {
	Send(ctx context.Context, msg queue.EmailMessage) error
}

// EventPublisher announces user lifecycle events to other services.
type EventPublisher interface {
	UserRegistered(ctx context.Context, ev queue.UserRegisteredEvent) error
}

// OAuthProvider is one external identity provider.
type OAuthProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (oauth.Profile, error)
}
