package service

import (
	"context"

	"github.com/iliyamo/theatre-auth/internal/model"
	"github.com/iliyamo/theatre-auth/internal/repository"
)

// SessionService lists login history.
type SessionService struct {
	sessions SessionStore
}

func NewSessionService(sessions SessionStore) *SessionService {
	return &SessionService{sessions: sessions}
}

// List returns one page of userID's sessions.  Callers see their own
// sessions; moderators and above see anyone's.
func (s *SessionService) List(ctx context.Context, callerID string, callerRoles []string, userID string, p repository.Page) ([]*model.Session, error) {
	if callerID != userID && !model.LevelModerator.Allows(callerRoles) {
		return nil, ErrAccessDenied
	}
	return s.sessions.ListByUser(ctx, userID, p)
}
