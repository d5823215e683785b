package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/theatre-auth/internal/model"
	"github.com/iliyamo/theatre-auth/internal/utils"
)

func newSignup(f *fixture, signer *utils.Signer) *SignupService {
	return NewSignupService(f.store.Users(), f.identity, signer, f.mailer, f.events, SignupOptions{
		BcryptCost:         bcrypt.MinCost,
		FrontendURL:        "http://front.test/",
		ConfirmationMaxAge: 30 * 24 * time.Hour,
	}, f.log)
}

func validSignup() SignupInput {
	return SignupInput{
		Login:           "carol",
		Email:           " Carol@Example.com ",
		Password:        "secret",
		PasswordConfirm: "secret",
		FirstName:       "Carol",
		LastName:        "Jones",
	}
}

func TestRegisterAndConfirm(t *testing.T) {
	f := newFixture(t)
	svc := newSignup(f, f.signer)
	ctx := context.Background()

	view, err := svc.Register(ctx, validSignup())
	require.NoError(t, err)
	assert.False(t, view.IsActive)
	assert.Equal(t, "carol@example.com", view.Email)
	assert.Equal(t, []string{model.RoleUser}, view.Roles)

	require.Equal(t, 1, f.mailer.count())
	msg := f.mailer.sent[0]
	assert.Equal(t, "confirmation", msg.Kind)
	assert.Equal(t, "carol@example.com", msg.To)
	assert.True(t, strings.Contains(msg.HTML, "http://front.test/api/v1/signup/confirm/"))
	require.Len(t, f.events.events, 1)
	assert.Equal(t, view.ID, f.events.events[0].UserID)

	_, err = f.auth.Login(ctx, "carol", "secret", model.ClientMeta{})
	assert.ErrorIs(t, err, ErrInactive)

	code, err := f.signer.For(utils.PurposeConfirm).EncodeID(view.ID)
	require.NoError(t, err)
	require.NoError(t, svc.Confirm(ctx, code))
	f.login(t, "carol", "secret")
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t)
	svc := newSignup(f, f.signer)
	ctx := context.Background()

	in := validSignup()
	in.PasswordConfirm = "other"
	_, err := svc.Register(ctx, in)
	assert.ErrorIs(t, err, ErrBadRequest)

	in = validSignup()
	in.Email = "not-an-email"
	_, err = svc.Register(ctx, in)
	assert.ErrorIs(t, err, ErrBadRequest)

	_, err = svc.Register(ctx, validSignup())
	require.NoError(t, err)

	in = validSignup()
	in.Login = "other"
	_, err = svc.Register(ctx, in)
	assert.ErrorIs(t, err, ErrConflict, "email is taken")

	in = validSignup()
	in.Email = "other@example.com"
	_, err = svc.Register(ctx, in)
	assert.ErrorIs(t, err, ErrConflict, "login is taken")
}

func TestConfirm_BadCodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view, err := newSignup(f, f.signer).Register(ctx, validSignup())
	require.NoError(t, err)
	code, err := f.signer.For(utils.PurposeConfirm).EncodeID(view.ID)
	require.NoError(t, err)

	later := newSignup(f, f.signer.WithClock(func() time.Time { return time.Now().Add(31 * 24 * time.Hour) }))
	assert.ErrorIs(t, later.Confirm(ctx, code), utils.ErrSignatureExpired)

	svc := newSignup(f, f.signer)
	forged, err := utils.NewSigner("other-secret").For(utils.PurposeConfirm).EncodeID(view.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, svc.Confirm(ctx, forged), utils.ErrBadSignature)

	ghost, err := f.signer.For(utils.PurposeConfirm).EncodeID("no-such-user")
	require.NoError(t, err)
	assert.ErrorIs(t, svc.Confirm(ctx, ghost), ErrNotFound)
}
