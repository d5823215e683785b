package model

import (
	"sort"
	"time"
)

// User represents an identity record as stored in the `users` table.
// The password is only ever held as a bcrypt hash.  Roles and
// SocialAccounts are filled by the repository from the join tables;
// they are not columns of `users`.
//
// Fields:
//	ID             – UUID primary key.
//	Login          – unique login name.
//	Email          – unique email address.
//	PasswordHash   – bcrypt hashed password.
//	FirstName      – optional given name.
//	LastName       – optional family name.
//	IsActive       – false until the signup confirmation link is used.
//	CreatedAt      – timestamp of creation.
type User struct {
	ID             string          // users.id
	Login          string          // users.login
	Email          string          // users.email
	PasswordHash   string          // users.password_hash
	FirstName      string          // users.first_name
	LastName       string          // users.last_name
	IsActive       bool            // users.is_active
	CreatedAt      time.Time       // users.created_at
	Roles          []string        // role names via user_roles
	SocialAccounts []SocialAccount // social_accounts rows of this user
}

// SocialAccount links a user to the subject id of an external OAuth
// provider.  The pair (Provider, ProviderUserID) is unique.
type SocialAccount struct {
	ID             string    `json:"id"`
	UserID         string    `json:"-"`
	Provider       string    `json:"provider"`
	ProviderUserID string    `json:"provider_user_id"`
	CreatedAt      time.Time `json:"-"`
}

// UserView is the projection of a user that leaves the service and the
// value kept in the identity cache.  It never carries the password hash.
type UserView struct {
	ID             string          `json:"id"`
	Login          string          `json:"login"`
	Email          string          `json:"email"`
	FirstName      string          `json:"first_name"`
	LastName       string          `json:"last_name"`
	IsActive       bool            `json:"is_active"`
	Roles          []string        `json:"roles"`
	SocialAccounts []SocialAccount `json:"social_accounts"`
}

// View builds the outward projection of u.  Roles are sorted and both
// slices are non-nil so a cached copy decodes to an identical value.
func (u *User) View() UserView {
	roles := make([]string, 0, len(u.Roles))
	roles = append(roles, u.Roles...)
	sort.Strings(roles)
	accounts := make([]SocialAccount, 0, len(u.SocialAccounts))
	accounts = append(accounts, u.SocialAccounts...)
	return UserView{
		ID:             u.ID,
		Login:          u.Login,
		Email:          u.Email,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		IsActive:       u.IsActive,
		Roles:          roles,
		SocialAccounts: accounts,
	}
}

// Checkout is the compact identity handed to downstream services by
// GET /auth/checkout.
type Checkout struct {
	UserData  CheckoutUser `json:"user_data"`
	UserRoles []string     `json:"user_roles"`
}

// CheckoutUser is the user part of a Checkout.
type CheckoutUser struct {
	UserID    string `json:"user_id"`
	Login     string `json:"login"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}
