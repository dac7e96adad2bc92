package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/SplitFi/go-barter/service/logger"
	"github.com/SplitFi/go-barter/service/persist"
)

// MaxAdmins bounds the admin allow-list, owner excluded
const MaxAdmins = 10

// Role is a capability granted to an address
type Role string

const (
	RoleOwner Role = "OWNER"
	RoleAdmin Role = "ADMIN"
)

var (
	// ErrNotOwner is returned when someone other than the owner edits the allow-list
	ErrNotOwner = errors.New("only the owner can manage admins")
	// ErrCannotRemoveOwner is returned when removing the owner from the allow-list
	ErrCannotRemoveOwner = errors.New("the owner cannot be removed")
)

// ErrTooManyAdmins is returned when the allow-list is full
type ErrTooManyAdmins struct {
	Max int
}

func (e ErrTooManyAdmins) Error() string {
	return fmt.Sprintf("at most %d admins are allowed", e.Max)
}

// Admins is the allow-list of addresses that may use the administrative surface. The owner is
// fixed by configuration and always an admin.
type Admins struct {
	repo  persist.AdminRepository
	owner persist.Address
}

// NewAdmins returns the allow-list rooted at owner
func NewAdmins(repo persist.AdminRepository, owner persist.Address) *Admins {
	return &Admins{repo: repo, owner: persist.NewAddress(owner.String())}
}

// Owner returns the fixed owner address
func (a *Admins) Owner() persist.Address {
	return a.owner
}

// IsAdmin reports whether address is the owner or on the allow-list
func (a *Admins) IsAdmin(ctx context.Context, address persist.Address) (bool, error) {
	if a.owner != "" && a.owner.Equal(address) {
		return true, nil
	}
	admins, err := a.repo.List(ctx)
	if err != nil {
		return false, err
	}
	for _, admin := range admins {
		if admin.Address.Equal(address) {
			return true, nil
		}
	}
	return false, nil
}

// List returns the allow-list, owner excluded
func (a *Admins) List(ctx context.Context) ([]persist.Admin, error) {
	return a.repo.List(ctx)
}

// Add puts address on the allow-list. Only the owner may add admins.
func (a *Admins) Add(ctx context.Context, caller, address persist.Address) error {
	if !a.owner.Equal(caller) {
		return ErrNotOwner
	}
	if !address.IsValid() {
		return fmt.Errorf("invalid address: %s", address)
	}
	if a.owner.Equal(address) {
		return nil
	}
	if ok, err := a.IsAdmin(ctx, address); err != nil || ok {
		return err
	}

	count, err := a.repo.Count(ctx)
	if err != nil {
		return err
	}
	if count >= MaxAdmins {
		return ErrTooManyAdmins{Max: MaxAdmins}
	}

	err = a.repo.Add(ctx, persist.Admin{Address: persist.NewAddress(address.String()), AddedBy: caller})
	if err != nil {
		return err
	}
	logger.For(ctx).WithFields(logrus.Fields{"admin": address, "addedBy": caller}).Info("added admin")
	return nil
}

// Remove takes address off the allow-list. Only the owner may remove admins.
func (a *Admins) Remove(ctx context.Context, caller, address persist.Address) error {
	if !a.owner.Equal(caller) {
		return ErrNotOwner
	}
	if a.owner.Equal(address) {
		return ErrCannotRemoveOwner
	}
	if err := a.repo.Remove(ctx, persist.NewAddress(address.String())); err != nil {
		return err
	}
	logger.For(ctx).WithFields(logrus.Fields{"admin": address, "removedBy": caller}).Info("removed admin")
	return nil
}

// RolesFor returns the roles of address
func RolesFor(ctx context.Context, admins *Admins, address persist.Address) ([]Role, error) {
	if admins == nil {
		return []Role{}, nil
	}
	if admins.owner.Equal(address) {
		return []Role{RoleOwner, RoleAdmin}, nil
	}
	ok, err := admins.IsAdmin(ctx, address)
	if err != nil {
		return nil, err
	}
	if ok {
		return []Role{RoleAdmin}, nil
	}
	return []Role{}, nil
}
