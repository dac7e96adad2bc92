package persist

import (
	"context"
	"fmt"
	"time"
)

// Admin is an address allowed to use the administrative surface
type Admin struct {
	Address      Address   `json:"address"`
	AddedBy      Address   `json:"added_by"`
	CreationTime time.Time `json:"created_at"`
}

// AdminRepository represents a repository for interacting with persisted admins
type AdminRepository interface {
	List(context.Context) ([]Admin, error)
	Add(context.Context, Admin) error
	Remove(context.Context, Address) error
	Count(context.Context) (int64, error)
}

// ErrAdminNotFound is returned when removing an address that is not an admin
type ErrAdminNotFound struct {
	Address Address
}

func (e ErrAdminNotFound) Error() string {
	return fmt.Sprintf("admin not found with address: %s", e.Address)
}
