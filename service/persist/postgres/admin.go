package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/SplitFi/go-barter/service/persist"
)

// AdminRepository represents the admin allow-list in the postgres database
type AdminRepository struct {
	pool *pgxpool.Pool
}

// NewAdminRepository creates a new postgres repository for the admin allow-list
func NewAdminRepository(pool *pgxpool.Pool) *AdminRepository {
	return &AdminRepository{pool: pool}
}

// List returns every admin, oldest first
func (a *AdminRepository) List(pCtx context.Context) ([]persist.Admin, error) {
	rows, err := a.pool.Query(pCtx, `SELECT ADDRESS, ADDED_BY, CREATED_AT FROM admins ORDER BY CREATED_AT ASC;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	admins := make([]persist.Admin, 0, 10)
	for rows.Next() {
		var address, addedBy string
		var admin persist.Admin
		if err := rows.Scan(&address, &addedBy, &admin.CreationTime); err != nil {
			return nil, err
		}
		admin.Address = persist.NewAddress(address)
		admin.AddedBy = persist.NewAddress(addedBy)
		admins = append(admins, admin)
	}
	return admins, rows.Err()
}

// Add inserts an admin. Adding an existing admin is a no-op.
func (a *AdminRepository) Add(pCtx context.Context, pAdmin persist.Admin) error {
	_, err := a.pool.Exec(pCtx, `INSERT INTO admins (ADDRESS, ADDED_BY) VALUES ($1, $2) ON CONFLICT (ADDRESS) DO NOTHING;`, pAdmin.Address.String(), pAdmin.AddedBy.String())
	return err
}

// Remove deletes an admin
func (a *AdminRepository) Remove(pCtx context.Context, pAddress persist.Address) error {
	tag, err := a.pool.Exec(pCtx, `DELETE FROM admins WHERE ADDRESS = $1;`, pAddress.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return persist.ErrAdminNotFound{Address: pAddress}
	}
	return nil
}

// Count returns the number of admins
func (a *AdminRepository) Count(pCtx context.Context) (int64, error) {
	var count int64
	err := a.pool.QueryRow(pCtx, `SELECT COUNT(*) FROM admins;`).Scan(&count)
	return count, err
}
