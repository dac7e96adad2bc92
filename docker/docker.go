package docker

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/ory/dockertest"
)

const (
	postgresUser     = "postgres"
	postgresPassword = "postgres"
	postgresDB       = "postgres"
)

// PostgresCredentials are the credentials of containers started by StartPostgres
type PostgresCredentials struct {
	User     string
	Password string
	DBName   string
}

// Credentials returns the credentials of containers started by StartPostgres
func Credentials() PostgresCredentials {
	return PostgresCredentials{User: postgresUser, Password: postgresPassword, DBName: postgresDB}
}

// StartPostgres starts a throwaway postgres container and waits until it accepts connections
func StartPostgres() (*dockertest.Resource, error) {
	pool, err := dockertest.NewPool("")
	if err != nil {
		return nil, err
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "14",
		Env: []string{
			"POSTGRES_USER=" + postgresUser,
			"POSTGRES_PASSWORD=" + postgresPassword,
			"POSTGRES_DB=" + postgresDB,
		},
	})
	if err != nil {
		return nil, err
	}

	err = pool.Retry(func() error {
		db, err := sql.Open("postgres", fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", postgresUser, postgresPassword, resource.GetHostPort("5432/tcp"), postgresDB))
		if err != nil {
			return err
		}
		defer db.Close()
		return db.Ping()
	})
	if err != nil {
		pool.Purge(resource)
		return nil, err
	}

	return resource, nil
}
