package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	_ "github.com/lib/pq"

	"github.com/SplitFi/go-barter/env"
	"github.com/SplitFi/go-barter/service/logger"
)

func init() {
	env.RegisterValidation("POSTGRES_HOST", "required")
	env.RegisterValidation("POSTGRES_USER", "required")
}

type connectionParams struct {
	user     string
	password string
	dbname   string
	host     string
	port     int
}

// ConnectionOption overrides a connection parameter read from the environment
type ConnectionOption func(*connectionParams)

// WithUser connects as user
func WithUser(user string) ConnectionOption {
	return func(p *connectionParams) { p.user = user }
}

// WithPassword connects with password
func WithPassword(password string) ConnectionOption {
	return func(p *connectionParams) { p.password = password }
}

// WithDBName connects to dbname
func WithDBName(dbname string) ConnectionOption {
	return func(p *connectionParams) { p.dbname = dbname }
}

// WithHost connects to host
func WithHost(host string) ConnectionOption {
	return func(p *connectionParams) { p.host = host }
}

// WithPort connects to port
func WithPort(port int) ConnectionOption {
	return func(p *connectionParams) { p.port = port }
}

func newConnectionParams(opts ...ConnectionOption) connectionParams {
	params := connectionParams{
		user:     env.GetString("POSTGRES_USER"),
		password: env.GetString("POSTGRES_PASSWORD"),
		dbname:   env.GetString("POSTGRES_DB"),
		host:     env.GetString("POSTGRES_HOST"),
		port:     env.GetInt("POSTGRES_PORT"),
	}
	for _, opt := range opts {
		opt(&params)
	}
	if params.port == 0 {
		params.port = 5432
	}
	if params.dbname == "" {
		params.dbname = "postgres"
	}
	return params
}

func (p connectionParams) url() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.user, p.password),
		Host:     fmt.Sprintf("%s:%d", p.host, p.port),
		Path:     p.dbname,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// NewClient opens a database/sql connection backed by lib/pq
func NewClient(opts ...ConnectionOption) (*sql.DB, error) {
	params := newConnectionParams(opts...)
	db, err := sql.Open("postgres", params.url())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// MustCreateClient is NewClient that panics on failure
func MustCreateClient(opts ...ConnectionOption) *sql.DB {
	db, err := NewClient(opts...)
	if err != nil {
		logger.For(nil).WithError(err).Error("failed to connect to postgres")
		panic(err)
	}
	return db
}

// NewPgxClient opens a pgx connection pool and panics on failure
func NewPgxClient(opts ...ConnectionOption) *pgxpool.Pool {
	params := newConnectionParams(opts...)

	config, err := pgxpool.ParseConfig(params.url())
	if err != nil {
		panic(err)
	}
	config.MaxConns = 20

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.ConnectConfig(ctx, config)
	if err != nil {
		logger.For(nil).WithError(err).Error("failed to connect to postgres")
		panic(err)
	}
	return pool
}

func checkNoErr(err error) {
	if err != nil {
		panic(err)
	}
}
