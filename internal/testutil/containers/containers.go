// Package containers starts disposable Postgres and Redis instances for
// integration tests using dockertest.
package containers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	goredis "github.com/redis/go-redis/v9"

	"rentlane/internal/common/config"
)

const (
	expireAfterSeconds = 120
	maxWait            = 60 * time.Second
)

// Container is a running docker resource that is purged on Close.
type Container struct {
	pool     *dockertest.Pool
	resource *dockertest.Resource
}

func start(opts *dockertest.RunOptions) (*Container, error) {
	pool, err := dockertest.NewPool("")
	if err != nil {
		return nil, fmt.Errorf("construct docker pool: %w", err)
	}
	if err := pool.Client.Ping(); err != nil {
		return nil, fmt.Errorf("connect to docker: %w", err)
	}
	pool.MaxWait = maxWait

	resource, err := pool.RunWithOptions(opts, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", opts.Repository, err)
	}
	if err := resource.Expire(expireAfterSeconds); err != nil {
		_ = pool.Purge(resource)
		return nil, fmt.Errorf("set expiry on %s: %w", opts.Repository, err)
	}

	return &Container{pool: pool, resource: resource}, nil
}

func (c *Container) retry(fn func() error) error {
	return c.pool.Retry(fn)
}

func (c *Container) Close() error {
	return c.pool.Purge(c.resource)
}

// Postgres is a migrated database reachable through Pool.
type Postgres struct {
	*Container
	URL  string
	Pool *pgxpool.Pool
}

// StartPostgres boots postgres, connects with the same session settings the
// worker uses and applies every migration under migrationsURL.
func StartPostgres(migrationsURL string) (*Postgres, error) {
	c, err := start(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "17-alpine",
		Env: []string{
			"POSTGRES_USER=rentlane",
			"POSTGRES_PASSWORD=rentlane",
			"POSTGRES_DB=rentlane",
		},
	})
	if err != nil {
		return nil, err
	}

	pg := &Postgres{
		Container: c,
		URL:       fmt.Sprintf("postgres://rentlane:rentlane@%s/rentlane?sslmode=disable", c.resource.GetHostPort("5432/tcp")),
	}
	cfg := &config.Config{
		DatabaseURL:        pg.URL,
		DBMaxConns:         10,
		DBMinConns:         1,
		DBMaxConnLifetime:  5,
		DBMaxConnIdleTime:  1,
		DBStatementTimeout: 30 * time.Second,
		DBApplicationName:  "rentlane-test",
	}

	err = c.retry(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pool, err := cfg.NewPostgresPool(ctx)
		if err != nil {
			return err
		}
		pg.Pool = pool
		return nil
	})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := migrateUp(migrationsURL, pg.URL); err != nil {
		pg.Close()
		return nil, err
	}
	return pg, nil
}

func migrateUp(sourceURL, databaseURL string) error {
	m, err := migrate.New(sourceURL, databaseURL)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	if p.Pool != nil {
		p.Pool.Close()
	}
	return p.Container.Close()
}

// Redis is an empty redis instance reachable through Client.
type Redis struct {
	*Container
	Client *goredis.Client
}

func StartRedis() (*Redis, error) {
	c, err := start(&dockertest.RunOptions{Repository: "redis", Tag: "7-alpine"})
	if err != nil {
		return nil, err
	}

	r := &Redis{Container: c}
	err = c.retry(func() error {
		cfg := &config.Config{RedisURL: fmt.Sprintf("redis://%s/0", c.resource.GetHostPort("6379/tcp"))}
		client, err := cfg.NewRedisClient(context.Background())
		if err != nil {
			return err
		}
		r.Client = client
		return nil
	})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return r, nil
}

func (r *Redis) Close() error {
	if r.Client != nil {
		_ = r.Client.Close()
	}
	return r.Container.Close()
}

// Main runs the package tests between setup and teardown and exits with the
// test status. A setup failure aborts the binary.
func Main(m *testing.M, setup func() (teardown func() error, err error)) {
	teardown, err := setup()
	if err != nil {
		log.Fatalf("integration setup: %s", err)
	}

	code := m.Run()

	if err := teardown(); err != nil {
		log.Printf("integration teardown: %s", err)
	}
	os.Exit(code)
}
