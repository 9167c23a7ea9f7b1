package testutils

import (
	"context"
	"os"
	"testing"

	"github.com/krew-solutions/ascetic-store-go/asceticstore/session"
	pgxsession "github.com/krew-solutions/ascetic-store-go/asceticstore/session/pgx"
)

// NewPgSessionPool connects to the PostgreSQL described by the DB_*
// environment variables and skips the test when DB_HOST is not set.
func NewPgSessionPool(t *testing.T) session.SessionPool {
	t.Helper()
	if _, ok := os.LookupEnv("DB_HOST"); !ok {
		t.Skip("DB_HOST is not set")
	}
	var dbUsername string = getEnv("DB_USERNAME", "devel")
	var dbPassword string = getEnv("DB_PASSWORD", "devel")
	var dbHost string = getEnv("DB_HOST", "localhost")
	var dbPort string = getEnv("DB_PORT", "5432")
	var dbBasename string = getEnv("DB_DATABASE", "devel_store")

	connString := "postgres://" + dbUsername + ":" + dbPassword + "@" + dbHost + ":" + dbPort + "/" + dbBasename

	pool, err := pgxsession.Connect(context.Background(), connString)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })
	return pool
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}

	return fallback
}
