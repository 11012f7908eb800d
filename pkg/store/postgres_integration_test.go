//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	postgresTC "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"

	"lending/pkg/circuitbreaker"
	"lending/pkg/config"
	"lending/pkg/database"
	"lending/pkg/lending"
	"lending/pkg/models"
	"lending/pkg/store"
)

// setupPostgres starts a throwaway postgres and applies the goose migrations.
func setupPostgres(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()

	container, err := postgresTC.Run(ctx,
		"postgres:16-alpine",
		postgresTC.WithDatabase("library"),
		postgresTC.WithUsername("program"),
		postgresTC.WithPassword("test"),
		postgresTC.BasicWaitStrategies(),
	)
	require.NoError(t, err, "Failed to start postgres container")
	t.Cleanup(func() {
		assert.NoError(t, testcontainers.TerminateContainer(container))
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	cfg := &config.Config{
		DBDriver:       "postgres",
		DBHost:         host,
		DBPort:         port.Port(),
		DBUser:         "program",
		DBPassword:     "test",
		DBName:         "library",
		ConnectRetries: 3,
	}
	db, err := database.Open(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, database.Migrate(sqlDB, "postgres", "up"))

	return store.New(db, circuitbreaker.NewCircuitBreaker(5, time.Minute))
}

func TestPostgresLending(t *testing.T) {
	st := setupPostgres(t)
	ctx := context.Background()

	lib, err := lending.New(ctx, st, zap.NewNop())
	require.NoError(t, err)

	reader, err := models.NewReader("Ivan", "Petrov", "ivan@example.com", "password", 1990)
	require.NoError(t, err)
	res, err := lib.AddReader(ctx, &reader)
	require.NoError(t, err)
	require.True(t, res.OK())

	books := []models.Book{models.NewBook("Dune", "Herbert", 1965), models.NewBook("1984", "Orwell", 1949)}
	_, err = lib.AddBooks(ctx, books)
	require.NoError(t, err)

	res, err = lib.LendBooks(ctx, reader.ID, []uint{books[1].ID})
	require.NoError(t, err)
	require.True(t, res.OK())

	res, err = lib.LendBooks(ctx, reader.ID, []uint{books[0].ID, books[1].ID})
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, lending.ErrConflict)

	reloaded, err := lending.New(ctx, st, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, lib.AllBooks(), reloaded.AllBooks())
	require.Len(t, reloaded.AvailableBooks(), 1)
	assert.Equal(t, books[0].ID, reloaded.AvailableBooks()[0].ID)
}

func TestPostgresUniqueEmail(t *testing.T) {
	st := setupPostgres(t)
	ctx := context.Background()

	first := models.Reader{Name: "a", Surname: "b", Email: "dup@example.com", PasswordHash: "h"}
	require.NoError(t, st.InsertReader(ctx, &first))

	second := models.Reader{Name: "c", Surname: "d", Email: "dup@example.com", PasswordHash: "h"}
	assert.ErrorIs(t, st.InsertReader(ctx, &second), store.ErrDuplicate)

	missing := uint(9999)
	books := []models.Book{models.NewBook("Dune", "Herbert", 1965)}
	require.NoError(t, st.InsertBooks(ctx, books))
	assert.Error(t, st.SetHolder(ctx, []uint{books[0].ID}, &missing))
}
