package postgres

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leowu0329/authservice/internal/domain"
	"github.com/leowu0329/authservice/migrations"
	"github.com/leowu0329/authservice/pkg/database"
	apperrors "github.com/leowu0329/authservice/pkg/errors"
)

const testDatabaseURLEnv = "AUTHSERVICE_TEST_DATABASE_URL"

// openTestPool connects to the database named by AUTHSERVICE_TEST_DATABASE_URL
// and applies the embedded migrations. The test is skipped when the variable
// is unset or the database is unreachable.
func openTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv(testDatabaseURLEnv)
	if url == "" {
		t.Skipf("%s not set", testDatabaseURLEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	pool, err := database.NewPostgresPool(ctx, &database.PostgresConfig{URL: url, MaxConns: 4}, logger)
	if err != nil {
		t.Skipf("postgres not reachable: %v", err)
	}
	t.Cleanup(pool.Close)

	require.NoError(t, database.RunMigrations(ctx, pool, migrations.FS, logger))
	return pool
}

func uniqueAccount(prefix string) *domain.Account {
	now := time.Now().UTC().Truncate(time.Microsecond)
	a := &domain.Account{
		ID:           uuid.NewString(),
		Email:        prefix + "-" + uuid.NewString()[:8] + "@test.example.com",
		PasswordHash: "$2a$10$hash",
		Name:         "Integration",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	a.SetVerificationCode("123456", now)
	return a
}

func TestIntegration_AccountLifecycle(t *testing.T) {
	repo := NewAccountRepository(openTestPool(t))
	ctx := context.Background()

	a := uniqueAccount("lifecycle")
	require.NoError(t, repo.Create(ctx, a))

	got, err := repo.GetByVerificationCode(ctx, a.Email, "123456", time.Now())
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.False(t, got.Verified)

	_, err = repo.GetByVerificationCode(ctx, a.Email, "123456", time.Now().Add(domain.VerificationCodeTTL+time.Second))
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	got.MarkVerified()
	got.SetResetToken("digest-"+got.ID, time.Now())
	birthday := time.Date(1990, 5, 17, 0, 0, 0, 0, time.UTC)
	got.Birthday = &birthday
	got.Address = "1 Main St"
	got.UpdatedAt = time.Now().UTC()
	require.NoError(t, repo.Update(ctx, got))

	reloaded, err := repo.GetByResetTokenHash(ctx, "digest-"+got.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, reloaded.Verified)
	assert.Empty(t, reloaded.VerificationCode)
	assert.Nil(t, reloaded.VerificationCodeExpiresAt)
	require.NotNil(t, reloaded.Birthday)
	assert.Equal(t, "1990-05-17", reloaded.Birthday.Format(domain.BirthdayLayout))
	assert.Equal(t, "1 Main St", reloaded.Address)

	reloaded.ClearResetToken()
	require.NoError(t, repo.Update(ctx, reloaded))
	_, err = repo.GetByResetTokenHash(ctx, "digest-"+got.ID, time.Now())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestIntegration_UniqueConstraints(t *testing.T) {
	repo := NewAccountRepository(openTestPool(t))
	ctx := context.Background()

	first := uniqueAccount("unique")
	require.NoError(t, repo.Create(ctx, first))

	dup := uniqueAccount("unique")
	dup.Email = first.Email
	assert.ErrorIs(t, repo.Create(ctx, dup), domain.ErrDuplicateEmail)

	nationalID := "A" + uuid.NewString()[:9]
	first.NationalID = nationalID
	require.NoError(t, repo.Update(ctx, first))

	second := uniqueAccount("unique")
	require.NoError(t, repo.Create(ctx, second))
	second.NationalID = nationalID
	assert.ErrorIs(t, repo.Update(ctx, second), domain.ErrDuplicateNationalID)

	byID, err := repo.GetByNationalID(ctx, nationalID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, byID.ID)
}

func TestIntegration_SecretsAreConsumedOnce(t *testing.T) {
	repo := NewAccountRepository(openTestPool(t))
	ctx := context.Background()

	a := uniqueAccount("consume")
	a.SetResetToken("digest-"+a.ID, time.Now())
	require.NoError(t, repo.Create(ctx, a))

	verified, err := repo.ConsumeVerificationCode(ctx, a.Email, "123456", time.Now())
	require.NoError(t, err)
	assert.True(t, verified.Verified)
	_, err = repo.ConsumeVerificationCode(ctx, a.Email, "123456", time.Now())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	const workers = 8
	errs := make(chan error, workers)
	for i := range workers {
		go func() {
			_, err := repo.ConsumeResetToken(ctx, "digest-"+a.ID, "$2a$10$worker"+string(rune('a'+i)), time.Now())
			errs <- err
		}()
	}
	wins := 0
	for range workers {
		if err := <-errs; err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, apperrors.ErrNotFound)
		}
	}
	assert.Equal(t, 1, wins)
}
