package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/docnet/internal/user/entity"
)

var userCols = []string{"id", "email", "password_hash", "password_algo", "role", "verified",
	"name", "specialization", "location", "nmc_number", "created_at", "updated_at"}

func newRepoWithMock(t *testing.T) (*UserRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewUserRepo(sqlx.NewDb(db, "postgres")), mock
}

func TestUserRepo_Create(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(`(?s)^INSERT\s+INTO\s+users\s*\(id,\s*email,.*RETURNING\s+created_at,\s*updated_at$`).
		WithArgs("42", "a@x.com", "hash", "bcrypt:12", "PATIENT", false, "Alice", "", "", "").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	u := &entity.User{ID: "42", Email: "a@x.com", PasswordHash: "hash", PasswordAlgo: "bcrypt:12", Role: entity.RolePatient, Name: "Alice"}
	require.NoError(t, repo.Create(context.Background(), u))
	assert.Equal(t, now, u.CreatedAt)
}

func TestUserRepo_Create_DuplicateEmail(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`INSERT\s+INTO\s+users`).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	err := repo.Create(context.Background(), &entity.User{ID: "1", Email: "a@x.com", Role: entity.RolePatient})
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestUserRepo_Create_DuplicateNMC(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`INSERT\s+INTO\s+users`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "users_nmc_number_key"})

	err := repo.Create(context.Background(), &entity.User{ID: "1", Email: "d@x.com", Role: entity.RoleDoctor, NMCNumber: "123456"})
	assert.ErrorIs(t, err, ErrDuplicateNMC)
	assert.NotErrorIs(t, err, ErrDuplicateEmail)
}

func TestUserRepo_Create_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`INSERT\s+INTO\s+users`).WillReturnError(errors.New("db down"))

	err := repo.Create(context.Background(), &entity.User{ID: "1", Email: "a@x.com"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicateEmail)
	assert.Contains(t, err.Error(), "db down")
}

func TestUserRepo_GetByEmail(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`(?s)^SELECT\s+id,.*FROM\s+users\s+WHERE\s+email=\$1$`).
		WithArgs("a@x.com").
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("42", "a@x.com", "hash", "bcrypt:12", "DOCTOR", true, "Alice", "cardio", "Pokhara", "123456", now, now))

	u, err := repo.GetByEmail(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "42", u.ID)
	assert.Equal(t, entity.RoleDoctor, u.Role)
	assert.True(t, u.Verified)
	assert.Equal(t, "123456", u.NMCNumber)
}

func TestUserRepo_GetByEmail_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`FROM\s+users\s+WHERE\s+email=\$1`).
		WithArgs("ghost@x.com").
		WillReturnRows(sqlmock.NewRows(userCols))

	_, err := repo.GetByEmail(context.Background(), "ghost@x.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserRepo_ListByRole(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM\s+users\s+WHERE\s+role=\$1\s+ORDER\s+BY`).
		WithArgs("DOCTOR").
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("1", "d1@x.com", "", "", "DOCTOR", true, "D1", "", "", "", now, now).
			AddRow("2", "d2@x.com", "", "", "DOCTOR", true, "D2", "", "", "", now, now))

	users, err := repo.ListByRole(context.Background(), entity.RoleDoctor)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "d2@x.com", users[1].Email)
}

func TestUserRepo_UpdateProfile(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now().UTC()
	name := "New Name"

	mock.ExpectQuery(`(?s)^UPDATE\s+users\s+SET.*WHERE\s+id=\$1.*RETURNING`).
		WithArgs("42", "New Name", nil, nil, nil).
		WillReturnRows(sqlmock.NewRows(userCols).
			AddRow("42", "a@x.com", "hash", "bcrypt:12", "PATIENT", false, "New Name", "", "", "", now, now))

	u, err := repo.UpdateProfile(context.Background(), "42", entity.Profile{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "New Name", u.Name)
}

func TestUserRepo_UpdateProfile_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`UPDATE\s+users`).WillReturnRows(sqlmock.NewRows(userCols))

	_, err := repo.UpdateProfile(context.Background(), "missing", entity.Profile{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserRepo_UpdateProfile_DuplicateNMC(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	nmc := "123456"

	mock.ExpectQuery(`UPDATE\s+users`).
		WithArgs("42", nil, nil, nil, "123456").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "users_nmc_number_key"})

	_, err := repo.UpdateProfile(context.Background(), "42", entity.Profile{NMCNumber: &nmc})
	assert.ErrorIs(t, err, ErrDuplicateNMC)
}
