package genealogy

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/tariel-x/mlmadmin/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupSQLiteStore(t *testing.T) (*gorm.DB, *GormStore) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "genealogy.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Member{}))
	return db, NewGormStore(db)
}

func TestGormStoreChildrenInInsertOrder(t *testing.T) {
	db, store := setupSQLiteStore(t)
	for _, m := range []models.Member{
		member("ROOT", "", ""),
		member("B", "ROOT", models.PositionRight),
		member("A", "ROOT", models.PositionLeft),
		member("C", "A", models.PositionLeft),
	} {
		require.NoError(t, db.Create(&m).Error)
	}

	children, err := store.Children(context.Background(), "ROOT")
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "B", children[0].MemberID)
	assert.Equal(t, "A", children[1].MemberID)

	none, err := store.Children(context.Background(), "C")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGormStoreMember(t *testing.T) {
	db, store := setupSQLiteStore(t)
	m := member("ROOT", "", "")
	require.NoError(t, db.Create(&m).Error)

	got, err := store.Member(context.Background(), "ROOT")
	require.NoError(t, err)
	assert.Equal(t, "Member ROOT", got.Name)

	_, err = store.Member(context.Background(), "MISSING")
	assert.ErrorIs(t, err, ErrMemberNotFound)
}

func TestGormStoreScenarioThroughResolver(t *testing.T) {
	db, store := setupSQLiteStore(t)
	for _, m := range []models.Member{
		member("M1", "", ""),
		member("M2", "M1", models.PositionLeft),
		member("M3", "M1", models.PositionRight),
		member("M4", "M2", models.PositionLeft),
	} {
		require.NoError(t, db.Create(&m).Error)
	}
	r := NewResolver(store)

	count, err := r.CountDownline(context.Background(), "M1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	tree, err := r.BinaryTree(context.Background(), "M1", 2)
	require.NoError(t, err)
	require.Len(t, tree.Children, 2)
	require.Len(t, tree.Children[0].Children, 1)
	assert.Equal(t, "M4", tree.Children[0].Children[0].MemberID)
}

func setupMockStore(t *testing.T) (*GormStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:       sqlDB,
		DriverName: "postgres",
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return NewGormStore(db), mock
}

func TestGormStoreFetchErrorPropagates(t *testing.T) {
	store, mock := setupMockStore(t)
	dbErr := errors.New("connection refused")

	mock.ExpectQuery(`SELECT \* FROM "members" WHERE sponsor_code = \$1 ORDER BY id ASC`).
		WithArgs("M1").
		WillReturnError(dbErr)

	_, err := NewResolver(store).CountDownline(context.Background(), "M1")
	assert.ErrorIs(t, err, dbErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStoreMemberLoadError(t *testing.T) {
	store, mock := setupMockStore(t)
	dbErr := errors.New("timeout")

	mock.ExpectQuery(`SELECT \* FROM "members" WHERE member_id = \$1`).
		WillReturnError(dbErr)

	_, err := store.Member(context.Background(), "M1")
	assert.ErrorIs(t, err, dbErr)
	assert.False(t, errors.Is(err, ErrMemberNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}
