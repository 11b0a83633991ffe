package migration

import (
	"errors"
	"testing"

	"portalsync/internal/app/server/config"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockMigrator struct {
	mock.Mock
}

func (m *MockMigrator) Up() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockMigrator) Close() (error, error) {
	args := m.Called()
	return args.Error(0), args.Error(1)
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.DB.DatabaseURI = "postgres://localhost/portal"
	cfg.DB.Migrations = "migrations"
	return cfg
}

func TestMigration_Up_Success(t *testing.T) {
	mockM := new(MockMigrator)
	mockM.On("Up").Return(nil)
	mockM.On("Close").Return(nil, nil)

	var gotSource, gotDB string
	engine := func(source, db string) (Migrator, error) {
		gotSource, gotDB = source, db
		return mockM, nil
	}

	err := NewMigration(testConfig(), engine).Up()

	assert.NoError(t, err)
	assert.Equal(t, "file://migrations", gotSource)
	assert.Equal(t, "postgres://localhost/portal", gotDB)
	mockM.AssertExpectations(t)
}

func TestMigration_Up_NoChange(t *testing.T) {
	mockM := new(MockMigrator)
	mockM.On("Up").Return(migrate.ErrNoChange)
	mockM.On("Close").Return(nil, nil)

	engine := func(source, db string) (Migrator, error) {
		return mockM, nil
	}

	assert.NoError(t, NewMigration(testConfig(), engine).Up())
}

func TestMigration_Up_Failure(t *testing.T) {
	mockM := new(MockMigrator)
	mockM.On("Up").Return(errors.New("dirty database"))
	mockM.On("Close").Return(nil, errors.New("conn reset"))

	engine := func(source, db string) (Migrator, error) {
		return mockM, nil
	}

	err := NewMigration(testConfig(), engine).Up()

	assert.ErrorContains(t, err, "dirty database")
	assert.ErrorContains(t, err, "conn reset")
}

func TestMigration_Up_EngineError(t *testing.T) {
	engine := func(source, db string) (Migrator, error) {
		return nil, errors.New("engine crash")
	}

	err := NewMigration(testConfig(), engine).Up()

	assert.EqualError(t, err, "engine crash")
}
