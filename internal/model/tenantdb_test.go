package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDatabaseStatus_CanAdvance(t *testing.T) {
	assert.True(t, StatusNotCreated.CanAdvance(StatusCreated))
	assert.True(t, StatusNotCreated.CanAdvance(StatusMigrated))
	assert.True(t, StatusCreated.CanAdvance(StatusMigrated))

	// The status never regresses or self-loops.
	assert.False(t, StatusCreated.CanAdvance(StatusNotCreated))
	assert.False(t, StatusMigrated.CanAdvance(StatusCreated))
	assert.False(t, StatusMigrated.CanAdvance(StatusMigrated))
	assert.False(t, StatusNotCreated.CanAdvance(DatabaseStatus("bogus")))
}

func TestDriverType_Valid(t *testing.T) {
	assert.True(t, DriverMySQL.Valid())
	assert.True(t, DriverPostgreSQL.Valid())
	assert.True(t, DriverSQLServer.Valid())
	assert.False(t, DriverType("oracle").Valid())
	assert.False(t, DriverType("").Valid())
}

func TestTimestamped_Touch(t *testing.T) {
	var ts Timestamped
	first := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ts.Touch(first)
	assert.Equal(t, first, ts.CreatedAt)
	assert.Equal(t, first, ts.UpdatedAt)

	later := first.Add(time.Hour)
	ts.Touch(later)
	assert.Equal(t, first, ts.CreatedAt)
	assert.Equal(t, later, ts.UpdatedAt)
}
