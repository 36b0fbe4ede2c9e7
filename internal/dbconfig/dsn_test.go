package dbconfig_test

import (
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/idstrategy-bulkinsert-go/internal/dbconfig"
)

func Test_PostgresDSN_When_EnvIsSet_ShouldUseIt(t *testing.T) {
	t.Setenv(dbconfig.EnvPostgresDSN, "postgres://a:b@db:5432/x")

	assert.Equal(t, "postgres://a:b@db:5432/x", dbconfig.PostgresDSN())
}

func Test_PostgresDSN_When_EnvIsEmpty_ShouldUseDefault(t *testing.T) {
	t.Setenv(dbconfig.EnvPostgresDSN, "")

	assert.Equal(t, dbconfig.DefaultPostgresDSN, dbconfig.PostgresDSN())
}

func Test_BuildMySQLDSN_ParsesBack(t *testing.T) {
	// act
	dsn := dbconfig.BuildMySQLDSN("user", "secret", "db:3306", "books")

	// assert
	cfg, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "user", cfg.User)
	assert.Equal(t, "secret", cfg.Passwd)
	assert.Equal(t, "db:3306", cfg.Addr)
	assert.Equal(t, "books", cfg.DBName)
	assert.True(t, cfg.ParseTime)
}
