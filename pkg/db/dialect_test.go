package db

import (
	"testing"

	"github.com/smallbiznis/chainstream/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestSqlitePath(t *testing.T) {
	assert.Equal(t, "chainstream.sqlite", sqlitePath(""))
	assert.Equal(t, "ledger.sqlite", sqlitePath("ledger"))
	assert.Equal(t, "ledger.db", sqlitePath("ledger.db"))
	assert.Equal(t, "file::memory:?cache=shared", sqlitePath("file::memory:?cache=shared"))
}

func TestDialectRejectsUnknownType(t *testing.T) {
	_, err := Dialect(config.Config{DBType: "oracle"})
	assert.Error(t, err)
}

func TestDialectNames(t *testing.T) {
	for _, typ := range []string{"mysql", "postgres", "sqlite"} {
		d, err := Dialect(config.Config{DBType: typ, DBName: "chainstream"})
		assert.NoError(t, err)
		assert.Equal(t, typ, d.Name())
	}
}
