package migrations

import (
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	input := `-- header comment
CREATE TABLE a (x UInt8) ENGINE = Memory;

  -- indented comment
CREATE TABLE b (
    y String
) ENGINE = Memory;
`
	stmts := splitStatements(input)
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (x UInt8) ENGINE = Memory", stmts[0])
	assert.True(t, strings.HasPrefix(stmts[1], "CREATE TABLE b ("))
	assert.NotContains(t, stmts[1], "comment")
}

func TestValidateNoSemicolonInStrings(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		wantErr bool
	}{
		{"plain", "SELECT 1;", false},
		{"string without semicolon", "SELECT 'a';", false},
		{"escaped quote", "SELECT 'it''s';", false},
		{"semicolon in string", "SELECT 'a;b';", true},
		{"empty string literal", "SELECT '';", false},
		{"semicolon after escaped quote", "SELECT 'it'';s';", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateNoSemicolonInStrings(tt.sql)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	data, err := fs.ReadFile(ClickhouseFS, "clickhouse/001_custody_events.sql")
	require.NoError(t, err)
	require.NoError(t, validateNoSemicolonInStrings(string(data)))
	assert.Len(t, splitStatements(string(data)), 1)

	pg, err := fs.ReadFile(PostgresFS, "postgres/00001_custody.sql")
	require.NoError(t, err)
	assert.Contains(t, string(pg), "-- +goose Up")
	assert.Contains(t, string(pg), "-- +goose Down")
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://default:@localhost:9000/custody_analytics")
	require.NoError(t, err)
	assert.Equal(t, "custody_analytics", db)

	_, err = databaseFromDSN("clickhouse://localhost:9000")
	assert.Error(t, err)
}

func TestClickhouseStatements(t *testing.T) {
	fsys := fstest.MapFS{
		"ch/002_views.sql":  {Data: []byte("CREATE VIEW v AS SELECT 1;\n")},
		"ch/001_tables.sql": {Data: []byte("-- tables\nCREATE TABLE a (x UInt8) ENGINE = Memory;\nCREATE TABLE b (y UInt8) ENGINE = Memory;\n")},
		"ch/README.md":      {Data: []byte("not sql;")},
	}

	stmts, err := clickhouseStatements(fsys, "ch")
	require.NoError(t, err)
	require.Len(t, stmts, 3)
	assert.Equal(t, "001_tables.sql", stmts[0].file)
	assert.Equal(t, "CREATE TABLE b (y UInt8) ENGINE = Memory", stmts[1].sql)
	assert.Equal(t, "002_views.sql", stmts[2].file)

	fsys["ch/003_bad.sql"] = &fstest.MapFile{Data: []byte("INSERT INTO a VALUES ('x;y');")}
	_, err = clickhouseStatements(fsys, "ch")
	assert.ErrorContains(t, err, "003_bad.sql")
}
