package migrations

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"path"
	"sort"
	"strings"

	chstore "solana-nft-custody/internal/storage/clickhouse"
)

// RunClickhouseMigrations creates the DSN database when missing, applies every
// embedded ClickHouse file in name order and returns a connection to that
// database. The files use IF NOT EXISTS, so this runs on every start.
func RunClickhouseMigrations(ctx context.Context, dsn string) (*chstore.Conn, error) {
	dbName, err := databaseFromDSN(dsn)
	if err != nil {
		return nil, err
	}

	stmts, err := clickhouseStatements(ClickhouseFS, "clickhouse")
	if err != nil {
		return nil, err
	}

	if err := createDatabase(ctx, dsn, dbName); err != nil {
		return nil, err
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, dbName)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse %s: %w", dbName, err)
	}
	for _, st := range stmts {
		if err := conn.Exec(ctx, st.sql); err != nil {
			conn.Close()
			return nil, fmt.Errorf("apply %s: %w", st.file, err)
		}
	}
	return conn, nil
}

func createDatabase(ctx context.Context, dsn, dbName string) error {
	admin, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return fmt.Errorf("connect clickhouse: %w", err)
	}
	execErr := admin.Exec(ctx, "CREATE DATABASE IF NOT EXISTS "+dbName)
	if err := errors.Join(execErr, admin.Close()); err != nil {
		return fmt.Errorf("create database %s: %w", dbName, err)
	}
	return nil
}

type statement struct {
	file string
	sql  string
}

// clickhouseStatements reads the .sql files under dir and splits them into
// single statements, since clickhouse-go runs one statement per Exec.
func clickhouseStatements(fsys fs.FS, dir string) ([]statement, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read clickhouse migrations: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []statement
	for _, name := range names {
		data, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		if err := validateNoSemicolonInStrings(string(data)); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		for _, sql := range splitStatements(string(data)) {
			out = append(out, statement{file: name, sql: sql})
		}
	}
	return out, nil
}

// splitStatements drops blank and -- comment lines, then splits on ';'.
func splitStatements(input string) []string {
	var kept []string
	for _, line := range strings.Split(input, "\n") {
		t := strings.TrimSpace(line)
		if t != "" && !strings.HasPrefix(t, "--") {
			kept = append(kept, line)
		}
	}

	var stmts []string
	for _, part := range strings.Split(strings.Join(kept, "\n"), ";") {
		if s := strings.TrimSpace(part); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}

// validateNoSemicolonInStrings rejects a ';' inside a single-quoted literal,
// which splitStatements would cut in two. '' is an escaped quote.
func validateNoSemicolonInStrings(sql string) error {
	quoted := false
	for i := 0; i < len(sql); i++ {
		switch sql[i] {
		case '\'':
			if quoted && i+1 < len(sql) && sql[i+1] == '\'' {
				i++
				continue
			}
			quoted = !quoted
		case ';':
			if quoted {
				return fmt.Errorf("semicolon inside string literal at offset %d", i)
			}
		}
	}
	return nil
}

func databaseFromDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	db := strings.TrimPrefix(u.Path, "/")
	if db == "" {
		return "", errors.New("clickhouse dsn names no database")
	}
	return db, nil
}
