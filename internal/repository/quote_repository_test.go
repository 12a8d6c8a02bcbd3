package repository

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertQueryPlaceholders(t *testing.T) {
	s := NewClickHouseStorage(nil, "marketpulse", "quote_updates", "upstream")

	q := s.insertQuery(3)
	assert.True(t, strings.HasPrefix(q, "INSERT INTO marketpulse.quote_updates (ts, symbol, price, change_percent, source) VALUES "))
	assert.Equal(t, 15, strings.Count(q, "?"))
}

func TestSchemaTargetsConfiguredTable(t *testing.T) {
	s := NewClickHouseStorage(nil, "md", "ticks", "relay")

	stmts := s.Schema()
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE DATABASE IF NOT EXISTS md", stmts[0])
	assert.Contains(t, stmts[1], "CREATE TABLE IF NOT EXISTS md.ticks")
	assert.Contains(t, stmts[1], "ORDER BY (symbol, ts)")
}
