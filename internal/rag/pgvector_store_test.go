package rag

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// recordSQL 记录经过 gorm 的原生 SQL
func recordSQL(t *testing.T, db *gorm.DB) func() []string {
	t.Helper()
	var mu sync.Mutex
	var stmts []string
	record := func(tx *gorm.DB) {
		mu.Lock()
		stmts = append(stmts, tx.Statement.SQL.String())
		mu.Unlock()
	}
	require.NoError(t, db.Callback().Raw().Before("gorm:raw").Register("test:record_raw", record))
	require.NoError(t, db.Callback().Row().Before("gorm:row").Register("test:record_row", record))
	return func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), stmts...)
	}
}

func TestPGVectorSearchEnsuresTableFirst(t *testing.T) {
	db := newTestDB(t)
	statements := recordSQL(t, db)

	store, err := NewPGVectorStore(db, PGVectorOptions{Dimension: testDim})
	require.NoError(t, err)

	// sqlite 没有 vector 扩展，建表失败后不应再去查询
	_, err = store.Search(context.Background(), []float32{1, 0, 0, 0}, 3)
	require.Error(t, err)

	stmts := statements()
	require.NotEmpty(t, stmts)
	assert.Contains(t, stmts[0], "CREATE EXTENSION IF NOT EXISTS vector")
	for _, s := range stmts {
		assert.False(t, strings.HasPrefix(strings.TrimSpace(s), "SELECT"), "unexpected query %q", s)
	}

	// 失败不被记住，下一次仍会重试建表
	_, err = store.Search(context.Background(), []float32{1, 0, 0, 0}, 3)
	require.Error(t, err)
	assert.Greater(t, len(statements()), len(stmts))
}

func TestPGVectorRejectsBadTableName(t *testing.T) {
	_, err := NewPGVectorStore(newTestDB(t), PGVectorOptions{Table: "chunks; DROP TABLE documents"})
	require.Error(t, err)
}
