package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fumen/internal/domain"
)

func TestGetNode_UnknownKindTag(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()
	require.NoError(t, s.InitializeEmpty(ctx))

	_, err := s.conn.ExecContext(ctx, `INSERT INTO nodes (id, type) VALUES (5, 'circle')`)
	require.NoError(t, err)

	_, err = s.GetNode(ctx, 5)
	assert.ErrorIs(t, err, domain.ErrUnknownKind)
	_, err = s.GetAllNodes(ctx)
	assert.ErrorIs(t, err, domain.ErrUnknownKind)
}

func TestInitializeFromBinary_RejectsNewerSchema(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()
	require.NoError(t, s.InitializeEmpty(ctx))
	_, err := s.conn.ExecContext(ctx, `UPDATE config SET version = ?`, SchemaVersion+1)
	require.NoError(t, err)
	blob, err := s.ExportBinary(ctx)
	require.NoError(t, err)

	other := New()
	defer other.Close()
	err = other.InitializeFromBinary(ctx, blob)
	assert.ErrorIs(t, err, domain.ErrCorruptStore)
	assert.False(t, other.Initialized())
}

func TestInitializeFromBinary_RejectsMissingTables(t *testing.T) {
	ctx := context.Background()
	conn, err := openMemory(ctx)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.ExecContext(ctx, `CREATE TABLE nodes (id INTEGER PRIMARY KEY, type TEXT NOT NULL)`)
	require.NoError(t, err)
	blob, err := serialize(ctx, conn)
	require.NoError(t, err)

	s := New()
	defer s.Close()
	err = s.InitializeFromBinary(ctx, blob)
	assert.ErrorIs(t, err, domain.ErrCorruptStore)
}
