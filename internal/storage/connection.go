package storage

import (
	"context"
	"fmt"

	"fumen/internal/domain"
)

// Connect records an edge between two existing nodes.
func (s *GraphStore) Connect(ctx context.Context, c domain.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, err := s.db()
	if err != nil {
		return err
	}
	_, err = conn.ExecContext(ctx,
		`INSERT INTO connections (from_id, to_id, direction_from, direction_to) VALUES (?, ?, ?, ?)`,
		c.FromID, c.ToID, string(c.DirectionFrom), string(c.DirectionTo),
	)
	if err != nil {
		return fmt.Errorf("create connection: %w", err)
	}
	return nil
}

// Disconnect removes one edge.
func (s *GraphStore) Disconnect(ctx context.Context, c domain.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, err := s.db()
	if err != nil {
		return err
	}
	_, err = conn.ExecContext(ctx,
		`DELETE FROM connections WHERE from_id = ? AND to_id = ? AND direction_from = ? AND direction_to = ?`,
		c.FromID, c.ToID, string(c.DirectionFrom), string(c.DirectionTo),
	)
	return err
}

// Connections lists every edge ordered by endpoints.
func (s *GraphStore) Connections(ctx context.Context) ([]domain.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, err := s.db()
	if err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(ctx,
		`SELECT from_id, to_id, direction_from, direction_to FROM connections ORDER BY from_id, to_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var conns []domain.Connection
	for rows.Next() {
		var c domain.Connection
		var from, to string
		if err := rows.Scan(&c.FromID, &c.ToID, &from, &to); err != nil {
			return nil, err
		}
		c.DirectionFrom, c.DirectionTo = domain.Direction(from), domain.Direction(to)
		conns = append(conns, c)
	}
	return conns, rows.Err()
}
