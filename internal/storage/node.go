package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"fumen/internal/domain"
)

// assignment is one column/value pair of a partial insert or update.
type assignment struct {
	col string
	val any
}

// variant is the per-kind behaviour table. Kinds are dispatched once, by the
// tag in the nodes table, and everything after that goes through here.
type variant struct {
	table   string
	columns string
	// assignments lists only the attributes the node carries.
	assignments func(n domain.Node) ([]assignment, error)
	// validate checks the attributes required on creation.
	validate func(n domain.Node) error
	scan     func(sc interface{ Scan(...any) error }) (domain.Node, error)
}

var variants = map[domain.Kind]variant{
	domain.KindField: {
		table:   "field_data",
		columns: "id, data, thumbnail, hash, x, y",
		assignments: func(n domain.Node) ([]assignment, error) {
			f, ok := n.(domain.FieldNode)
			if !ok {
				return nil, fmt.Errorf("%w: %T is not a field node", domain.ErrTypeMismatch, n)
			}
			var a []assignment
			if f.Board != nil {
				a = append(a, assignment{"data", string(f.Board)})
			}
			if f.Thumbnail != nil {
				a = append(a, assignment{"thumbnail", *f.Thumbnail})
			}
			if f.Hash != nil {
				a = append(a, assignment{"hash", *f.Hash})
			}
			if f.X != nil {
				a = append(a, assignment{"x", *f.X})
			}
			if f.Y != nil {
				a = append(a, assignment{"y", *f.Y})
			}
			return a, nil
		},
		validate: func(n domain.Node) error {
			if n.(domain.FieldNode).Board == nil {
				return fmt.Errorf("%w: field node requires a board", domain.ErrInvalidInput)
			}
			return nil
		},
		scan: func(sc interface{ Scan(...any) error }) (domain.Node, error) {
			var (
				id              int64
				data            string
				thumbnail, hash sql.NullString
				x, y            sql.NullFloat64
			)
			if err := sc.Scan(&id, &data, &thumbnail, &hash, &x, &y); err != nil {
				return nil, err
			}
			return domain.FieldNode{
				ID:        &id,
				X:         nullFloat(x),
				Y:         nullFloat(y),
				Thumbnail: nullString(thumbnail),
				Board:     domain.Board(data),
				Hash:      nullString(hash),
			}, nil
		},
	},
	domain.KindText: {
		table:   "text_data",
		columns: "id, x, y, size, text, color, backgroundColor",
		assignments: func(n domain.Node) ([]assignment, error) {
			t, ok := n.(domain.TextNode)
			if !ok {
				return nil, fmt.Errorf("%w: %T is not a text node", domain.ErrTypeMismatch, n)
			}
			var a []assignment
			if t.X != nil {
				a = append(a, assignment{"x", *t.X})
			}
			if t.Y != nil {
				a = append(a, assignment{"y", *t.Y})
			}
			if t.Size != nil {
				a = append(a, assignment{"size", *t.Size})
			}
			if t.Text != nil {
				a = append(a, assignment{"text", *t.Text})
			}
			if t.Color != nil {
				a = append(a, assignment{"color", *t.Color})
			}
			if t.BackgroundColor != nil {
				a = append(a, assignment{"backgroundColor", *t.BackgroundColor})
			}
			return a, nil
		},
		validate: func(domain.Node) error { return nil },
		scan: func(sc interface{ Scan(...any) error }) (domain.Node, error) {
			var (
				id                     int64
				x, y                   sql.NullFloat64
				size                   sql.NullInt64
				text, color, bgColor   sql.NullString
			)
			if err := sc.Scan(&id, &x, &y, &size, &text, &color, &bgColor); err != nil {
				return nil, err
			}
			t := domain.TextNode{
				ID:              &id,
				X:               nullFloat(x),
				Y:               nullFloat(y),
				Text:            nullString(text),
				Color:           nullString(color),
				BackgroundColor: nullString(bgColor),
			}
			if size.Valid {
				v := int(size.Int64)
				t.Size = &v
			}
			return t, nil
		},
	},
}

func variantFor(k domain.Kind) (variant, error) {
	v, ok := variants[k]
	if !ok {
		return variant{}, fmt.Errorf("%w: %q", domain.ErrUnknownKind, k)
	}
	return v, nil
}

// CreateNode inserts n and returns its id. Only the attributes n carries are
// written. An id already set on n is kept, which is how replicas apply
// records whose id was assigned by the session host.
func (s *GraphStore) CreateNode(ctx context.Context, n domain.Node) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, err := s.db()
	if err != nil {
		return 0, err
	}
	v, err := variantFor(n.Kind())
	if err != nil {
		return 0, err
	}
	assigns, err := v.assignments(n)
	if err != nil {
		return 0, err
	}
	if err := v.validate(n); err != nil {
		return 0, err
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var res sql.Result
	if id, ok := n.NodeID(); ok {
		res, err = tx.ExecContext(ctx, `INSERT INTO nodes (id, type) VALUES (?, ?)`, id, string(n.Kind()))
	} else {
		res, err = tx.ExecContext(ctx, `INSERT INTO nodes (type) VALUES (?)`, string(n.Kind()))
	}
	if err != nil {
		return 0, fmt.Errorf("insert node: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert node: %w", err)
	}

	cols := []string{"id"}
	vals := []any{id}
	for _, a := range assigns {
		cols = append(cols, a.col)
		vals = append(vals, a.val)
	}
	q := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		v.table, strings.Join(cols, ", "), placeholders(len(cols)))
	if _, err := tx.ExecContext(ctx, q, vals...); err != nil {
		return 0, fmt.Errorf("insert %s: %w", v.table, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	s.commit(ctx, Event{
		Op:     OpCreated,
		Kind:   n.Kind(),
		ID:     id,
		Node:   n.WithID(id),
		Origin: OriginFrom(ctx),
	})
	return id, nil
}

// UpdateNode writes the attributes n carries and leaves every other column
// alone. A node with no attributes besides its id is a no-op.
func (s *GraphStore) UpdateNode(ctx context.Context, n domain.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, err := s.db()
	if err != nil {
		return err
	}
	id, ok := n.NodeID()
	if !ok {
		return fmt.Errorf("update %s node: %w", n.Kind(), domain.ErrInvalidState)
	}
	v, err := variantFor(n.Kind())
	if err != nil {
		return err
	}
	assigns, err := v.assignments(n)
	if err != nil {
		return err
	}
	if len(assigns) == 0 {
		s.afterCommit(ctx, Event{Op: OpUpdated, Kind: n.Kind(), ID: id, Node: n, Origin: OriginFrom(ctx)})
		return nil
	}

	sets := make([]string, 0, len(assigns))
	vals := make([]any, 0, len(assigns)+1)
	for _, a := range assigns {
		sets = append(sets, a.col+" = ?")
		vals = append(vals, a.val)
	}
	vals = append(vals, id)
	q := fmt.Sprintf(`UPDATE %s SET %s WHERE id = ?`, v.table, strings.Join(sets, ", "))
	res, err := conn.ExecContext(ctx, q, vals...)
	if err != nil {
		return fmt.Errorf("update %s: %w", v.table, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("update %s node %d: %w", n.Kind(), id, domain.ErrNodeNotFound)
	}

	s.commit(ctx, Event{
		Op:     OpUpdated,
		Kind:   n.Kind(),
		ID:     id,
		Node:   n,
		Origin: OriginFrom(ctx),
	})
	return nil
}

// DeleteNode removes the node row. Variant rows and connections go with it
// through ON DELETE CASCADE.
func (s *GraphStore) DeleteNode(ctx context.Context, n domain.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, err := s.db()
	if err != nil {
		return err
	}
	id, ok := n.NodeID()
	if !ok {
		return fmt.Errorf("delete %s node: %w", n.Kind(), domain.ErrInvalidState)
	}
	res, err := conn.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete node: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("delete node %d: %w", id, domain.ErrNodeNotFound)
	}

	latest, _, err := latestFieldID(ctx, conn)
	if err != nil {
		return err
	}
	s.commit(ctx, Event{
		Op:            OpDeleted,
		Kind:          n.Kind(),
		ID:            id,
		Node:          n,
		Origin:        OriginFrom(ctx),
		LatestFieldID: latest,
	})
	return nil
}

// GetNode loads a node by id. It returns nil, nil when the id is absent.
func (s *GraphStore) GetNode(ctx context.Context, id int64) (domain.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, err := s.db()
	if err != nil {
		return nil, err
	}
	return getNode(ctx, conn, id)
}

func getNode(ctx context.Context, conn *sql.DB, id int64) (domain.Node, error) {
	var kind string
	err := conn.QueryRowContext(ctx, `SELECT type FROM nodes WHERE id = ?`, id).Scan(&kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get node: %w", err)
	}
	v, err := variantFor(domain.Kind(kind))
	if err != nil {
		return nil, fmt.Errorf("node %d: %w", id, err)
	}
	n, err := v.scan(conn.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, v.columns, v.table), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s node %d: %w", kind, id, err)
	}
	return n, nil
}

// GetAllNodes returns every node in id order.
func (s *GraphStore) GetAllNodes(ctx context.Context) ([]domain.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, err := s.db()
	if err != nil {
		return nil, err
	}

	// Collect ids first; the pool has a single connection, so the cursor must
	// be closed before the per-node queries run.
	rows, err := conn.QueryContext(ctx, `SELECT id FROM nodes ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	nodes := make([]domain.Node, 0, len(ids))
	for _, id := range ids {
		n, err := getNode(ctx, conn, id)
		if err != nil {
			return nil, err
		}
		if n != nil {
			nodes = append(nodes, n)
		}
	}
	return nodes, nil
}

// GetAllOfKind returns every node of one kind in id order.
func (s *GraphStore) GetAllOfKind(ctx context.Context, kind domain.Kind) ([]domain.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, err := s.db()
	if err != nil {
		return nil, err
	}
	v, err := variantFor(kind)
	if err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s ORDER BY id ASC`, v.columns, v.table))
	if err != nil {
		return nil, fmt.Errorf("list %s nodes: %w", kind, err)
	}
	defer rows.Close()

	var nodes []domain.Node
	for rows.Next() {
		n, err := v.scan(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// Fields returns every field node in id order.
func (s *GraphStore) Fields(ctx context.Context) ([]domain.FieldNode, error) {
	nodes, err := s.GetAllOfKind(ctx, domain.KindField)
	if err != nil {
		return nil, err
	}
	out := make([]domain.FieldNode, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.(domain.FieldNode))
	}
	return out, nil
}

// Texts returns every text node in id order.
func (s *GraphStore) Texts(ctx context.Context) ([]domain.TextNode, error) {
	nodes, err := s.GetAllOfKind(ctx, domain.KindText)
	if err != nil {
		return nil, err
	}
	out := make([]domain.TextNode, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.(domain.TextNode))
	}
	return out, nil
}

// LatestFieldID returns the highest field node id, or false when the store
// holds no field node.
func (s *GraphStore) LatestFieldID(ctx context.Context) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, err := s.db()
	if err != nil {
		return 0, false, err
	}
	return latestFieldID(ctx, conn)
}

// latestFieldID returns -1, false when there is no field node.
func latestFieldID(ctx context.Context, conn *sql.DB) (int64, bool, error) {
	var id int64
	err := conn.QueryRowContext(ctx, `SELECT id FROM field_data ORDER BY id DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, false, nil
	}
	if err != nil {
		return -1, false, fmt.Errorf("latest field: %w", err)
	}
	return id, true, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
