package domain

import (
	"encoding/hex"

	"lukechampine.com/blake3"
)

// Kind is the stored type tag of a node row.
type Kind string

const (
	KindField Kind = "field"
	KindText  Kind = "text"
)

// Valid reports whether k is a known node kind.
func (k Kind) Valid() bool {
	return k == KindField || k == KindText
}

// Node is a graph entity on the canvas. The concrete types are FieldNode
// and TextNode; nothing else implements it.
//
// Every attribute of a concrete node is optional. A nil pointer means the
// attribute was not supplied and must not be written; a pointer to a zero
// value means "set to zero".
type Node interface {
	Kind() Kind
	// NodeID returns the store id and whether it is set.
	NodeID() (int64, bool)
	// WithID returns a copy of the node carrying id.
	WithID(id int64) Node
	isNode()
}

// Board is the opaque JSON text of a Tetris board snapshot. A nil Board
// means the board was not supplied.
type Board []byte

// Digest returns the hex BLAKE3-256 digest used for thumbnail staleness checks.
func (b Board) Digest() string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// MarshalJSON emits the board as embedded JSON rather than base64.
func (b Board) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("null"), nil
	}
	return b, nil
}

func (b *Board) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*b = nil
		return nil
	}
	*b = append((*b)[:0], data...)
	return nil
}

// Clone returns an independent copy of b.
func (b Board) Clone() Board {
	if b == nil {
		return nil
	}
	out := make(Board, len(b))
	copy(out, b)
	return out
}

// FieldNode is a positioned Tetris board snapshot.
type FieldNode struct {
	ID        *int64   `json:"id,omitempty"`
	X         *float64 `json:"x,omitempty"`
	Y         *float64 `json:"y,omitempty"`
	Thumbnail *string  `json:"thumbnail,omitempty"`
	Board     Board    `json:"data,omitempty"`
	Hash      *string  `json:"hash,omitempty"`
}

func (FieldNode) Kind() Kind { return KindField }

func (n FieldNode) NodeID() (int64, bool) {
	if n.ID == nil {
		return 0, false
	}
	return *n.ID, true
}

func (n FieldNode) WithID(id int64) Node {
	n.ID = &id
	return n
}

func (FieldNode) isNode() {}

// ThumbnailFresh reports whether the stored thumbnail was rendered from the
// current board.
func (n FieldNode) ThumbnailFresh() bool {
	if n.Thumbnail == nil || n.Hash == nil {
		return false
	}
	return *n.Hash == n.Board.Digest()
}

// TextNode is a positioned text annotation.
type TextNode struct {
	ID              *int64   `json:"id,omitempty"`
	X               *float64 `json:"x,omitempty"`
	Y               *float64 `json:"y,omitempty"`
	Text            *string  `json:"text,omitempty"`
	Size            *int     `json:"size,omitempty"`
	Color           *string  `json:"color,omitempty"`
	BackgroundColor *string  `json:"backgroundColor,omitempty"`
}

func (TextNode) Kind() Kind { return KindText }

func (n TextNode) NodeID() (int64, bool) {
	if n.ID == nil {
		return 0, false
	}
	return *n.ID, true
}

func (n TextNode) WithID(id int64) Node {
	n.ID = &id
	return n
}

func (TextNode) isNode() {}

// Ptr returns a pointer to v. Used to fill optional node attributes.
func Ptr[T any](v T) *T {
	return &v
}
