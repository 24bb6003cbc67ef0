package protocol

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"fumen/internal/domain"
)

// nodeDoc is the flat wire form of a node. Absent attributes are omitted so a
// partial update stays partial after a round trip.
type nodeDoc struct {
	Type            string   `bson:"type"`
	ID              *int64   `bson:"id,omitempty"`
	X               *float64 `bson:"x,omitempty"`
	Y               *float64 `bson:"y,omitempty"`
	Data            *string  `bson:"data,omitempty"`
	Thumbnail       *string  `bson:"thumbnail,omitempty"`
	Hash            *string  `bson:"hash,omitempty"`
	Text            *string  `bson:"text,omitempty"`
	Size            *int64   `bson:"size,omitempty"`
	Color           *string  `bson:"color,omitempty"`
	BackgroundColor *string  `bson:"backgroundColor,omitempty"`
}

// EncodeNode serializes a node with its kind tag.
func EncodeNode(n domain.Node) (bson.Raw, error) {
	var doc nodeDoc
	switch v := n.(type) {
	case domain.FieldNode:
		doc = nodeDoc{Type: string(domain.KindField), ID: v.ID, X: v.X, Y: v.Y, Thumbnail: v.Thumbnail, Hash: v.Hash}
		if v.Board != nil {
			s := string(v.Board)
			doc.Data = &s
		}
	case domain.TextNode:
		doc = nodeDoc{Type: string(domain.KindText), ID: v.ID, X: v.X, Y: v.Y, Text: v.Text,
			Color: v.Color, BackgroundColor: v.BackgroundColor}
		if v.Size != nil {
			s := int64(*v.Size)
			doc.Size = &s
		}
	default:
		return nil, fmt.Errorf("encode node: %w: %T", domain.ErrUnknownKind, n)
	}
	data, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode node: %w", err)
	}
	return bson.Raw(data), nil
}

// DecodeNode rebuilds a node from its wire form.
func DecodeNode(raw bson.Raw) (domain.Node, error) {
	var doc nodeDoc
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode node: %w", err)
	}
	switch domain.Kind(doc.Type) {
	case domain.KindField:
		f := domain.FieldNode{ID: doc.ID, X: doc.X, Y: doc.Y, Thumbnail: doc.Thumbnail, Hash: doc.Hash}
		if doc.Data != nil {
			f.Board = domain.Board(*doc.Data)
		}
		return f, nil
	case domain.KindText:
		t := domain.TextNode{ID: doc.ID, X: doc.X, Y: doc.Y, Text: doc.Text,
			Color: doc.Color, BackgroundColor: doc.BackgroundColor}
		if doc.Size != nil {
			s := int(*doc.Size)
			t.Size = &s
		}
		return t, nil
	default:
		return nil, fmt.Errorf("decode node: %w: %q", domain.ErrUnknownKind, doc.Type)
	}
}
