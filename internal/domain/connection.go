package domain

// Direction names the side of a node an edge attaches to.
type Direction string

const (
	DirectionTop    Direction = "top"
	DirectionRight  Direction = "right"
	DirectionBottom Direction = "bottom"
	DirectionLeft   Direction = "left"
)

// Connection is an edge between two nodes. The four fields together form the
// key; deleting either endpoint removes the edge.
type Connection struct {
	FromID        int64     `json:"fromId"`
	ToID          int64     `json:"toId"`
	DirectionFrom Direction `json:"directionFrom"`
	DirectionTo   Direction `json:"directionTo"`
}
