package domain

// GraphState is the full canvas content handed to the frontend on load.
type GraphState struct {
	Fields      []FieldNode  `json:"fields"`
	Texts       []TextNode   `json:"texts"`
	Connections []Connection `json:"connections"`
	// CurrentID is the selected field node, -1 when nothing is selected.
	CurrentID int64 `json:"currentId"`
}
