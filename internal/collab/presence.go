package collab

import "fumen/internal/protocol"

// Palette is the cycle of peer colours, assigned in roster order.
var Palette = []string{"red", "orange", "yellow", "green", "blue", "indigo", "violet"}

// Peer is a roster member as the frontend sees it.
type Peer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
	Self  bool   `json:"self"`
}

// Presence is the last cursor position received from a peer.
type Presence struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Node  int64   `json:"node"`
	Color string  `json:"color"`
}

// assignColors maps every member except self to a palette colour by roster
// order.
func assignColors(members []protocol.Member, self string) map[string]string {
	colors := make(map[string]string, len(members))
	i := 0
	for _, m := range members {
		if m.ID == self {
			continue
		}
		colors[m.ID] = Palette[i%len(Palette)]
		i++
	}
	return colors
}
