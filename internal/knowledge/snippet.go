package knowledge

import "time"

// Snippet is one searchable passage from a policy document: wording for a
// benefit, an exclusion, or a claims condition, tagged with the plan and
// market it belongs to.
type Snippet struct {
	ID        string    `json:"id"`
	Market    string    `json:"market"`
	Plan      string    `json:"plan"`
	Section   string    `json:"section"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`
}
