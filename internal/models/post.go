// Package models defines the simulation's domain types.
package models

// Post is a piece of simulated feed content whose engagement drives the
// escalation protocol
type Post struct {
	ID         string `json:"id" yaml:"id"`
	Author     string `json:"author" yaml:"author"`
	Content    string `json:"content" yaml:"content"`
	Engagement int64  `json:"engagement" yaml:"engagement"`

	// CreatedAt is the database timestamp, kept as stored
	CreatedAt string `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// PostFromRow maps a row of (id, author, content, engagement, created_at)
// onto a Post. Numeric columns may arrive as int64 locally or float64 over
// the wire; both are accepted.
func PostFromRow(row []any) (Post, error) {
	if len(row) < 4 {
		return Post{}, rowLengthError("post", 4, len(row))
	}
	p := Post{
		ID:         AsString(row[0]),
		Author:     AsString(row[1]),
		Content:    AsString(row[2]),
		Engagement: AsInt64(row[3]),
	}
	if len(row) > 4 {
		p.CreatedAt = AsString(row[4])
	}
	return p, nil
}
