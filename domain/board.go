package domain

import "time"

// Member identifies a user participating in a board.
type Member struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// Board is the top-level collaborative workspace containing columns.
type Board struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Owner       Member   `json:"owner"`
	Members     []Member `json:"members"`
}

// Column is a named lane within a board. Order is dense and zero based
// across the columns of one board.
type Column struct {
	ID      string `json:"id"`
	BoardID string `json:"boardId"`
	Title   string `json:"title"`
	Order   int    `json:"order"`
}

// Card is a work item belonging to exactly one column at a time. Order
// is dense and zero based within its column.
type Card struct {
	ID          string     `json:"id"`
	ColumnID    string     `json:"columnId"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Done        bool       `json:"done,omitempty"`
	Order       int        `json:"order"`
	Members     []string   `json:"members,omitempty"`
	CreatedBy   string     `json:"createdBy,omitempty"`
}

// CardPatch carries a partial card update. Nil fields are left untouched.
type CardPatch struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	Done        *bool      `json:"done,omitempty"`
}

// Empty reports whether the patch carries no fields.
func (p CardPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Deadline == nil && p.Done == nil
}

// ActivityEntry is one line of the board activity log. The server is
// authoritative for the list; clients replace it wholesale.
type ActivityEntry struct {
	ID    string `json:"id"`
	Actor Member `json:"actor"`
	Text  string `json:"text"`
	Time  int64  `json:"time"`
}

// Snapshot is the full board read model as served by GET /api/boards/:id/full.
type Snapshot struct {
	Board    Board           `json:"board"`
	Columns  []Column        `json:"columns"`
	Cards    []Card          `json:"cards"`
	Activity []ActivityEntry `json:"activity"`
}
