package domain

import "encoding/json"

const (
	BoardTitleUpdated = "board:titleUpdated"
	MemberJoined      = "member:joined"
	MemberRemoved     = "member:removed"
	CardCreated       = "card:created"
	CardUpdated       = "card:updated"
	CardDeleted       = "card:deleted"
	CardMoved         = "card:moved"
	ColumnCreated     = "column:created"
	ColumnUpdated     = "column:updated"
	ColumnDeleted     = "column:deleted"
	ColumnsReordered  = "columns:reordered"
	CardsReordered    = "cards:reordered"
	ActivityUpdated   = "activity:updated"
)

// Event represents a change in a board, broadcast to every client
// subscribed to that board.
type Event struct {
	ID      string          `json:"id"`
	BoardID string          `json:"boardId"`
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Time    int64           `json:"time"`
	UserID  string          `json:"userId,omitempty"`
}

type BoardTitleUpdatedData struct {
	Title string `json:"title"`
}

type MemberJoinedData struct {
	BoardID  string `json:"boardId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

type MemberRemovedData struct {
	BoardID string `json:"boardId"`
	UserID  string `json:"userId"`
}

// CardEventData is the payload of card:created, card:updated and
// card:moved. The card carries its full server-side state.
type CardEventData struct {
	Card Card `json:"card"`
}

type CardDeletedData struct {
	CardID string `json:"cardId"`
}

type ColumnEventData struct {
	Column Column `json:"column"`
}

type ColumnDeletedData struct {
	ColumnID string `json:"columnId"`
}

type ColumnsReorderedData struct {
	ReorderedColumnIDs []string `json:"reorderedColumnIds"`
}

// CardsReorderedData carries the server-confirmed ordering of one
// column. Cards list only the entries whose numbering changed.
type CardsReorderedData struct {
	ColumnID string `json:"columnId"`
	Cards    []Card `json:"cards"`
}

type ActivityUpdatedData struct {
	Activity []ActivityEntry `json:"activity"`
}
