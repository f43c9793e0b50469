// Package client implements the board REST API. The store drives it
// through its own consumer interface; the extra board-management calls
// (invite, leave, delete) are available to callers directly.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"

	"boardsync/domain"
)

// Client wraps http.Client with bearer authentication and JSON helpers.
type Client struct {
	BaseURL string
	Bearer  string
	HTTP    *http.Client
}

// New creates a new Client.
func New(baseURL, bearer string) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), Bearer: bearer, HTTP: &http.Client{}}
}

// APIError carries a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api status %d", e.Status)
	}
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	if out != nil {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if err := sonic.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// FetchBoard retrieves the full snapshot of one board.
func (c *Client) FetchBoard(ctx context.Context, boardID string) (*domain.Snapshot, error) {
	var snap domain.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/boards/"+boardID+"/full", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

type createColumnRequest struct {
	BoardID string `json:"boardId"`
	Title   string `json:"title"`
}

func (c *Client) CreateColumn(ctx context.Context, boardID, title string) error {
	return c.do(ctx, http.MethodPost, "/api/columns", createColumnRequest{BoardID: boardID, Title: title}, nil)
}

type titleRequest struct {
	Title string `json:"title"`
}

func (c *Client) UpdateColumnTitle(ctx context.Context, columnID, title string) error {
	return c.do(ctx, http.MethodPut, "/api/columns/"+columnID, titleRequest{Title: title}, nil)
}

func (c *Client) DeleteColumn(ctx context.Context, columnID string) error {
	return c.do(ctx, http.MethodDelete, "/api/columns/"+columnID, nil, nil)
}

type reorderColumnsRequest struct {
	BoardID          string   `json:"boardId"`
	OrderedColumnIDs []string `json:"orderedColumnIds"`
}

func (c *Client) ReorderColumns(ctx context.Context, boardID string, orderedColumnIDs []string) error {
	return c.do(ctx, http.MethodPost, "/api/columns/reorder", reorderColumnsRequest{BoardID: boardID, OrderedColumnIDs: orderedColumnIDs}, nil)
}

type createCardRequest struct {
	ColumnID string `json:"columnId"`
	Title    string `json:"title"`
}

func (c *Client) CreateCard(ctx context.Context, columnID, title string) error {
	return c.do(ctx, http.MethodPost, "/api/cards", createCardRequest{ColumnID: columnID, Title: title}, nil)
}

func (c *Client) UpdateCard(ctx context.Context, cardID string, patch domain.CardPatch) error {
	return c.do(ctx, http.MethodPut, "/api/cards/"+cardID, patch, nil)
}

type moveCardRequest struct {
	ToColumn string `json:"toColumn"`
	NewOrder int    `json:"newOrder"`
}

func (c *Client) MoveCard(ctx context.Context, cardID, toColumn string, newOrder int) error {
	return c.do(ctx, http.MethodPatch, "/api/cards/"+cardID+"/move", moveCardRequest{ToColumn: toColumn, NewOrder: newOrder}, nil)
}

type reorderCardsRequest struct {
	ColumnID       string   `json:"columnId"`
	OrderedCardIDs []string `json:"orderedCardIds"`
}

func (c *Client) ReorderCards(ctx context.Context, columnID string, orderedCardIDs []string) error {
	return c.do(ctx, http.MethodPatch, "/api/cards/reorder", reorderCardsRequest{ColumnID: columnID, OrderedCardIDs: orderedCardIDs}, nil)
}

func (c *Client) DeleteCard(ctx context.Context, cardID string) error {
	return c.do(ctx, http.MethodDelete, "/api/cards/"+cardID, nil, nil)
}

type cardMemberRequest struct {
	UserID string `json:"userId"`
}

func (c *Client) AddCardMember(ctx context.Context, cardID, userID string) error {
	return c.do(ctx, http.MethodPost, "/api/cards/"+cardID+"/members", cardMemberRequest{UserID: userID}, nil)
}

func (c *Client) RemoveCardMember(ctx context.Context, cardID, userID string) error {
	return c.do(ctx, http.MethodDelete, "/api/cards/"+cardID+"/members/"+userID, nil, nil)
}

func (c *Client) UpdateBoardTitle(ctx context.Context, boardID, title string) error {
	return c.do(ctx, http.MethodPut, "/api/boards/"+boardID, titleRequest{Title: title}, nil)
}

type createBoardRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// CreateBoard creates a new board owned by the authenticated user.
func (c *Client) CreateBoard(ctx context.Context, title, description string) (*domain.Board, error) {
	var board domain.Board
	if err := c.do(ctx, http.MethodPost, "/api/boards", createBoardRequest{Title: title, Description: description}, &board); err != nil {
		return nil, err
	}
	return &board, nil
}

func (c *Client) DeleteBoard(ctx context.Context, boardID string) error {
	return c.do(ctx, http.MethodDelete, "/api/boards/"+boardID, nil, nil)
}

func (c *Client) LeaveBoard(ctx context.Context, boardID string) error {
	return c.do(ctx, http.MethodPost, "/api/boards/"+boardID+"/leave", nil, nil)
}

type inviteRequest struct {
	Email string `json:"email"`
}

func (c *Client) InviteMember(ctx context.Context, boardID, email string) error {
	return c.do(ctx, http.MethodPost, "/api/boards/"+boardID+"/invite", inviteRequest{Email: email}, nil)
}

type removeMemberRequest struct {
	UserID string `json:"userId"`
}

func (c *Client) RemoveBoardMember(ctx context.Context, boardID, userID string) error {
	return c.do(ctx, http.MethodPost, "/api/boards/"+boardID+"/remove-member", removeMemberRequest{UserID: userID}, nil)
}
