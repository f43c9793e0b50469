package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"boardsync/domain"
)

const (
	requestMaxSize    = 64 * 1024
	heartbeatInterval = 25 * time.Second
)

// Register wires up all board API routes on the provided Echo instance.
func Register(e *echo.Echo, store *BoardStorage, auth Authenticator, pub *Publisher, deduper Deduper, logger *log.Logger) {
	h := &handlers{store: store, auth: auth, pub: pub, deduper: deduper, log: logger}

	e.GET("/healthz", h.healthz)

	e.POST("/api/boards", h.createBoard)
	e.GET("/api/boards/:id/full", h.boardFull)
	e.GET("/api/boards/:id/stream", h.boardStream)
	e.PUT("/api/boards/:id", h.updateBoardTitle)
	e.DELETE("/api/boards/:id", h.deleteBoard)
	e.POST("/api/boards/:id/leave", h.leaveBoard)
	e.POST("/api/boards/:id/invite", h.inviteMember)
	e.POST("/api/boards/:id/remove-member", h.removeMember)

	e.POST("/api/columns", h.createColumn)
	e.PUT("/api/columns/:id", h.updateColumnTitle)
	e.DELETE("/api/columns/:id", h.deleteColumn)
	e.POST("/api/columns/reorder", h.reorderColumns)

	e.POST("/api/cards", h.createCard)
	e.PUT("/api/cards/:id", h.updateCard)
	e.PATCH("/api/cards/:id/move", h.moveCard)
	e.PATCH("/api/cards/reorder", h.reorderCards)
	e.DELETE("/api/cards/:id", h.deleteCard)
	e.POST("/api/cards/:id/members", h.addCardMember)
	e.DELETE("/api/cards/:id/members/:userId", h.removeCardMember)
}

type handlers struct {
	store   *BoardStorage
	auth    Authenticator
	pub     *Publisher
	deduper Deduper
	log     *log.Logger
}

func (h *handlers) healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func decode(c echo.Context, out any) error {
	lr := io.LimitReader(c.Request().Body, requestMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func respondErr(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return c.String(http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		return c.String(http.StatusForbidden, err.Error())
	default:
		c.Logger().Error(err)
		return c.String(http.StatusInternalServerError, err.Error())
	}
}

func (h *handlers) userID(c echo.Context) (string, error) {
	return h.auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
}

// dedupe claims the request's Idempotency-Key. It returns done=true
// when the request is a duplicate and has already been answered, and a
// release func the caller must invoke when storage fails.
func (h *handlers) dedupe(c echo.Context, userID string) (done bool, release func(), err error) {
	key := c.Request().Header.Get("Idempotency-Key")
	if key == "" || h.deduper == nil {
		return false, func() {}, nil
	}
	ctx := c.Request().Context()
	added, addErr := h.deduper.Add(ctx, userID, key)
	if addErr != nil {
		h.log.WithError(addErr).Warn("idempotency check failed, accepting request")
		return false, func() {}, nil
	}
	if !added {
		return true, nil, c.NoContent(http.StatusOK)
	}
	return false, func() {
		if remErr := h.deduper.Remove(ctx, userID, key); remErr != nil {
			h.log.WithError(remErr).Warn("release idempotency key")
		}
	}, nil
}

type createBoardRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

func (h *handlers) createBoard(c echo.Context) error {
	actor, err := h.auth.MemberFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	var req createBoardRequest
	if err := decode(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	if req.Title == "" {
		return c.String(http.StatusBadRequest, "title required")
	}
	done, release, err := h.dedupe(c, actor.ID)
	if done || err != nil {
		return err
	}
	board, err := h.store.CreateBoard(actor, req.Title, req.Description)
	if err != nil {
		release()
		return respondErr(c, err)
	}
	return c.JSON(http.StatusCreated, board)
}

func (h *handlers) boardFull(c echo.Context) (err error) {
	ctx := c.Request().Context()
	metrics, spanCtx := newBoardRequestMetrics(ctx, h.log)
	c.SetRequest(c.Request().WithContext(spanCtx))
	defer func() {
		metrics.Log(c.Response().Status, err)
	}()

	authStart := time.Now()
	userID, authErr := h.userID(c)
	metrics.ObserveAuth(time.Since(authStart))
	if authErr != nil {
		metrics.SetErrorStage("auth")
		err = c.String(http.StatusUnauthorized, authErr.Error())
		return err
	}

	fetchStart := time.Now()
	snap, fetchErr := h.store.Snapshot(c.Param("id"), userID)
	metrics.ObserveFetch(time.Since(fetchStart))
	if fetchErr != nil {
		metrics.SetErrorStage("storage")
		err = respondErr(c, fetchErr)
		return err
	}
	metrics.SetReturned(len(snap.Columns), len(snap.Cards))

	encodeStart := time.Now()
	err = c.JSON(http.StatusOK, snap)
	metrics.ObserveEncode(time.Since(encodeStart))
	if err != nil {
		metrics.SetErrorStage("encode_response")
	}
	return err
}

func (h *handlers) boardStream(c echo.Context) error {
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	if token := c.QueryParam("token"); authHeader == "" && token != "" {
		authHeader = "Bearer " + token
	}
	userID, err := h.auth.UserIDFromAuthHeader(authHeader)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	boardID := c.Param("id")
	if _, err := h.store.Snapshot(boardID, userID); err != nil {
		return respondErr(c, err)
	}

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}
	c.Response().WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, unsubscribe := h.pub.Subscribe(boardID)
	defer unsubscribe()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeat.C:
			if _, err := c.Response().Write([]byte(": heartbeat\n\n")); err != nil {
				return nil
			}
			flusher.Flush()
		case payload := <-ch:
			if _, err := c.Response().Write([]byte("data: ")); err != nil {
				return nil
			}
			if _, err := c.Response().Write(payload); err != nil {
				return nil
			}
			if _, err := c.Response().Write([]byte("\n\n")); err != nil {
				return nil
			}
			flusher.Flush()
		}
	}
}

type titleRequest struct {
	Title string `json:"title"`
}

func (h *handlers) updateBoardTitle(c echo.Context) error {
	userID, err := h.userID(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	var req titleRequest
	if err := decode(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	if req.Title == "" {
		return c.String(http.StatusBadRequest, "title required")
	}
	events, err := h.store.UpdateBoardTitle(c.Param("id"), userID, req.Title)
	if err != nil {
		return respondErr(c, err)
	}
	h.pub.PublishAll(c.Request().Context(), events)
	return c.NoContent(http.StatusOK)
}

func (h *handlers) deleteBoard(c echo.Context) error {
	userID, err := h.userID(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	if err := h.store.DeleteBoard(c.Param("id"), userID); err != nil {
		return respondErr(c, err)
	}
	return c.NoContent(http.StatusOK)
}

func (h *handlers) leaveBoard(c echo.Context) error {
	userID, err := h.userID(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	events, err := h.store.LeaveBoard(c.Param("id"), userID)
	if err != nil {
		return respondErr(c, err)
	}
	h.pub.PublishAll(c.Request().Context(), events)
	return c.NoContent(http.StatusOK)
}

type inviteRequest struct {
	Email string `json:"email"`
}

func (h *handlers) inviteMember(c echo.Context) error {
	userID, err := h.userID(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	var req inviteRequest
	if err := decode(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	if req.Email == "" {
		return c.String(http.StatusBadRequest, "email required")
	}
	events, err := h.store.InviteMember(c.Param("id"), userID, req.Email)
	if err != nil {
		return respondErr(c, err)
	}
	h.pub.PublishAll(c.Request().Context(), events)
	return c.NoContent(http.StatusOK)
}

type removeMemberRequest struct {
	UserID string `json:"userId"`
}

func (h *handlers) removeMember(c echo.Context) error {
	userID, err := h.userID(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	var req removeMemberRequest
	if err := decode(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	events, err := h.store.RemoveMember(c.Param("id"), userID, req.UserID)
	if err != nil {
		return respondErr(c, err)
	}
	h.pub.PublishAll(c.Request().Context(), events)
	return c.NoContent(http.StatusOK)
}

type createColumnRequest struct {
	BoardID string `json:"boardId"`
	Title   string `json:"title"`
}

func (h *handlers) createColumn(c echo.Context) error {
	userID, err := h.userID(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	var req createColumnRequest
	if err := decode(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	if req.Title == "" {
		return c.String(http.StatusBadRequest, "title required")
	}
	done, release, err := h.dedupe(c, userID)
	if done || err != nil {
		return err
	}
	col, events, err := h.store.CreateColumn(req.BoardID, userID, req.Title)
	if err != nil {
		release()
		return respondErr(c, err)
	}
	h.pub.PublishAll(c.Request().Context(), events)
	return c.JSON(http.StatusCreated, col)
}

func (h *handlers) updateColumnTitle(c echo.Context) error {
	userID, err := h.userID(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	var req titleRequest
	if err := decode(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	if req.Title == "" {
		return c.String(http.StatusBadRequest, "title required")
	}
	events, err := h.store.UpdateColumnTitle(c.Param("id"), userID, req.Title)
	if err != nil {
		return respondErr(c, err)
	}
	h.pub.PublishAll(c.Request().Context(), events)
	return c.NoContent(http.StatusOK)
}

func (h *handlers) deleteColumn(c echo.Context) error {
	userID, err := h.userID(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	events, err := h.store.DeleteColumn(c.Param("id"), userID)
	if err != nil {
		return respondErr(c, err)
	}
	h.pub.PublishAll(c.Request().Context(), events)
	return c.NoContent(http.StatusOK)
}

type reorderColumnsRequest struct {
	BoardID          string   `json:"boardId"`
	OrderedColumnIDs []string `json:"orderedColumnIds"`
}

func (h *handlers) reorderColumns(c echo.Context) error {
	userID, err := h.userID(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	var req reorderColumnsRequest
	if err := decode(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	events, err := h.store.ReorderColumns(req.BoardID, userID, req.OrderedColumnIDs)
	if err != nil {
		return respondErr(c, err)
	}
	h.pub.PublishAll(c.Request().Context(), events)
	return c.NoContent(http.StatusOK)
}

type createCardRequest struct {
	ColumnID string `json:"columnId"`
	Title    string `json:"title"`
}

func (h *handlers) createCard(c echo.Context) error {
	userID, err := h.userID(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	var req createCardRequest
	if err := decode(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	if req.Title == "" {
		return c.String(http.StatusBadRequest, "title required")
	}
	done, release, err := h.dedupe(c, userID)
	if done || err != nil {
		return err
	}
	card, events, err := h.store.CreateCard(req.ColumnID, userID, req.Title)
	if err != nil {
		release()
		return respondErr(c, err)
	}
	h.pub.PublishAll(c.Request().Context(), events)
	return c.JSON(http.StatusCreated, card)
}

func (h *handlers) updateCard(c echo.Context) error {
	userID, err := h.userID(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	var patch domain.CardPatch
	if err := decode(c, &patch); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	events, err := h.store.UpdateCard(c.Param("id"), userID, patch)
	if err != nil {
		return respondErr(c, err)
	}
	h.pub.PublishAll(c.Request().Context(), events)
	return c.NoContent(http.StatusOK)
}

type moveCardRequest struct {
	ToColumn string `json:"toColumn"`
	NewOrder int    `json:"newOrder"`
}

func (h *handlers) moveCard(c echo.Context) error {
	userID, err := h.userID(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	var req moveCardRequest
	if err := decode(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	events, err := h.store.MoveCard(c.Param("id"), userID, req.ToColumn, req.NewOrder)
	if err != nil {
		return respondErr(c, err)
	}
	h.pub.PublishAll(c.Request().Context(), events)
	return c.NoContent(http.StatusOK)
}

type reorderCardsRequest struct {
	ColumnID       string   `json:"columnId"`
	OrderedCardIDs []string `json:"orderedCardIds"`
}

func (h *handlers) reorderCards(c echo.Context) error {
	userID, err := h.userID(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	var req reorderCardsRequest
	if err := decode(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	events, err := h.store.ReorderCards(req.ColumnID, userID, req.OrderedCardIDs)
	if err != nil {
		return respondErr(c, err)
	}
	h.pub.PublishAll(c.Request().Context(), events)
	return c.NoContent(http.StatusOK)
}

func (h *handlers) deleteCard(c echo.Context) error {
	userID, err := h.userID(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	events, err := h.store.DeleteCard(c.Param("id"), userID)
	if err != nil {
		return respondErr(c, err)
	}
	h.pub.PublishAll(c.Request().Context(), events)
	return c.NoContent(http.StatusOK)
}

type cardMemberRequest struct {
	UserID string `json:"userId"`
}

func (h *handlers) addCardMember(c echo.Context) error {
	userID, err := h.userID(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	var req cardMemberRequest
	if err := decode(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	events, err := h.store.AddCardMember(c.Param("id"), userID, req.UserID)
	if err != nil {
		return respondErr(c, err)
	}
	h.pub.PublishAll(c.Request().Context(), events)
	return c.NoContent(http.StatusOK)
}

func (h *handlers) removeCardMember(c echo.Context) error {
	userID, err := h.userID(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	events, err := h.store.RemoveCardMember(c.Param("id"), userID, c.Param("userId"))
	if err != nil {
		return respondErr(c, err)
	}
	h.pub.PublishAll(c.Request().Context(), events)
	return c.NoContent(http.StatusOK)
}
