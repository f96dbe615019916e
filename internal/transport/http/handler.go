package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"quiz-engine/internal/app"
	"quiz-engine/internal/domain"
)

// QuizService is the inbound API the transport drives.
type QuizService interface {
	CreateSession(ctx context.Context, quizID, creator string, opts app.CreateOptions) (domain.SessionView, error)
	JoinSession(ctx context.Context, sessionID, participantID, displayName string) (domain.SessionView, error)
	SubmitAnswer(ctx context.Context, sessionID, participantID, questionID, optionID string) (domain.AnswerReceipt, error)
	StartSession(ctx context.Context, sessionID, requester string) error
	CancelSession(ctx context.Context, sessionID, requester string) error
	Session(ctx context.Context, sessionID string) (domain.SessionView, error)
	Leaderboard(ctx context.Context, sessionID string) (domain.Leaderboard, error)
	RemoveSession(ctx context.Context, sessionID string) error
}

// StatsReader serves persisted per-user statistics.
type StatsReader interface {
	UserStats(ctx context.Context, userID string) (domain.UserStats, error)
}

// RankingReader serves accumulated quiz and global rankings.
type RankingReader interface {
	Top(ctx context.Context, quizID string, n int64) ([]domain.RankingEntry, error)
}

// LiveSessionReader lists the sessions currently tracked as live.
type LiveSessionReader interface {
	Live(ctx context.Context) ([]string, error)
}

// Readers are the optional read models behind the stats routes. A nil reader
// makes its route answer 501.
type Readers struct {
	Stats    StatsReader
	Rankings RankingReader
	Live     LiveSessionReader
}

type Handler struct {
	service  QuizService
	hub      *EventHub
	readers  Readers
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewHandler(service QuizService, hub *EventHub, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service: service,
		hub:     hub,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// WithReaders attaches the stats read models.
func (h *Handler) WithReaders(readers Readers) *Handler {
	h.readers = readers
	return h
}

// Router builds the gin engine serving the REST API and the WebSocket endpoint.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.requestLogger())
	r.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type"},
	}))

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/ws/sessions/:id", h.ServeWS)

	sessions := r.Group("/sessions")
	{
		sessions.POST("", h.createSession)
		sessions.GET("/:id", h.getSession)
		sessions.DELETE("/:id", h.removeSession)
		sessions.POST("/:id/join", h.joinSession)
		sessions.POST("/:id/start", h.startSession)
		sessions.POST("/:id/cancel", h.cancelSession)
		sessions.POST("/:id/answers", h.submitAnswer)
		sessions.GET("/:id/leaderboard", h.leaderboard)
	}

	r.GET("/users/:id/stats", h.userStats)
	r.GET("/rankings", h.rankings)
	r.GET("/live-sessions", h.liveSessions)
	return r
}

type createSessionRequest struct {
	QuizID           string `json:"quizId" binding:"required"`
	Creator          string `json:"creator" binding:"required"`
	QuestionCount    int    `json:"questionCount"`
	TimeLimitSeconds int    `json:"timeLimitSeconds"`
}

type joinRequest struct {
	ParticipantID string `json:"participantId" binding:"required"`
	DisplayName   string `json:"displayName"`
}

type creatorRequest struct {
	Requester string `json:"requester" binding:"required"`
}

type answerRequest struct {
	ParticipantID string `json:"participantId" binding:"required"`
	QuestionID    string `json:"questionId" binding:"required"`
	OptionID      string `json:"optionId" binding:"required"`
}

// ErrorResponse is the body of every rejected request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *Handler) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	view, err := h.service.CreateSession(c.Request.Context(), req.QuizID, req.Creator, app.CreateOptions{
		QuestionCount: req.QuestionCount,
		TimeLimit:     time.Duration(req.TimeLimitSeconds) * time.Second,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *Handler) getSession(c *gin.Context) {
	view, err := h.service.Session(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) removeSession(c *gin.Context) {
	if err := h.service.RemoveSession(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) joinSession(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	view, err := h.service.JoinSession(c.Request.Context(), c.Param("id"), req.ParticipantID, req.DisplayName)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) startSession(c *gin.Context) {
	var req creatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	if err := h.service.StartSession(c.Request.Context(), c.Param("id"), req.Requester); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *Handler) cancelSession(c *gin.Context) {
	var req creatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	if err := h.service.CancelSession(c.Request.Context(), c.Param("id"), req.Requester); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *Handler) submitAnswer(c *gin.Context) {
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}
	receipt, err := h.service.SubmitAnswer(c.Request.Context(), c.Param("id"), req.ParticipantID, req.QuestionID, req.OptionID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, receipt)
}

func (h *Handler) leaderboard(c *gin.Context) {
	lb, err := h.service.Leaderboard(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, lb)
}

const (
	defaultRankingLimit = 10
	maxRankingLimit     = 100
)

func (h *Handler) userStats(c *gin.Context) {
	if h.readers.Stats == nil {
		unavailable(c, "statistics")
		return
	}
	stats, err := h.readers.Stats.UserStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// rankings serves the quiz ranking named by ?quizId, or the global one.
func (h *Handler) rankings(c *gin.Context) {
	if h.readers.Rankings == nil {
		unavailable(c, "rankings")
		return
	}
	limit := defaultRankingLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxRankingLimit)
	}
	entries, err := h.readers.Rankings.Top(c.Request.Context(), c.Query("quizId"), int64(limit))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *Handler) liveSessions(c *gin.Context) {
	if h.readers.Live == nil {
		unavailable(c, "session tracking")
		return
	}
	ids, err := h.readers.Live.Live(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": ids})
}

func unavailable(c *gin.Context, what string) {
	c.JSON(http.StatusNotImplemented, ErrorResponse{Error: "unavailable", Message: what + " not configured"})
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, ErrorResponse{Error: domain.Reason(err), Message: err.Error()})
}

// StatusFor maps the error taxonomy onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrQuizNotFound), errors.Is(err, domain.ErrStatsNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotCreator):
		return http.StatusForbidden
	}
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindTiming, domain.KindState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID string `json:"questionId"`
	OptionID   string `json:"optionId"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

// ServeWS upgrades to a websocket, joins the participant if needed and streams
// session events while accepting answers.
func (h *Handler) ServeWS(c *gin.Context) {
	sessionID := c.Param("id")
	participantID := c.Query("participantId")
	displayName := c.Query("name")
	if participantID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "missing participantId"})
		return
	}

	ctx := c.Request.Context()
	view, err := h.service.Session(ctx, sessionID)
	if err != nil {
		h.fail(c, err)
		return
	}
	// the creator may observe and control without playing
	if participantID != view.Creator && !hasParticipant(view, participantID) {
		if view, err = h.service.JoinSession(ctx, sessionID, participantID, displayName); err != nil {
			h.fail(c, err)
			return
		}
	}

	// subscribe before upgrading so no event between join and upgrade is lost
	events, cancel := h.hub.Subscribe(sessionID)
	defer cancel()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	send := make(chan outboundMessage[any], subscriberBuffer)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	eventsDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("ws write error", "session", sessionID, "error", err)
				// unblocks the read loop
				_ = conn.Close()
				return
			}
		}
	}()

	go func() {
		defer close(eventsDone)
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				select {
				case send <- ev:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	reply := func(msg outboundMessage[any]) bool { return push(send, writerDone, msg) }

	open := reply(outboundMessage[any]{Type: "joined", Payload: view})
	for open {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		var msg outboundMessage[any]
		switch inbound.Type {
		case "answer":
			msg = h.answer(ctx, sessionID, participantID, inbound.Payload)
		case "start":
			if err := h.service.StartSession(ctx, sessionID, participantID); err != nil {
				msg = errorMessage(domain.Reason(err), err.Error())
			}
		default:
			msg = errorMessage("invalid_request", "unsupported message type")
		}
		if msg.Type != "" {
			open = reply(msg)
		}
	}

	close(closeSignals)
	<-eventsDone
	close(send)
	<-writerDone
}

func (h *Handler) answer(ctx context.Context, sessionID, participantID string, raw json.RawMessage) outboundMessage[any] {
	var payload answerPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return errorMessage("invalid_request", "invalid answer payload")
	}
	receipt, err := h.service.SubmitAnswer(ctx, sessionID, participantID, payload.QuestionID, payload.OptionID)
	if err != nil {
		return errorMessage(domain.Reason(err), err.Error())
	}
	return outboundMessage[any]{Type: "answer_accepted", Payload: receipt}
}

// push queues msg for the connection writer. It reports false once the writer
// has exited, so a full buffer never blocks the reader.
func push(send chan<- outboundMessage[any], writerDone <-chan struct{}, msg outboundMessage[any]) bool {
	select {
	case <-writerDone:
		return false
	default:
	}
	select {
	case send <- msg:
		return true
	case <-writerDone:
		return false
	}
}

func errorMessage(reason, message string) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: ErrorResponse{Error: reason, Message: message}}
}

func hasParticipant(view domain.SessionView, participantID string) bool {
	for _, p := range view.Participants {
		if p.ID == participantID {
			return true
		}
	}
	return false
}
