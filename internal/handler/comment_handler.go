package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/blogman/internal/middleware"
	"github.com/hitoshi/blogman/internal/model"
)

// CommentServiceInterface はコメントハンドラーが必要とするサービスインターフェース。
type CommentServiceInterface interface {
	ListComments(ctx context.Context, postID string) ([]model.CommentView, error)
	AddComment(ctx context.Context, postID, actingUserID, text string) (*model.CommentView, error)
}

// CommentHandler はコメントのHTTPハンドラー。
type CommentHandler struct {
	service CommentServiceInterface
}

// NewCommentHandler はCommentHandlerを生成する。
func NewCommentHandler(service CommentServiceInterface) *CommentHandler {
	return &CommentHandler{service: service}
}

type addCommentRequest struct {
	Text string `json:"text"`
}

// commentResponse はコメントのAPIレスポンス。
// 退会済みユーザーのコメントはusernameが空文字列になる。
type commentResponse struct {
	ID        string          `json:"id"`
	User      userRefResponse `json:"user"`
	Text      string          `json:"text"`
	CreatedAt time.Time       `json:"created_at"`
}

// ListComments は投稿のコメントを追加順に返す。
// GET /api/posts/{id}/comments
func (h *CommentHandler) ListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := h.service.ListComments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]commentResponse, 0, len(comments))
	for i := range comments {
		resp = append(resp, toCommentResponse(&comments[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// AddComment は投稿にコメントを追加する。
// POST /api/posts/{id}/comments
func (h *CommentHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		handleServiceError(w, model.NewUnauthorizedError())
		return
	}

	var req addCommentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	comment, err := h.service.AddComment(r.Context(), chi.URLParam(r, "id"), userID, req.Text)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toCommentResponse(comment))
}

func toCommentResponse(c *model.CommentView) commentResponse {
	return commentResponse{
		ID:        c.ID,
		User:      userRefResponse{ID: c.User.ID, Username: c.User.Username},
		Text:      c.Text,
		CreatedAt: c.CreatedAt,
	}
}
