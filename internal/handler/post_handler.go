package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/blogman/internal/middleware"
	"github.com/hitoshi/blogman/internal/model"
	"github.com/hitoshi/blogman/internal/post"
)

// PostServiceInterface は投稿ハンドラーが必要とするサービスインターフェース。
type PostServiceInterface interface {
	CreatePost(ctx context.Context, actingUserID string, in post.CreateInput) (*model.PostView, error)
	GetPost(ctx context.Context, postID string) (*model.PostView, error)
	UpdatePost(ctx context.Context, postID string, in post.PatchInput) (*model.PostView, error)
	DeletePost(ctx context.Context, postID string) error
	ListPosts(ctx context.Context, q post.ListQuery) (*post.ListResult, error)
	AttachImage(ctx context.Context, postID, storedLocation string) (*model.PostView, error)
	PostExists(ctx context.Context, postID string) (bool, error)
}

// PostHandler は投稿管理のHTTPハンドラー。
type PostHandler struct {
	service PostServiceInterface
}

// NewPostHandler はPostHandlerを生成する。
func NewPostHandler(service PostServiceInterface) *PostHandler {
	return &PostHandler{service: service}
}

// createPostRequest は投稿作成リクエストのボディ。
type createPostRequest struct {
	Title      string `json:"title"`
	Content    string `json:"content"`
	CategoryID string `json:"category_id"`
}

// updatePostRequest は投稿更新リクエストのボディ。
// 省略したフィールドは変更しない。
type updatePostRequest struct {
	Title      *string `json:"title"`
	Content    *string `json:"content"`
	CategoryID *string `json:"category_id"`
}

type categoryRefResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// postResponse は投稿情報のAPIレスポンス。
type postResponse struct {
	ID            string              `json:"id"`
	Title         string              `json:"title"`
	Content       string              `json:"content"`
	Category      categoryRefResponse `json:"category"`
	Author        *userRefResponse    `json:"author"`
	FeaturedImage *string             `json:"featured_image"`
	CommentCount  int                 `json:"comment_count"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// postListResponse は投稿一覧のAPIレスポンス。
type postListResponse struct {
	Posts      []postResponse `json:"posts"`
	Total      int            `json:"total"`
	Page       int            `json:"page"`
	Limit      int            `json:"limit"`
	TotalPages int            `json:"total_pages"`
}

// ListPosts は投稿一覧を返す。
// GET /api/posts?page=&limit=&category=&search=
func (h *PostHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	page, pageErr := parseQueryInt(query.Get("page"))
	limit, limitErr := parseQueryInt(query.Get("limit"))
	var fields []model.FieldError
	if pageErr != nil {
		fields = append(fields, model.FieldError{Field: "page", Reason: "整数を指定してください"})
	}
	if limitErr != nil {
		fields = append(fields, model.FieldError{Field: "limit", Reason: "整数を指定してください"})
	}
	if len(fields) > 0 {
		handleServiceError(w, model.NewValidationError(fields...))
		return
	}

	result, err := h.service.ListPosts(r.Context(), post.ListQuery{
		Page:       page,
		PageSize:   limit,
		CategoryID: query.Get("category"),
		Search:     query.Get("search"),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	posts := make([]postResponse, 0, len(result.Posts))
	for i := range result.Posts {
		posts = append(posts, toPostResponse(&result.Posts[i]))
	}
	writeJSON(w, http.StatusOK, postListResponse{
		Posts:      posts,
		Total:      result.Total,
		Page:       result.Page,
		Limit:      result.PageSize,
		TotalPages: result.TotalPages,
	})
}

// CreatePost は投稿を作成する。
// POST /api/posts
func (h *PostHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	var req createPostRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	// 匿名投稿が許可されている場合はユーザーIDが無くてもよい
	userID, _ := middleware.UserIDFromContext(r.Context())

	view, err := h.service.CreatePost(r.Context(), userID, post.CreateInput{
		Title:      req.Title,
		Content:    req.Content,
		CategoryID: req.CategoryID,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toPostResponse(view))
}

// GetPost は投稿詳細を取得する。
// GET /api/posts/{id}
func (h *PostHandler) GetPost(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GetPost(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toPostResponse(view))
}

// UpdatePost は投稿を部分更新する。
// PUT /api/posts/{id}
func (h *PostHandler) UpdatePost(w http.ResponseWriter, r *http.Request) {
	var req updatePostRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, err)
		return
	}

	view, err := h.service.UpdatePost(r.Context(), chi.URLParam(r, "id"), post.PatchInput{
		Title:      req.Title,
		Content:    req.Content,
		CategoryID: req.CategoryID,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toPostResponse(view))
}

// DeletePost は投稿を削除する。
// DELETE /api/posts/{id}
func (h *PostHandler) DeletePost(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeletePost(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// parseQueryInt はクエリパラメータを整数に変換する。空文字列は0とする。
func parseQueryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

// toPostResponse はmodel.PostViewからAPIレスポンスに変換する。
func toPostResponse(v *model.PostView) postResponse {
	resp := postResponse{
		ID:      v.ID,
		Title:   v.Title,
		Content: v.Content,
		Category: categoryRefResponse{
			ID:   v.Category.ID,
			Name: v.Category.Name,
		},
		CommentCount: v.CommentCount,
		CreatedAt:    v.CreatedAt,
		UpdatedAt:    v.UpdatedAt,
	}
	if v.Author != nil {
		resp.Author = &userRefResponse{ID: v.Author.ID, Username: v.Author.Username}
	}
	if v.FeaturedImage != "" {
		image := v.FeaturedImage
		resp.FeaturedImage = &image
	}
	return resp
}
