package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/blogman/internal/auth"
	"github.com/hitoshi/blogman/internal/middleware"
	"github.com/hitoshi/blogman/internal/model"
	"github.com/hitoshi/blogman/internal/post"
)

// --- モック定義 ---

type mockAuthService struct {
	registerFn func(ctx context.Context, in auth.RegisterInput) (*model.User, error)
	loginFn    func(ctx context.Context, email, password string) (*auth.LoginResult, error)
	meFn       func(ctx context.Context, userID string) (*model.User, error)
}

func (m *mockAuthService) Register(ctx context.Context, in auth.RegisterInput) (*model.User, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, in)
	}
	return nil, nil
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*auth.LoginResult, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return nil, nil
}

func (m *mockAuthService) Me(ctx context.Context, userID string) (*model.User, error) {
	if m.meFn != nil {
		return m.meFn(ctx, userID)
	}
	return nil, nil
}

type mockCategoryService struct {
	createFn func(ctx context.Context, name string) (*model.Category, error)
	listFn   func(ctx context.Context) ([]*model.Category, error)
	getFn    func(ctx context.Context, id string) (*model.Category, error)
	renameFn func(ctx context.Context, id, name string) (*model.Category, error)
	deleteFn func(ctx context.Context, id string) error
}

func (m *mockCategoryService) CreateCategory(ctx context.Context, name string) (*model.Category, error) {
	if m.createFn != nil {
		return m.createFn(ctx, name)
	}
	return nil, nil
}

func (m *mockCategoryService) ListCategories(ctx context.Context) ([]*model.Category, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

func (m *mockCategoryService) GetCategory(ctx context.Context, id string) (*model.Category, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, nil
}

func (m *mockCategoryService) RenameCategory(ctx context.Context, id, name string) (*model.Category, error) {
	if m.renameFn != nil {
		return m.renameFn(ctx, id, name)
	}
	return nil, nil
}

func (m *mockCategoryService) DeleteCategory(ctx context.Context, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

type mockPostService struct {
	createFn      func(ctx context.Context, actingUserID string, in post.CreateInput) (*model.PostView, error)
	getFn         func(ctx context.Context, postID string) (*model.PostView, error)
	updateFn      func(ctx context.Context, postID string, in post.PatchInput) (*model.PostView, error)
	deleteFn      func(ctx context.Context, postID string) error
	listFn        func(ctx context.Context, q post.ListQuery) (*post.ListResult, error)
	attachImageFn func(ctx context.Context, postID, storedLocation string) (*model.PostView, error)
	existsFn      func(ctx context.Context, postID string) (bool, error)
}

func (m *mockPostService) CreatePost(ctx context.Context, actingUserID string, in post.CreateInput) (*model.PostView, error) {
	if m.createFn != nil {
		return m.createFn(ctx, actingUserID, in)
	}
	return nil, nil
}

func (m *mockPostService) GetPost(ctx context.Context, postID string) (*model.PostView, error) {
	if m.getFn != nil {
		return m.getFn(ctx, postID)
	}
	return nil, nil
}

func (m *mockPostService) UpdatePost(ctx context.Context, postID string, in post.PatchInput) (*model.PostView, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, postID, in)
	}
	return nil, nil
}

func (m *mockPostService) DeletePost(ctx context.Context, postID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, postID)
	}
	return nil
}

func (m *mockPostService) ListPosts(ctx context.Context, q post.ListQuery) (*post.ListResult, error) {
	if m.listFn != nil {
		return m.listFn(ctx, q)
	}
	return &post.ListResult{Posts: []model.PostView{}}, nil
}

func (m *mockPostService) AttachImage(ctx context.Context, postID, storedLocation string) (*model.PostView, error) {
	if m.attachImageFn != nil {
		return m.attachImageFn(ctx, postID, storedLocation)
	}
	return nil, nil
}

func (m *mockPostService) PostExists(ctx context.Context, postID string) (bool, error) {
	if m.existsFn != nil {
		return m.existsFn(ctx, postID)
	}
	return true, nil
}

type mockCommentService struct {
	listFn func(ctx context.Context, postID string) ([]model.CommentView, error)
	addFn  func(ctx context.Context, postID, actingUserID, text string) (*model.CommentView, error)
}

func (m *mockCommentService) ListComments(ctx context.Context, postID string) ([]model.CommentView, error) {
	if m.listFn != nil {
		return m.listFn(ctx, postID)
	}
	return nil, nil
}

func (m *mockCommentService) AddComment(ctx context.Context, postID, actingUserID, text string) (*model.CommentView, error) {
	if m.addFn != nil {
		return m.addFn(ctx, postID, actingUserID, text)
	}
	return nil, nil
}

type mockImageStore struct {
	maxSize  int64
	saveFn   func(r io.Reader, originalName string) (string, error)
	removed  []string
	saveCall int
}

func (m *mockImageStore) Save(r io.Reader, originalName string) (string, error) {
	m.saveCall++
	if m.saveFn != nil {
		return m.saveFn(r, originalName)
	}
	return "/uploads/1-" + originalName, nil
}

func (m *mockImageStore) Remove(location string) error {
	m.removed = append(m.removed, location)
	return nil
}

func (m *mockImageStore) MaxSize() int64 {
	if m.maxSize == 0 {
		return 1 << 20
	}
	return m.maxSize
}

// --- テストヘルパー ---

// withUserID はテスト用にリクエストコンテキストにユーザーIDを注入するヘルパー。
func withUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディから統一エラーレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var result middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

// decodeBody はレスポンスボディをvにデコードするヘルパー。
func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v\nraw: %s", err, w.Body.String())
	}
}
