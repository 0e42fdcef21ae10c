// Package post は投稿のライフサイクル・一覧検索・アイキャッチ画像設定のドメインロジックを提供する。
package post

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/blogman/internal/model"
	"github.com/hitoshi/blogman/internal/repository"
	"github.com/hitoshi/blogman/internal/security"
)

// 入力値の上限
const (
	MaxTitleLength = 200

	DefaultPageSize = 10
	MaxPageSize     = 100
)

// MetricsRecorder は投稿操作のメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordPostCreated()
	RecordPostDeleted()
	RecordImageAttached()
}

// CreateInput は投稿作成の入力値。
type CreateInput struct {
	Title      string
	Content    string
	CategoryID string
}

// PatchInput は投稿更新の入力値。nilのフィールドは変更しない。
type PatchInput struct {
	Title      *string
	Content    *string
	CategoryID *string
}

// ListQuery は投稿一覧の検索条件。
// Page/PageSizeが0の場合はデフォルト値を使用する。
type ListQuery struct {
	Page       int
	PageSize   int
	CategoryID string
	Search     string
}

// ListResult は投稿一覧の1ページ分の結果。
// Totalはページングに関係なく条件に一致する全件数。
type ListResult struct {
	Posts      []model.PostView
	Total      int
	Page       int
	PageSize   int
	TotalPages int
}

// Options はページングの設定値。
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

// Service は投稿のサービス層。
type Service struct {
	postRepo     repository.PostRepository
	categoryRepo repository.CategoryRepository
	sanitizer    security.ContentSanitizerService
	metrics      MetricsRecorder
	opts         Options
	now          func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// metricsはnilでもよい。
func NewService(
	postRepo repository.PostRepository,
	categoryRepo repository.CategoryRepository,
	sanitizer security.ContentSanitizerService,
	metrics MetricsRecorder,
	opts Options,
) *Service {
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = DefaultPageSize
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = MaxPageSize
	}
	if opts.DefaultPageSize > opts.MaxPageSize {
		opts.DefaultPageSize = opts.MaxPageSize
	}
	return &Service{
		postRepo:     postRepo,
		categoryRepo: categoryRepo,
		sanitizer:    sanitizer,
		metrics:      metrics,
		opts:         opts,
		now:          time.Now,
	}
}

// CreatePost は投稿を作成し、カテゴリの所属投稿リストに追加する。
// actingUserIDが空の場合は匿名投稿として扱う。
func (s *Service) CreatePost(ctx context.Context, actingUserID string, in CreateInput) (*model.PostView, error) {
	title := s.sanitizer.SanitizeText(in.Title)
	content := s.sanitizer.Sanitize(in.Content)

	var fields []model.FieldError
	fields = appendTitleErrors(fields, title)
	if content == "" {
		fields = append(fields, model.FieldError{Field: "content", Reason: "本文を入力してください"})
	}
	if !model.IsValidID(in.CategoryID) {
		fields = append(fields, model.FieldError{Field: "category_id", Reason: "カテゴリIDの形式が不正です"})
	}
	if actingUserID != "" && !model.IsValidID(actingUserID) {
		fields = append(fields, model.FieldError{Field: "author_id", Reason: "ユーザーIDの形式が不正です"})
	}
	if len(fields) > 0 {
		return nil, model.NewValidationError(fields...)
	}

	category, err := s.categoryRepo.FindByID(ctx, in.CategoryID)
	if err != nil {
		return nil, fmt.Errorf("カテゴリの取得に失敗しました: %w", err)
	}
	if category == nil {
		return nil, model.NewCategoryNotFoundError(in.CategoryID)
	}

	now := s.now().UTC()
	post := &model.Post{
		ID:         model.NewID(),
		Title:      title,
		Content:    content,
		CategoryID: category.ID,
		AuthorID:   actingUserID,
		Comments:   []model.Comment{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.postRepo.CreateLinked(ctx, post); err != nil {
		return nil, fmt.Errorf("投稿の作成に失敗しました: %w", err)
	}

	slog.Info("投稿を作成しました",
		slog.String("post_id", post.ID),
		slog.String("category_id", post.CategoryID),
		slog.String("author_id", post.AuthorID),
	)
	if s.metrics != nil {
		s.metrics.RecordPostCreated()
	}

	return s.loadView(ctx, post.ID)
}

// GetPost は投稿をカテゴリ名・投稿者名付きで取得する。
func (s *Service) GetPost(ctx context.Context, postID string) (*model.PostView, error) {
	if !model.IsValidID(postID) {
		return nil, invalidIDError("id")
	}
	return s.loadView(ctx, postID)
}

// UpdatePost は投稿を部分更新する。
// カテゴリが変わる場合は旧カテゴリの所属から外し、新カテゴリに追加する。
func (s *Service) UpdatePost(ctx context.Context, postID string, in PatchInput) (*model.PostView, error) {
	var fields []model.FieldError
	if !model.IsValidID(postID) {
		fields = append(fields, model.FieldError{Field: "id", Reason: "投稿IDの形式が不正です"})
	}
	if in.Title == nil && in.Content == nil && in.CategoryID == nil {
		fields = append(fields, model.FieldError{Field: "body", Reason: "更新する項目を指定してください"})
	}

	patch := model.PostPatch{}
	if in.Title != nil {
		title := s.sanitizer.SanitizeText(*in.Title)
		fields = appendTitleErrors(fields, title)
		patch.Title = &title
	}
	if in.Content != nil {
		content := s.sanitizer.Sanitize(*in.Content)
		if content == "" {
			fields = append(fields, model.FieldError{Field: "content", Reason: "本文を入力してください"})
		}
		patch.Content = &content
	}
	if in.CategoryID != nil {
		if !model.IsValidID(*in.CategoryID) {
			fields = append(fields, model.FieldError{Field: "category_id", Reason: "カテゴリIDの形式が不正です"})
		}
		categoryID := *in.CategoryID
		patch.CategoryID = &categoryID
	}
	if len(fields) > 0 {
		return nil, model.NewValidationError(fields...)
	}

	if patch.CategoryID != nil {
		category, err := s.categoryRepo.FindByID(ctx, *patch.CategoryID)
		if err != nil {
			return nil, fmt.Errorf("カテゴリの取得に失敗しました: %w", err)
		}
		if category == nil {
			return nil, model.NewCategoryNotFoundError(*patch.CategoryID)
		}
	}

	patch.UpdatedAt = s.now().UTC()
	updated, err := s.postRepo.UpdateLinked(ctx, postID, patch)
	if err != nil {
		return nil, fmt.Errorf("投稿の更新に失敗しました: %w", err)
	}
	if updated == nil {
		return nil, model.NewPostNotFoundError(postID)
	}

	slog.Info("投稿を更新しました",
		slog.String("post_id", postID),
		slog.String("category_id", updated.CategoryID),
	)

	return s.loadView(ctx, postID)
}

// DeletePost は投稿を削除し、カテゴリの所属投稿リストから外す。
// コメントは投稿と一緒に削除される。
func (s *Service) DeletePost(ctx context.Context, postID string) error {
	if !model.IsValidID(postID) {
		return invalidIDError("id")
	}

	deleted, err := s.postRepo.DeleteLinked(ctx, postID)
	if err != nil {
		return fmt.Errorf("投稿の削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewPostNotFoundError(postID)
	}

	slog.Info("投稿を削除しました", slog.String("post_id", postID))
	if s.metrics != nil {
		s.metrics.RecordPostDeleted()
	}
	return nil
}

// ListPosts は条件に一致する投稿を新しい順に1ページ分返す。
// 最終ページを超えたページを指定した場合は空の一覧と全件数を返す。
func (s *Service) ListPosts(ctx context.Context, q ListQuery) (*ListResult, error) {
	var fields []model.FieldError
	if q.Page < 0 {
		fields = append(fields, model.FieldError{Field: "page", Reason: "1以上の値を指定してください"})
	}
	if q.PageSize < 0 {
		fields = append(fields, model.FieldError{Field: "limit", Reason: "1以上の値を指定してください"})
	}
	categoryID := strings.TrimSpace(q.CategoryID)
	if categoryID != "" && !model.IsValidID(categoryID) {
		fields = append(fields, model.FieldError{Field: "category", Reason: "カテゴリIDの形式が不正です"})
	}
	if len(fields) > 0 {
		return nil, model.NewValidationError(fields...)
	}

	page := q.Page
	if page == 0 {
		page = 1
	}
	pageSize := q.PageSize
	if pageSize == 0 {
		pageSize = s.opts.DefaultPageSize
	}
	if pageSize > s.opts.MaxPageSize {
		pageSize = s.opts.MaxPageSize
	}

	// 検索語は空白のみかどうかの判定にだけトリムし、部分一致には入力をそのまま使う
	search := q.Search
	if strings.TrimSpace(search) == "" {
		search = ""
	}

	filter := model.PostFilter{
		CategoryID: categoryID,
		Search:     search,
		Limit:      pageSize,
	}

	total, err := s.postRepo.Count(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("投稿件数の取得に失敗しました: %w", err)
	}

	posts := []model.PostView{}
	// 最終ページとの比較を先に行い、巨大なpageでもオフセットがオーバーフローしないようにする
	if total > 0 && page-1 <= (total-1)/pageSize {
		filter.Offset = (page - 1) * pageSize
		posts, err = s.postRepo.List(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("投稿一覧の取得に失敗しました: %w", err)
		}
	}

	return &ListResult{
		Posts:      posts,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: (total + pageSize - 1) / pageSize,
	}, nil
}

// AttachImage は保存済み画像の保存先を投稿のアイキャッチ画像として設定する。
// 保存先の一意性は検証しない。
func (s *Service) AttachImage(ctx context.Context, postID, storedLocation string) (*model.PostView, error) {
	var fields []model.FieldError
	if !model.IsValidID(postID) {
		fields = append(fields, model.FieldError{Field: "id", Reason: "投稿IDの形式が不正です"})
	}
	if strings.TrimSpace(storedLocation) == "" {
		fields = append(fields, model.FieldError{Field: "image", Reason: "画像の保存先が空です"})
	}
	if len(fields) > 0 {
		return nil, model.NewValidationError(fields...)
	}

	found, err := s.postRepo.SetFeaturedImage(ctx, postID, storedLocation, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("アイキャッチ画像の設定に失敗しました: %w", err)
	}
	if !found {
		return nil, model.NewPostNotFoundError(postID)
	}

	slog.Info("アイキャッチ画像を設定しました",
		slog.String("post_id", postID),
		slog.String("location", storedLocation),
	)
	if s.metrics != nil {
		s.metrics.RecordImageAttached()
	}

	return s.loadView(ctx, postID)
}

// PostExists は投稿が存在するかどうかを返す。画像アップロード前の確認に使用する。
func (s *Service) PostExists(ctx context.Context, postID string) (bool, error) {
	if !model.IsValidID(postID) {
		return false, invalidIDError("id")
	}
	post, err := s.postRepo.FindByID(ctx, postID)
	if err != nil {
		return false, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	return post != nil, nil
}

// loadView は表示用の投稿を取得する。存在しない場合はPOST_NOT_FOUNDを返す。
func (s *Service) loadView(ctx context.Context, postID string) (*model.PostView, error) {
	view, err := s.postRepo.FindViewByID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	if view == nil {
		return nil, model.NewPostNotFoundError(postID)
	}
	return view, nil
}

func appendTitleErrors(fields []model.FieldError, title string) []model.FieldError {
	switch {
	case title == "":
		return append(fields, model.FieldError{Field: "title", Reason: "タイトルを入力してください"})
	case utf8.RuneCountInString(title) > MaxTitleLength:
		return append(fields, model.FieldError{Field: "title", Reason: fmt.Sprintf("%d文字以内で入力してください", MaxTitleLength)})
	}
	return fields
}

func invalidIDError(field string) *model.APIError {
	return model.NewValidationError(model.FieldError{Field: field, Reason: "IDの形式が不正です"})
}
