// Package comment は投稿に埋め込まれたコメントの一覧取得と追加を提供する。
package comment

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/blogman/internal/model"
	"github.com/hitoshi/blogman/internal/repository"
	"github.com/hitoshi/blogman/internal/security"
)

// MaxTextLength はコメント本文の最大文字数。
const MaxTextLength = 2000

// MetricsRecorder はコメント追加のメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordCommentAdded()
}

// Service はコメントのサービス層。
type Service struct {
	postRepo  repository.PostRepository
	userRepo  repository.UserRepository
	sanitizer security.ContentSanitizerService
	metrics   MetricsRecorder
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	postRepo repository.PostRepository,
	userRepo repository.UserRepository,
	sanitizer security.ContentSanitizerService,
	metrics MetricsRecorder,
) *Service {
	return &Service{
		postRepo:  postRepo,
		userRepo:  userRepo,
		sanitizer: sanitizer,
		metrics:   metrics,
		now:       time.Now,
	}
}

// ListComments は投稿のコメントを追加順に返す。
// 退会済みユーザーのコメントはユーザー名が空文字列になる。
func (s *Service) ListComments(ctx context.Context, postID string) ([]model.CommentView, error) {
	if !model.IsValidID(postID) {
		return nil, model.NewValidationError(model.FieldError{Field: "id", Reason: "投稿IDの形式が不正です"})
	}

	post, err := s.postRepo.FindByID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	if post == nil {
		return nil, model.NewPostNotFoundError(postID)
	}

	seen := make(map[string]bool)
	var userIDs []string
	for _, c := range post.Comments {
		if c.UserID != "" && !seen[c.UserID] {
			seen[c.UserID] = true
			userIDs = append(userIDs, c.UserID)
		}
	}

	names := map[string]string{}
	if len(userIDs) > 0 {
		names, err = s.userRepo.FindUsernames(ctx, userIDs)
		if err != nil {
			return nil, fmt.Errorf("コメント投稿者の取得に失敗しました: %w", err)
		}
	}

	views := make([]model.CommentView, len(post.Comments))
	for i, c := range post.Comments {
		views[i] = model.CommentView{
			ID:        c.ID,
			User:      model.UserRef{ID: c.UserID, Username: names[c.UserID]},
			Text:      c.Text,
			CreatedAt: c.CreatedAt,
		}
	}
	return views, nil
}

// AddComment はコメントを投稿の末尾に追加する。
// 追加は1文のUPDATEで行うため、同一投稿への並行した追加も全て保持される。
func (s *Service) AddComment(ctx context.Context, postID, actingUserID, text string) (*model.CommentView, error) {
	sanitized := s.sanitizer.SanitizeText(text)

	var fields []model.FieldError
	if !model.IsValidID(postID) {
		fields = append(fields, model.FieldError{Field: "id", Reason: "投稿IDの形式が不正です"})
	}
	if !model.IsValidID(actingUserID) {
		fields = append(fields, model.FieldError{Field: "user_id", Reason: "ユーザーIDの形式が不正です"})
	}
	switch {
	case sanitized == "":
		fields = append(fields, model.FieldError{Field: "text", Reason: "コメントを入力してください"})
	case utf8.RuneCountInString(sanitized) > MaxTextLength:
		fields = append(fields, model.FieldError{Field: "text", Reason: fmt.Sprintf("%d文字以内で入力してください", MaxTextLength)})
	}
	if len(fields) > 0 {
		return nil, model.NewValidationError(fields...)
	}

	user, err := s.userRepo.FindByID(ctx, actingUserID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	c := model.Comment{
		ID:        model.NewID(),
		UserID:    user.ID,
		Text:      sanitized,
		CreatedAt: s.now().UTC(),
	}

	appended, err := s.postRepo.AppendComment(ctx, postID, c)
	if err != nil {
		return nil, fmt.Errorf("コメントの追加に失敗しました: %w", err)
	}
	if !appended {
		return nil, model.NewPostNotFoundError(postID)
	}

	slog.Info("コメントを追加しました",
		slog.String("post_id", postID),
		slog.String("comment_id", c.ID),
		slog.String("user_id", user.ID),
	)
	if s.metrics != nil {
		s.metrics.RecordCommentAdded()
	}

	return &model.CommentView{
		ID:        c.ID,
		User:      model.UserRef{ID: user.ID, Username: user.Username},
		Text:      c.Text,
		CreatedAt: c.CreatedAt,
	}, nil
}
