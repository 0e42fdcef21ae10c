// Package category はカテゴリ管理のドメインロジックを提供する。
package category

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/blogman/internal/model"
	"github.com/hitoshi/blogman/internal/repository"
)

// MaxNameLength はカテゴリ名の最大文字数。
const MaxNameLength = 100

// Service はカテゴリのサービス層。
type Service struct {
	repo repository.CategoryRepository
	now  func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.CategoryRepository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// CreateCategory はカテゴリを作成する。作成直後の所属投稿リストは空。
func (s *Service) CreateCategory(ctx context.Context, name string) (*model.Category, error) {
	name, err := validateName(name)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	c := &model.Category{
		ID:        model.NewID(),
		Name:      name,
		PostIDs:   []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("カテゴリの作成に失敗しました: %w", err)
	}

	slog.Info("カテゴリを作成しました",
		slog.String("category_id", c.ID),
		slog.String("name", c.Name),
	)
	return c, nil
}

// ListCategories は全カテゴリを名前順で返す。
func (s *Service) ListCategories(ctx context.Context) ([]*model.Category, error) {
	categories, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("カテゴリ一覧の取得に失敗しました: %w", err)
	}
	if categories == nil {
		categories = []*model.Category{}
	}
	return categories, nil
}

// GetCategory はカテゴリを取得する。
func (s *Service) GetCategory(ctx context.Context, id string) (*model.Category, error) {
	if !model.IsValidID(id) {
		return nil, invalidIDError()
	}
	c, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("カテゴリの取得に失敗しました: %w", err)
	}
	if c == nil {
		return nil, model.NewCategoryNotFoundError(id)
	}
	return c, nil
}

// RenameCategory はカテゴリ名を変更する。
func (s *Service) RenameCategory(ctx context.Context, id, name string) (*model.Category, error) {
	if !model.IsValidID(id) {
		return nil, invalidIDError()
	}
	name, err := validateName(name)
	if err != nil {
		return nil, err
	}

	c, err := s.repo.Rename(ctx, id, name)
	if err != nil {
		return nil, fmt.Errorf("カテゴリ名の変更に失敗しました: %w", err)
	}
	if c == nil {
		return nil, model.NewCategoryNotFoundError(id)
	}

	slog.Info("カテゴリ名を変更しました",
		slog.String("category_id", id),
		slog.String("name", name),
	)
	return c, nil
}

// DeleteCategory はカテゴリを削除する。
// 投稿が残っている場合はCATEGORY_NOT_EMPTYを返す。
func (s *Service) DeleteCategory(ctx context.Context, id string) error {
	c, err := s.GetCategory(ctx, id)
	if err != nil {
		return err
	}
	if len(c.PostIDs) > 0 {
		return model.NewCategoryNotEmptyError(len(c.PostIDs))
	}

	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("カテゴリの削除に失敗しました: %w", err)
	}
	if !deleted {
		// 確認後に投稿が追加された、または所属リストが不整合で投稿が残っている
		latest, err := s.repo.FindByID(ctx, id)
		if err != nil {
			return fmt.Errorf("カテゴリの取得に失敗しました: %w", err)
		}
		if latest == nil {
			return model.NewCategoryNotFoundError(id)
		}
		return model.NewCategoryNotEmptyError(len(latest.PostIDs))
	}

	slog.Info("カテゴリを削除しました", slog.String("category_id", id))
	return nil
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return "", model.NewValidationError(model.FieldError{Field: "name", Reason: "カテゴリ名を入力してください"})
	case utf8.RuneCountInString(name) > MaxNameLength:
		return "", model.NewValidationError(model.FieldError{Field: "name", Reason: fmt.Sprintf("%d文字以内で入力してください", MaxNameLength)})
	}
	return name, nil
}

func invalidIDError() *model.APIError {
	return model.NewValidationError(model.FieldError{Field: "id", Reason: "カテゴリIDの形式が不正です"})
}
