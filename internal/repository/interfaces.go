// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/blogman/internal/model"
)

// ErrDuplicate は一意制約違反を表す。
// 違反した制約名はDuplicateErrorで参照できる。
var ErrDuplicate = errors.New("duplicate key")

// DuplicateError は一意制約違反の詳細を保持する。
type DuplicateError struct {
	Constraint string
}

// Error はerrorインターフェースを実装する。
func (e *DuplicateError) Error() string {
	return "duplicate key violates constraint " + e.Constraint
}

// Unwrap はerrors.Is(err, ErrDuplicate)を成立させる。
func (e *DuplicateError) Unwrap() error {
	return ErrDuplicate
}

// 一意制約名（マイグレーションで定義）
const (
	ConstraintUsersEmail    = "users_email_key"
	ConstraintUsersUsername = "users_username_key"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// Create はユーザーを作成する。
	// email/usernameが重複する場合は*DuplicateErrorを返す。
	Create(ctx context.Context, user *model.User) error

	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindUsernames は指定IDのユーザー名をまとめて取得する。
	// 存在しないIDは結果のmapに含まれない。
	FindUsernames(ctx context.Context, ids []string) (map[string]string, error)
}

// CategoryRepository はカテゴリデータの永続化インターフェース。
type CategoryRepository interface {
	// Create はカテゴリを作成する。
	Create(ctx context.Context, category *model.Category) error

	// FindByID は指定IDのカテゴリを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Category, error)

	// List は全カテゴリを名前順で返す。
	List(ctx context.Context) ([]*model.Category, error)

	// Rename はカテゴリ名を変更する。見つからない場合はnilを返す。
	Rename(ctx context.Context, id, name string) (*model.Category, error)

	// Delete はpost_idsが空のカテゴリを削除する。
	// 削除できた場合はtrueを返す。存在しないか投稿が残っている場合はfalseを返す。
	Delete(ctx context.Context, id string) (bool, error)
}

// MembershipRepository はカテゴリ所属の整合性チェック用インターフェース。
type MembershipRepository interface {
	// ListMemberships は全カテゴリのpost_idsをカテゴリIDごとに返す。
	ListMemberships(ctx context.Context) (map[string][]string, error)

	// ListCategoryAssignments は全投稿のcategory_idを投稿IDごとに返す。
	ListCategoryAssignments(ctx context.Context) (map[string]string, error)

	// RecomputeMembership はpostsテーブルからカテゴリのpost_idsを再計算して上書きする。
	// 1文で実行するため、走査後に作成された投稿も反映される。
	RecomputeMembership(ctx context.Context, categoryID string) error
}

// PostRepository は投稿データの永続化インターフェース。
// カテゴリのpost_ids更新は投稿の書き込みと同一トランザクションで行う。
type PostRepository interface {
	// CreateLinked は投稿を作成し、カテゴリのpost_idsに投稿IDを追加する。
	CreateLinked(ctx context.Context, post *model.Post) error

	// FindByID は指定IDの投稿をコメント込みで取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Post, error)

	// FindViewByID は指定IDの投稿をカテゴリ名・投稿者名と結合して取得する。
	// 見つからない場合はnilを返す。
	FindViewByID(ctx context.Context, id string) (*model.PostView, error)

	// UpdateLinked は投稿を部分更新する。見つからない場合はnilを返す。
	// カテゴリが変わる場合は旧カテゴリのpost_idsから削除し新カテゴリに追加する。
	UpdateLinked(ctx context.Context, id string, patch model.PostPatch) (*model.Post, error)

	// DeleteLinked は投稿を削除し、所属カテゴリのpost_idsから投稿IDを除去する。
	// 削除できた場合はtrueを返す。
	DeleteLinked(ctx context.Context, id string) (bool, error)

	// SetFeaturedImage はアイキャッチ画像の保存先を設定する。
	// 対象の投稿が存在しない場合はfalseを返す。
	SetFeaturedImage(ctx context.Context, id, location string, updatedAt time.Time) (bool, error)

	// AppendComment はコメントを投稿のコメント列の末尾に1文で追加する。
	// 読み込み→書き戻しを行わないため、並行追加でも取りこぼしが発生しない。
	// 対象の投稿が存在しない場合はfalseを返す。
	AppendComment(ctx context.Context, postID string, comment model.Comment) (bool, error)

	// List は条件に一致する投稿をcreated_at降順・id降順で返す。
	List(ctx context.Context, filter model.PostFilter) ([]model.PostView, error)

	// Count は条件に一致する投稿数を返す。Limit/Offsetは無視する。
	Count(ctx context.Context, filter model.PostFilter) (int, error)
}
