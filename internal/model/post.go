// Package model はドメインモデルを定義する。
package model

import "time"

// Post はブログ投稿を表す。
type Post struct {
	ID            string
	Title         string
	Content       string // サニタイズ済みHTML
	CategoryID    string
	AuthorID      string // 匿名投稿の場合は空文字列
	FeaturedImage string // アップロード済み画像の保存先。未設定の場合は空文字列
	Comments      []Comment
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Comment は投稿に埋め込まれたコメントを表す。
// 追記のみで、編集・個別削除は行わない。
type Comment struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// PostView は投稿にカテゴリ名と投稿者名を結合した表示用モデル。
// postsテーブルにcategoriesとusersをJOINして取得される。
type PostView struct {
	ID            string
	Title         string
	Content       string
	Category      CategoryRef
	Author        *UserRef // 匿名投稿または退会済みの場合はnil
	FeaturedImage string
	CommentCount  int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CommentView はユーザー名を解決済みのコメント。
type CommentView struct {
	ID        string
	User      UserRef
	Text      string
	CreatedAt time.Time
}

// PostPatch は投稿の部分更新内容を表す。
// nilフィールドは変更しない。
type PostPatch struct {
	Title      *string
	Content    *string
	CategoryID *string
	UpdatedAt  time.Time
}

// PostFilter は投稿一覧の絞り込み条件を表す。
type PostFilter struct {
	CategoryID string // 空文字列の場合は絞り込みなし
	Search     string // タイトルまたは本文の部分一致（大文字小文字を区別しない）
	Limit      int
	Offset     int
}
