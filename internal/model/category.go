// Package model はドメインモデルを定義する。
package model

import "time"

// Category は投稿の分類を表す。
// PostIDsはこのカテゴリを参照する投稿IDの一覧で、作成順に並ぶ。
type Category struct {
	ID        string
	Name      string
	PostIDs   []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CategoryRef は投稿に埋め込むカテゴリの参照情報。
type CategoryRef struct {
	ID   string
	Name string
}
