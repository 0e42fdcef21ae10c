// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// PasswordHashはAPIレスポンスに含めてはならない。
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserRef は他エンティティに埋め込むユーザーの公開情報。
type UserRef struct {
	ID       string
	Username string
}
