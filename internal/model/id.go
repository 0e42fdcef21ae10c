package model

import (
	"strings"

	"github.com/google/uuid"
)

// IsValidID はidが正規表記（小文字ハイフン区切り）のUUIDかどうかを判定する。
func IsValidID(id string) bool {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return false
	}
	return parsed.String() == strings.ToLower(id)
}

// NewID は新しいエンティティIDを生成する。
func NewID() string {
	return uuid.NewString()
}
