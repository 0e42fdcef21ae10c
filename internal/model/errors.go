// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string       // エラーコード
	Message  string       // エラーメッセージ
	Category string       // カテゴリ: validation, not_found, conflict, auth, system
	Action   string       // ユーザー向け対処方法
	Fields   []FieldError // バリデーションエラー時のフィールド別詳細
}

// FieldError はフィールド単位のバリデーションエラーを表す。
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Reason
	}
	return fmt.Sprintf("[%s] %s (%s)", e.Code, e.Message, strings.Join(parts, ", "))
}

// エラーカテゴリ
const (
	CategoryValidation = "validation"
	CategoryNotFound   = "not_found"
	CategoryConflict   = "conflict"
	CategoryAuth       = "auth"
	CategorySystem     = "system"
)

// 定義済みエラーコード
const (
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodePostNotFound       = "POST_NOT_FOUND"
	ErrCodeCategoryNotFound   = "CATEGORY_NOT_FOUND"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeEmailTaken         = "EMAIL_TAKEN"
	ErrCodeUsernameTaken      = "USERNAME_TAKEN"
	ErrCodeCategoryNotEmpty   = "CATEGORY_NOT_EMPTY"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeInvalidImage       = "INVALID_IMAGE"
)

// NewValidationError はフィールド別詳細を持つバリデーションエラーを生成する。
func NewValidationError(fields ...FieldError) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  "入力内容に誤りがあります。",
		Category: CategoryValidation,
		Action:   "各項目の内容を確認してください。",
		Fields:   fields,
	}
}

// NewPostNotFoundError は投稿未検出エラーを生成する。
func NewPostNotFoundError(postID string) *APIError {
	return &APIError{
		Code:     ErrCodePostNotFound,
		Message:  fmt.Sprintf("指定された投稿が見つかりません: %s", postID),
		Category: CategoryNotFound,
		Action:   "投稿IDを確認してください。",
	}
}

// NewCategoryNotFoundError はカテゴリ未検出エラーを生成する。
func NewCategoryNotFoundError(categoryID string) *APIError {
	return &APIError{
		Code:     ErrCodeCategoryNotFound,
		Message:  fmt.Sprintf("指定されたカテゴリが見つかりません: %s", categoryID),
		Category: CategoryNotFound,
		Action:   "カテゴリ一覧から存在するカテゴリを選択してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: CategoryNotFound,
		Action:   "ログインし直してください。",
	}
}

// NewEmailTakenError はメールアドレス重複エラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Message:  "このメールアドレスは既に使用されています。",
		Category: CategoryConflict,
		Action:   "別のメールアドレスを入力するか、ログインしてください。",
	}
}

// NewUsernameTakenError はユーザー名重複エラーを生成する。
func NewUsernameTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeUsernameTaken,
		Message:  "このユーザー名は既に使用されています。",
		Category: CategoryConflict,
		Action:   "別のユーザー名を入力してください。",
	}
}

// NewCategoryNotEmptyError は投稿が残っているカテゴリを削除しようとした場合のエラーを生成する。
func NewCategoryNotEmptyError(postCount int) *APIError {
	return &APIError{
		Code:     ErrCodeCategoryNotEmpty,
		Message:  fmt.Sprintf("カテゴリには投稿が%d件残っています。", postCount),
		Category: CategoryConflict,
		Action:   "投稿を削除するか別のカテゴリへ移動してから削除してください。",
	}
}

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
// メールアドレスとパスワードのどちらが誤っているかは区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: CategoryAuth,
		Action:   "入力内容を確認して再度ログインしてください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: CategoryAuth,
		Action:   "ログインしてください。",
	}
}

// NewInvalidImageError はアップロード画像が不正な場合のエラーを生成する。
func NewInvalidImageError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidImage,
		Message:  fmt.Sprintf("画像をアップロードできません: %s", reason),
		Category: CategoryValidation,
		Action:   "5MB以下の画像ファイル（PNG, JPEG, GIF, WebP）を選択してください。",
	}
}

// IntegrityWarning はカテゴリの所属投稿リストと投稿側のcategory_idの不整合を表す。
// 整合性チェックで検出されログに記録されるが、APIの呼び出し元には返さない。
type IntegrityWarning struct {
	CategoryID string
	Missing    []string // 投稿はカテゴリを参照しているがpost_idsに含まれていないID
	Stale      []string // post_idsに含まれているが実際には所属していないID
}

// Error はerrorインターフェースを実装する。
func (w *IntegrityWarning) Error() string {
	return fmt.Sprintf("category %s membership drift: missing=%d stale=%d",
		w.CategoryID, len(w.Missing), len(w.Stale))
}
