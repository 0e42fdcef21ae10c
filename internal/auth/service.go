// Package auth はパスワード認証とベアラートークンの発行・検証を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/hitoshi/blogman/internal/model"
	"github.com/hitoshi/blogman/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

// 入力値の制約
const (
	MinUsernameLength = 3
	MaxUsernameLength = 32
	MinPasswordLength = 6
	// bcryptは72バイトを超えるパスワードを扱えない
	MaxPasswordBytes = 72
)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	BcryptCost int
}

// RegisterInput はユーザー登録の入力値。
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// LoginResult はログイン成功時に返すトークンとユーザー情報。
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      *model.User
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo repository.UserRepository
	tokens   *TokenIssuer
	config   ServiceConfig
	now      func() time.Time
}

// NewService はServiceを生成する。
func NewService(userRepo repository.UserRepository, tokens *TokenIssuer, config ServiceConfig) *Service {
	if config.BcryptCost == 0 {
		config.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		userRepo: userRepo,
		tokens:   tokens,
		config:   config,
		now:      time.Now,
	}
}

// Register はユーザーを登録する。
// メールアドレスは小文字に正規化して保存する。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	username := strings.TrimSpace(in.Username)
	email, emailOK := normalizeEmail(in.Email)

	var fields []model.FieldError
	switch n := utf8.RuneCountInString(username); {
	case n < MinUsernameLength || n > MaxUsernameLength:
		fields = append(fields, model.FieldError{Field: "username", Reason: fmt.Sprintf("%d〜%d文字で入力してください", MinUsernameLength, MaxUsernameLength)})
	case strings.IndexFunc(username, unicode.IsSpace) >= 0:
		fields = append(fields, model.FieldError{Field: "username", Reason: "空白は使用できません"})
	}
	if !emailOK {
		fields = append(fields, model.FieldError{Field: "email", Reason: "メールアドレスの形式が不正です"})
	}
	switch {
	case utf8.RuneCountInString(in.Password) < MinPasswordLength:
		fields = append(fields, model.FieldError{Field: "password", Reason: fmt.Sprintf("%d文字以上で入力してください", MinPasswordLength)})
	case len(in.Password) > MaxPasswordBytes:
		fields = append(fields, model.FieldError{Field: "password", Reason: "パスワードが長すぎます"})
	}
	if len(fields) > 0 {
		return nil, model.NewValidationError(fields...)
	}

	existing, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewEmailTakenError()
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("パスワードのハッシュ化に失敗しました: %w", err)
	}

	now := s.now().UTC()
	user := &model.User{
		ID:           model.NewID(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		// 確認後に同じメールアドレス・ユーザー名で登録された場合
		var dup *repository.DuplicateError
		if errors.As(err, &dup) {
			if dup.Constraint == repository.ConstraintUsersUsername {
				return nil, model.NewUsernameTakenError()
			}
			return nil, model.NewEmailTakenError()
		}
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	slog.Info("ユーザーを登録しました",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
	)
	return user, nil
}

// Login はメールアドレスとパスワードで認証し、ベアラートークンを発行する。
// メールアドレス未登録とパスワード誤りは区別せずINVALID_CREDENTIALSを返す。
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	normalized, ok := normalizeEmail(email)

	var fields []model.FieldError
	if !ok {
		fields = append(fields, model.FieldError{Field: "email", Reason: "メールアドレスの形式が不正です"})
	}
	if password == "" {
		fields = append(fields, model.FieldError{Field: "password", Reason: "パスワードを入力してください"})
	}
	if len(fields) > 0 {
		return nil, model.NewValidationError(fields...)
	}

	user, err := s.userRepo.FindByEmail(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewInvalidCredentialsError()
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		slog.Warn("ログインに失敗しました", slog.String("user_id", user.ID))
		return nil, model.NewInvalidCredentialsError()
	}

	token, expiresAt, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, fmt.Errorf("トークンの発行に失敗しました: %w", err)
	}

	slog.Info("ログインしました", slog.String("user_id", user.ID))
	return &LoginResult{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

// Me は認証済みユーザーの情報を返す。
func (s *Service) Me(ctx context.Context, userID string) (*model.User, error) {
	if !model.IsValidID(userID) {
		return nil, model.NewUnauthorizedError()
	}
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// VerifyToken はベアラートークンを検証してユーザーIDを返す。
func (s *Service) VerifyToken(token string) (string, error) {
	return s.tokens.Verify(token)
}

// normalizeEmail はメールアドレスを検証し、小文字に正規化して返す。
// 表示名付きの形式（"Name <a@example.com>"）は受け付けない。
func normalizeEmail(raw string) (string, bool) {
	email := strings.TrimSpace(raw)
	if email == "" {
		return "", false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", false
	}
	return strings.ToLower(email), true
}
