package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/blogman/internal/middleware"
)

// healthCheckTimeout はヘルスチェック時のDB疎通確認のタイムアウト。
const healthCheckTimeout = 2 * time.Second

// HealthChecker はヘルスチェックに必要なインターフェース。*sql.DBが実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger              *slog.Logger
	TokenVerifier       middleware.TokenVerifier
	CORSAllowedOrigin   string
	RateLimiter         *middleware.RateLimiter
	HTTPMetrics         middleware.HTTPMetricsRecorder // nilの場合は記録しない
	AllowAnonymousPosts bool

	// 運用エンドポイント
	HealthChecker  HealthChecker
	MetricsHandler http.Handler // nilの場合は/metricsを公開しない

	// 認証
	AuthService AuthServiceInterface

	// カテゴリ
	CategoryService CategoryServiceInterface

	// 投稿・コメント
	PostService    PostServiceInterface
	CommentService CommentServiceInterface

	// アップロード画像
	ImageStore      ImageStore
	UploadDir       string
	UploadURLPrefix string
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Metrics → Recovery → SecurityHeaders → CORS
//	→ Auth → RateLimit(General)
//
// 書き込み系ルートにはRequireAuthを追加する。
// ALLOW_ANONYMOUS_POSTSが有効な場合、投稿の作成・更新・削除・画像アップロードは匿名で実行できる。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.HTTPMetrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.HTTPMetrics))
	}
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	// --- 運用エンドポイント ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- アップロード画像の配信 ---
	if deps.UploadDir != "" {
		prefix := "/" + strings.Trim(deps.UploadURLPrefix, "/")
		fs := http.StripPrefix(prefix+"/", http.FileServer(http.Dir(deps.UploadDir)))
		r.Get(prefix+"/*", fs.ServeHTTP)
	}

	authHandler := NewAuthHandler(deps.AuthService)
	categoryHandler := NewCategoryHandler(deps.CategoryService)
	postHandler := NewPostHandler(deps.PostService)
	commentHandler := NewCommentHandler(deps.CommentService)
	imageHandler := NewImageHandler(deps.PostService, deps.ImageStore)

	// 投稿の書き込み系に適用する認証ミドルウェア
	postWriteAuth := middleware.RequireAuth
	if deps.AllowAnonymousPosts {
		postWriteAuth = func(next http.Handler) http.Handler { return next }
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.TokenVerifier))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 認証
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.With(middleware.RequireAuth).Get("/me", authHandler.Me)
		})

		// カテゴリ管理
		r.Route("/categories", func(r chi.Router) {
			r.Get("/", categoryHandler.ListCategories)
			r.With(middleware.RequireAuth).Post("/", categoryHandler.CreateCategory)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", categoryHandler.GetCategory)
				r.With(middleware.RequireAuth).Patch("/", categoryHandler.RenameCategory)
				r.With(middleware.RequireAuth).Delete("/", categoryHandler.DeleteCategory)
			})
		})

		// 投稿管理
		r.Route("/posts", func(r chi.Router) {
			r.Get("/", postHandler.ListPosts)
			r.With(postWriteAuth).Post("/", postHandler.CreatePost)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", postHandler.GetPost)
				r.With(postWriteAuth).Put("/", postHandler.UpdatePost)
				r.With(postWriteAuth).Delete("/", postHandler.DeletePost)
				r.With(postWriteAuth).Post("/image", imageHandler.UploadImage)

				// コメント（追加は専用レート制限を適用）
				r.Get("/comments", commentHandler.ListComments)
				r.With(middleware.RequireAuth, deps.RateLimiter.CommentMiddleware()).
					Post("/comments", commentHandler.AddComment)
			})
		})
	})

	return r
}

// healthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
