package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/blogman/internal/model"
)

// imageFormField はアイキャッチ画像のmultipartフィールド名。
const imageFormField = "image"

// multipartOverhead はmultipartの境界・ヘッダー分として許容する追加バイト数。
const multipartOverhead = 64 << 10

// ImageStore は画像ファイルの保存先。upload.DiskStoreが実装する。
type ImageStore interface {
	Save(r io.Reader, originalName string) (string, error)
	Remove(location string) error
	MaxSize() int64
}

// ImageHandler はアイキャッチ画像アップロードのHTTPハンドラー。
type ImageHandler struct {
	posts PostServiceInterface
	store ImageStore
}

// NewImageHandler はImageHandlerを生成する。
func NewImageHandler(posts PostServiceInterface, store ImageStore) *ImageHandler {
	return &ImageHandler{posts: posts, store: store}
}

// UploadImage は画像を保存し、投稿のアイキャッチ画像として設定する。
// POST /api/posts/{id}/image（multipart/form-data、フィールド名"image"）
func (h *ImageHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "id")

	// 存在しない投稿に対してファイルを書き込まない
	exists, err := h.posts.PostExists(r.Context(), postID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if !exists {
		handleServiceError(w, model.NewPostNotFoundError(postID))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.store.MaxSize()+multipartOverhead)
	file, header, err := r.FormFile(imageFormField)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			handleServiceError(w, model.NewInvalidImageError("ファイルサイズが上限を超えています"))
			return
		}
		handleServiceError(w, model.NewInvalidImageError("imageフィールドに画像ファイルを指定してください"))
		return
	}
	defer file.Close()

	location, err := h.store.Save(file, header.Filename)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	view, err := h.posts.AttachImage(r.Context(), postID, location)
	if err != nil {
		// 設定できなかった画像は残さない
		if rmErr := h.store.Remove(location); rmErr != nil {
			slog.Warn("failed to remove orphaned upload",
				slog.String("location", location),
				slog.String("error", rmErr.Error()),
			)
		}
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toPostResponse(view))
}
