// Package upload はアイキャッチ画像ファイルのディスク保存を提供する。
package upload

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/hitoshi/blogman/internal/model"
)

// DefaultMaxSize はアップロード画像の最大サイズ（5MB）。
const DefaultMaxSize int64 = 5 << 20

// sniffLen はContent-Type判定に使う先頭バイト数。
const sniffLen = 512

// maxNameAttempts は保存ファイル名が衝突した場合の再試行回数の上限。
const maxNameAttempts = 5

// DiskStore は画像をディレクトリに保存し、公開URLパスを保存先として返す。
type DiskStore struct {
	dir       string
	urlPrefix string
	maxSize   int64
	now       func() time.Time
}

// NewDiskStore はDiskStoreを生成する。保存先ディレクトリが無ければ作成する。
func NewDiskStore(dir, urlPrefix string, maxSize int64) (*DiskStore, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &DiskStore{
		dir:       dir,
		urlPrefix: "/" + strings.Trim(urlPrefix, "/"),
		maxSize:   maxSize,
		now:       time.Now,
	}, nil
}

// Dir は保存先ディレクトリを返す。
func (s *DiskStore) Dir() string {
	return s.dir
}

// MaxSize はアップロード可能な最大バイト数を返す。
func (s *DiskStore) MaxSize() int64 {
	return s.maxSize
}

// Save は画像を保存し、保存先（<urlPrefix>/<unixmillis>-<name>）を返す。
// 名前が衝突した場合は<unixmillis>-<random>-<name>とする。
// 画像以外のファイルやサイズ超過の場合はINVALID_IMAGEを返す。
func (s *DiskStore) Save(r io.Reader, originalName string) (string, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}
	head = head[:n]
	if n == 0 {
		return "", model.NewInvalidImageError("ファイルが空です")
	}

	contentType := http.DetectContentType(head)
	if !strings.HasPrefix(contentType, "image/") {
		return "", model.NewInvalidImageError(fmt.Sprintf("画像ファイルではありません（%s）", contentType))
	}

	f, name, err := s.createFile(sanitizeFileName(originalName))
	if err != nil {
		return "", err
	}
	dst := filepath.Join(s.dir, name)

	// 上限+1バイトまで読み、超過を検出する
	body := io.MultiReader(bytes.NewReader(head), r)
	written, err := io.Copy(f, io.LimitReader(body, s.maxSize+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("failed to write upload file: %w", err)
	}
	if written > s.maxSize {
		os.Remove(dst)
		return "", model.NewInvalidImageError("ファイルサイズが上限を超えています")
	}

	return path.Join(s.urlPrefix, name), nil
}

// createFile は保存ファイルを新規作成する。
// 同一ミリ秒に同名ファイルが保存済みの場合は乱数の接尾辞を付けて作り直す。
func (s *DiskStore) createFile(baseName string) (*os.File, string, error) {
	millis := s.now().UnixMilli()
	name := fmt.Sprintf("%d-%s", millis, baseName)
	for attempt := 1; ; attempt++ {
		f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, name, nil
		}
		if !errors.Is(err, fs.ErrExist) || attempt >= maxNameAttempts {
			return nil, "", fmt.Errorf("failed to create upload file: %w", err)
		}
		name = fmt.Sprintf("%d-%s-%s", millis, uuid.NewString()[:8], baseName)
	}
}

// Remove は保存先に対応するファイルを削除する。存在しない場合は何もしない。
func (s *DiskStore) Remove(location string) error {
	name := path.Base(location)
	if name == "." || name == "/" {
		return nil
	}
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove upload file: %w", err)
	}
	return nil
}

// sanitizeFileName はファイル名から英数字・ハイフン・アンダースコア・ドット以外を除去する。
func sanitizeFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		case unicode.IsSpace(r):
			return '_'
		}
		return -1
	}, name)
	cleaned = strings.TrimLeft(cleaned, ".")
	if cleaned == "" {
		return "image"
	}
	return cleaned
}
