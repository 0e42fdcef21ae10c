package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/blogman/internal/model"
)

// PostgresPostRepo はPostgreSQLを使用した投稿リポジトリ。
// 投稿の作成・カテゴリ変更・削除とcategories.post_idsの更新を同一トランザクションで行う。
type PostgresPostRepo struct {
	db *sql.DB
}

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db *sql.DB) *PostgresPostRepo {
	return &PostgresPostRepo{db: db}
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const postColumns = `id, title, content, category_id, author_id, featured_image, comments, created_at, updated_at`

// postViewQuery は投稿にカテゴリ名と投稿者名を結合するSELECT句。
const postViewQuery = `
	SELECT p.id, p.title, p.content, p.category_id, c.name,
	       p.author_id, u.username, p.featured_image,
	       jsonb_array_length(p.comments), p.created_at, p.updated_at
	FROM posts p
	JOIN categories c ON c.id = p.category_id
	LEFT JOIN users u ON u.id = p.author_id`

// CreateLinked は投稿を作成し、カテゴリのpost_idsに投稿IDを追加する。
func (r *PostgresPostRepo) CreateLinked(ctx context.Context, post *model.Post) error {
	comments, err := marshalComments(post.Comments)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO posts (`+postColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		post.ID, post.Title, post.Content, post.CategoryID,
		nullString(post.AuthorID), nullString(post.FeaturedImage), comments,
		post.CreatedAt, post.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert post: %w", err)
	}

	if err := linkPost(ctx, tx, post.ID, post.CategoryID, post.UpdatedAt); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// FindByID は指定IDの投稿をコメント込みで取得する。見つからない場合はnilを返す。
func (r *PostgresPostRepo) FindByID(ctx context.Context, id string) (*model.Post, error) {
	post, err := scanPost(r.db.QueryRowContext(ctx,
		`SELECT `+postColumns+` FROM posts WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find post by ID: %w", err)
	}
	return post, nil
}

// FindViewByID は指定IDの投稿をカテゴリ名・投稿者名と結合して取得する。
func (r *PostgresPostRepo) FindViewByID(ctx context.Context, id string) (*model.PostView, error) {
	view, err := scanPostView(r.db.QueryRowContext(ctx,
		postViewQuery+` WHERE p.id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find post view by ID: %w", err)
	}
	return &view, nil
}

// UpdateLinked は投稿を部分更新する。見つからない場合はnilを返す。
// 投稿行をFOR UPDATEでロックしてから旧カテゴリを読み取るため、
// 同一投稿への並行したカテゴリ変更でもpost_idsが二重登録されない。
func (r *PostgresPostRepo) UpdateLinked(ctx context.Context, id string, patch model.PostPatch) (*model.Post, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var oldCategoryID string
	err = tx.QueryRowContext(ctx,
		`SELECT category_id FROM posts WHERE id = $1 FOR UPDATE`,
		id,
	).Scan(&oldCategoryID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock post: %w", err)
	}

	post, err := scanPost(tx.QueryRowContext(ctx,
		`UPDATE posts SET
		    title = COALESCE($2, title),
		    content = COALESCE($3, content),
		    category_id = COALESCE($4::uuid, category_id),
		    updated_at = $5
		 WHERE id = $1
		 RETURNING `+postColumns,
		id, nullStringPtr(patch.Title), nullStringPtr(patch.Content),
		nullStringPtr(patch.CategoryID), patch.UpdatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to update post: %w", err)
	}

	if post.CategoryID != oldCategoryID {
		if err := unlinkPost(ctx, tx, id, oldCategoryID, patch.UpdatedAt); err != nil {
			return nil, err
		}
		if err := linkPost(ctx, tx, id, post.CategoryID, patch.UpdatedAt); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return post, nil
}

// DeleteLinked は投稿を削除し、所属カテゴリのpost_idsから投稿IDを除去する。
func (r *PostgresPostRepo) DeleteLinked(ctx context.Context, id string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var categoryID string
	err = tx.QueryRowContext(ctx,
		`DELETE FROM posts WHERE id = $1 RETURNING category_id`,
		id,
	).Scan(&categoryID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete post: %w", err)
	}

	if err := unlinkPost(ctx, tx, id, categoryID, time.Now()); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return true, nil
}

// SetFeaturedImage はアイキャッチ画像の保存先を設定する。
func (r *PostgresPostRepo) SetFeaturedImage(ctx context.Context, id, location string, updatedAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE posts SET featured_image = $2, updated_at = $3 WHERE id = $1`,
		id, location, updatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to set featured image: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n > 0, nil
}

// AppendComment はコメントを投稿のコメント列の末尾に1文で追加する。
// UPDATEは行ロックを取得し最新の行に対して再評価されるため、
// 並行した追加はすべて保持される。
func (r *PostgresPostRepo) AppendComment(ctx context.Context, postID string, comment model.Comment) (bool, error) {
	payload, err := json.Marshal([]model.Comment{comment})
	if err != nil {
		return false, fmt.Errorf("failed to encode comment: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE posts SET comments = comments || $2::jsonb WHERE id = $1`,
		postID, string(payload),
	)
	if err != nil {
		return false, fmt.Errorf("failed to append comment: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n > 0, nil
}

// List は条件に一致する投稿をcreated_at降順・id降順で返す。
// id降順を第2キーにすることで、同時刻の投稿があってもページ間で重複・欠落しない。
func (r *PostgresPostRepo) List(ctx context.Context, filter model.PostFilter) ([]model.PostView, error) {
	where, args := buildPostWhere(filter)
	argIndex := len(args) + 1

	query := postViewQuery + where +
		fmt.Sprintf(" ORDER BY p.created_at DESC, p.id DESC LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	views := []model.PostView{}
	for rows.Next() {
		view, err := scanPostView(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post row: %w", err)
		}
		views = append(views, view)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate post rows: %w", err)
	}

	return views, nil
}

// Count は条件に一致する投稿数を返す。
func (r *PostgresPostRepo) Count(ctx context.Context, filter model.PostFilter) (int, error) {
	where, args := buildPostWhere(filter)

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts p`+where, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count posts: %w", err)
	}
	return total, nil
}

// buildPostWhere は絞り込み条件からWHERE句と引数を構築する。
func buildPostWhere(filter model.PostFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}

	if filter.CategoryID != "" {
		args = append(args, filter.CategoryID)
		conds = append(conds, fmt.Sprintf("p.category_id = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, containsPattern(filter.Search))
		n := len(args)
		conds = append(conds, fmt.Sprintf(`(p.title ILIKE $%d ESCAPE '\' OR p.content ILIKE $%d ESCAPE '\')`, n, n))
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// linkPost はカテゴリのpost_idsに投稿IDを追加する。
func linkPost(ctx context.Context, tx *sql.Tx, postID, categoryID string, at time.Time) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE categories SET post_ids = array_append(post_ids, $1::uuid), updated_at = $3
		 WHERE id = $2`,
		postID, categoryID, at,
	)
	if err != nil {
		return fmt.Errorf("failed to link post to category: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("failed to link post to category: category %s does not exist", categoryID)
	}
	return nil
}

// unlinkPost はカテゴリのpost_idsから投稿IDを除去する。
func unlinkPost(ctx context.Context, tx *sql.Tx, postID, categoryID string, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE categories SET post_ids = array_remove(post_ids, $1::uuid), updated_at = $3
		 WHERE id = $2`,
		postID, categoryID, at,
	)
	if err != nil {
		return fmt.Errorf("failed to unlink post from category: %w", err)
	}
	return nil
}

// scanPost はpostColumnsの並びで1行を読み取る。
func scanPost(row rowScanner) (*model.Post, error) {
	post := &model.Post{}
	var authorID, featuredImage sql.NullString
	var comments []byte

	if err := row.Scan(
		&post.ID, &post.Title, &post.Content, &post.CategoryID,
		&authorID, &featuredImage, &comments,
		&post.CreatedAt, &post.UpdatedAt,
	); err != nil {
		return nil, err
	}

	post.AuthorID = nullStringValue(authorID)
	post.FeaturedImage = nullStringValue(featuredImage)
	if err := json.Unmarshal(comments, &post.Comments); err != nil {
		return nil, fmt.Errorf("failed to decode comments: %w", err)
	}

	return post, nil
}

// scanPostView はpostViewQueryの並びで1行を読み取る。
func scanPostView(row rowScanner) (model.PostView, error) {
	var view model.PostView
	var authorID, authorName, featuredImage sql.NullString

	if err := row.Scan(
		&view.ID, &view.Title, &view.Content, &view.Category.ID, &view.Category.Name,
		&authorID, &authorName, &featuredImage,
		&view.CommentCount, &view.CreatedAt, &view.UpdatedAt,
	); err != nil {
		return model.PostView{}, err
	}

	if authorID.Valid && authorName.Valid {
		view.Author = &model.UserRef{ID: authorID.String, Username: authorName.String}
	}
	view.FeaturedImage = nullStringValue(featuredImage)

	return view, nil
}

// marshalComments はコメント列をJSONB用にエンコードする。nilは空配列として扱う。
func marshalComments(comments []model.Comment) (string, error) {
	if comments == nil {
		comments = []model.Comment{}
	}
	b, err := json.Marshal(comments)
	if err != nil {
		return "", fmt.Errorf("failed to encode comments: %w", err)
	}
	return string(b), nil
}

// nullStringPtr はnilをNULLとして扱うsql.NullStringを返す。
func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// compile-time interface check
var _ PostRepository = (*PostgresPostRepo)(nil)
