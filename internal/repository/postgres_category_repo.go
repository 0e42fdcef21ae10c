package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/blogman/internal/model"
	"github.com/lib/pq"
)

// PostgresCategoryRepo はPostgreSQLを使用したカテゴリリポジトリ。
// 整合性チェック用のMembershipRepositoryも実装する。
type PostgresCategoryRepo struct {
	db *sql.DB
}

// NewPostgresCategoryRepo はPostgresCategoryRepoを生成する。
func NewPostgresCategoryRepo(db *sql.DB) *PostgresCategoryRepo {
	return &PostgresCategoryRepo{db: db}
}

// Create はカテゴリを作成する。
func (r *PostgresCategoryRepo) Create(ctx context.Context, category *model.Category) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO categories (id, name, post_ids, created_at, updated_at)
		 VALUES ($1, $2, '{}', $3, $4)`,
		category.ID, category.Name, category.CreatedAt, category.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert category: %w", err)
	}
	return nil
}

// FindByID は指定IDのカテゴリを取得する。見つからない場合はnilを返す。
func (r *PostgresCategoryRepo) FindByID(ctx context.Context, id string) (*model.Category, error) {
	c := &model.Category{}
	var postIDs pq.StringArray
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, post_ids, created_at, updated_at FROM categories WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.Name, &postIDs, &c.CreatedAt, &c.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find category by ID: %w", err)
	}

	c.PostIDs = []string(postIDs)
	return c, nil
}

// List は全カテゴリを名前順で返す。
func (r *PostgresCategoryRepo) List(ctx context.Context) ([]*model.Category, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, post_ids, created_at, updated_at
		 FROM categories ORDER BY name ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var categories []*model.Category
	for rows.Next() {
		c := &model.Category{}
		var postIDs pq.StringArray
		if err := rows.Scan(&c.ID, &c.Name, &postIDs, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan category row: %w", err)
		}
		c.PostIDs = []string(postIDs)
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate category rows: %w", err)
	}

	return categories, nil
}

// Rename はカテゴリ名を変更する。見つからない場合はnilを返す。
func (r *PostgresCategoryRepo) Rename(ctx context.Context, id, name string) (*model.Category, error) {
	c := &model.Category{}
	var postIDs pq.StringArray
	err := r.db.QueryRowContext(ctx,
		`UPDATE categories SET name = $2, updated_at = now()
		 WHERE id = $1
		 RETURNING id, name, post_ids, created_at, updated_at`,
		id, name,
	).Scan(&c.ID, &c.Name, &postIDs, &c.CreatedAt, &c.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to rename category: %w", err)
	}

	c.PostIDs = []string(postIDs)
	return c, nil
}

// Delete はpost_idsが空のカテゴリを削除する。
// post_idsが空でも投稿が参照している場合（不整合時）は外部キー制約により削除しない。
func (r *PostgresCategoryRepo) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM categories WHERE id = $1 AND cardinality(post_ids) = 0`,
		id,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to delete category: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n > 0, nil
}

// ListMemberships は全カテゴリのpost_idsをカテゴリIDごとに返す。
func (r *PostgresCategoryRepo) ListMemberships(ctx context.Context) (map[string][]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, post_ids FROM categories`)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	memberships := make(map[string][]string)
	for rows.Next() {
		var id string
		var postIDs pq.StringArray
		if err := rows.Scan(&id, &postIDs); err != nil {
			return nil, fmt.Errorf("failed to scan membership row: %w", err)
		}
		memberships[id] = []string(postIDs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate membership rows: %w", err)
	}

	return memberships, nil
}

// ListCategoryAssignments は全投稿のcategory_idを投稿IDごとに返す。
func (r *PostgresCategoryRepo) ListCategoryAssignments(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, category_id FROM posts`)
	if err != nil {
		return nil, fmt.Errorf("failed to list category assignments: %w", err)
	}
	defer rows.Close()

	assignments := make(map[string]string)
	for rows.Next() {
		var postID, categoryID string
		if err := rows.Scan(&postID, &categoryID); err != nil {
			return nil, fmt.Errorf("failed to scan assignment row: %w", err)
		}
		assignments[postID] = categoryID
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate assignment rows: %w", err)
	}

	return assignments, nil
}

// RecomputeMembership はpostsテーブルからカテゴリのpost_idsを再計算して上書きする。
func (r *PostgresCategoryRepo) RecomputeMembership(ctx context.Context, categoryID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE categories c
		 SET post_ids = COALESCE(
		         (SELECT array_agg(p.id ORDER BY p.created_at, p.id)
		          FROM posts p WHERE p.category_id = c.id),
		         '{}'),
		     updated_at = now()
		 WHERE c.id = $1`,
		categoryID,
	)
	if err != nil {
		return fmt.Errorf("failed to recompute category membership: %w", err)
	}
	return nil
}

// compile-time interface check
var _ CategoryRepository = (*PostgresCategoryRepo)(nil)
var _ MembershipRepository = (*PostgresCategoryRepo)(nil)
