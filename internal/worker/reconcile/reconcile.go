// Package reconcile はカテゴリの所属投稿リスト（categories.post_ids）と
// 投稿側のcategory_idの不整合を検出・修復するジョブを提供する。
// 投稿の作成・更新・削除は同一トランザクションで所属リストを更新するため通常は不整合は発生しないが、
// 手動でのデータ修正や過去データの移行後に実行して整合性を確認する。
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hitoshi/blogman/internal/model"
	"github.com/hitoshi/blogman/internal/repository"
)

// DriftRecorder は検出した不整合の件数を記録するインターフェース。
type DriftRecorder interface {
	RecordIntegrityDrift(count int)
}

// ReconcileJob は所属投稿リストの整合性チェックジョブ。
// 冪等: 整合している状態で実行しても何も変更しない。
type ReconcileJob struct {
	repo    repository.MembershipRepository
	logger  *slog.Logger
	metrics DriftRecorder
	DryRun  bool // trueの場合は検出のみ行い修復しない
}

// NewReconcileJob は新しいReconcileJobを生成する。metricsはnilでもよい。
func NewReconcileJob(repo repository.MembershipRepository, logger *slog.Logger, metrics DriftRecorder) *ReconcileJob {
	return &ReconcileJob{
		repo:    repo,
		logger:  logger,
		metrics: metrics,
	}
}

// Run は全カテゴリを走査し、不整合のあったカテゴリごとのIntegrityWarningを返す。
// DryRunでない場合は不整合のあったカテゴリの所属リストをpostsテーブルから再計算する。
func (j *ReconcileJob) Run(ctx context.Context) ([]model.IntegrityWarning, error) {
	start := time.Now()

	memberships, err := j.repo.ListMemberships(ctx)
	if err != nil {
		j.logger.Error("カテゴリ所属リストの取得に失敗しました", slog.String("error", err.Error()))
		return nil, fmt.Errorf("カテゴリ所属リストの取得に失敗: %w", err)
	}
	assignments, err := j.repo.ListCategoryAssignments(ctx)
	if err != nil {
		j.logger.Error("投稿のカテゴリ割り当ての取得に失敗しました", slog.String("error", err.Error()))
		return nil, fmt.Errorf("投稿のカテゴリ割り当ての取得に失敗: %w", err)
	}

	warnings := diffMembership(memberships, assignments)
	for _, w := range warnings {
		j.logger.Warn("カテゴリ所属リストの不整合を検出しました",
			slog.String("category_id", w.CategoryID),
			slog.Any("missing", w.Missing),
			slog.Any("stale", w.Stale),
		)
	}
	if j.metrics != nil && len(warnings) > 0 {
		j.metrics.RecordIntegrityDrift(len(warnings))
	}

	repaired := 0
	if !j.DryRun {
		for _, w := range warnings {
			if err := j.repo.RecomputeMembership(ctx, w.CategoryID); err != nil {
				j.logger.Error("カテゴリ所属リストの修復に失敗しました",
					slog.String("category_id", w.CategoryID),
					slog.String("error", err.Error()),
				)
				return warnings, fmt.Errorf("カテゴリ %s の修復に失敗: %w", w.CategoryID, err)
			}
			repaired++
		}
	}

	j.logger.Info("整合性チェックジョブが完了しました",
		slog.Int("categories", len(memberships)),
		slog.Int("posts", len(assignments)),
		slog.Int("drifted", len(warnings)),
		slog.Int("repaired", repaired),
		slog.Bool("dry_run", j.DryRun),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return warnings, nil
}

// diffMembership は所属リストと投稿側の割り当てを比較し、不整合のあるカテゴリを返す。
// Missingは投稿がカテゴリを参照しているのに所属リストに無いID、
// Staleは所属リストにあるが投稿が参照していないID（重複登録を含む）。
// 結果はカテゴリIDの昇順、各ID列も昇順に並ぶ。
func diffMembership(memberships map[string][]string, assignments map[string]string) []model.IntegrityWarning {
	expected := make(map[string]map[string]bool, len(memberships))
	for postID, categoryID := range assignments {
		if expected[categoryID] == nil {
			expected[categoryID] = make(map[string]bool)
		}
		expected[categoryID][postID] = true
	}

	categoryIDs := make([]string, 0, len(memberships))
	for id := range memberships {
		categoryIDs = append(categoryIDs, id)
	}
	sort.Strings(categoryIDs)

	var warnings []model.IntegrityWarning
	for _, categoryID := range categoryIDs {
		want := expected[categoryID]
		seen := make(map[string]bool)
		var missing, stale []string

		for _, postID := range memberships[categoryID] {
			if !want[postID] || seen[postID] {
				stale = append(stale, postID)
			}
			seen[postID] = true
		}
		for postID := range want {
			if !seen[postID] {
				missing = append(missing, postID)
			}
		}

		if len(missing) == 0 && len(stale) == 0 {
			continue
		}
		sort.Strings(missing)
		sort.Strings(stale)
		warnings = append(warnings, model.IntegrityWarning{
			CategoryID: categoryID,
			Missing:    missing,
			Stale:      stale,
		})
	}
	return warnings
}
