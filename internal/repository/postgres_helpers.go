package repository

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/lib/pq"
)

// PostgreSQLのSQLSTATE。
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// nullString は空文字列をNULLとして扱うsql.NullStringを返す。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// asDuplicateError は一意制約違反のエラーを*DuplicateErrorに変換する。
// 一意制約違反でない場合はnilを返す。
func asDuplicateError(err error) *DuplicateError {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
		return &DuplicateError{Constraint: pqErr.Constraint}
	}
	return nil
}

// likeEscaper はILIKEパターン内のメタ文字をエスケープする。
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern は部分一致用のILIKEパターンを生成する。
func containsPattern(term string) string {
	return "%" + likeEscaper.Replace(term) + "%"
}

// isForeignKeyViolation は外部キー制約違反かどうかを判定する。
func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pqForeignKeyViolation
}
