package option

import (
	"fmt"
	"strings"

	"licensing-controlplane/pkg/db/pagination"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueryOption mutates a query before it is executed by a repository.
type QueryOption func(*gorm.DB) *gorm.DB

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

const defaultSortBy = "created_at"

func WithSortBy(s QuerySortBy) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		column := s.SortBy
		if column == "" {
			column = defaultSortBy
		}

		if s.Allow != nil && !s.Allow[column] {
			return db
		}

		direction := "ASC"
		if strings.EqualFold(s.OrderBy, "desc") {
			direction = "DESC"
		}

		return db.Order(fmt.Sprintf("%s %s", column, direction))
	}
}

type Operator string

const (
	EQ   Operator = "="
	NEQ  Operator = "<>"
	GT   Operator = ">"
	GTE  Operator = ">="
	LT   Operator = "<"
	LTE  Operator = "<="
	IN   Operator = "IN"
	LIKE Operator = "LIKE"
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

func ApplyOperator(c Condition) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		switch c.Operator {
		case EQ, NEQ, GT, GTE, LT, LTE, LIKE:
			return db.Where(fmt.Sprintf("%s %s ?", c.Field, c.Operator), c.Value)
		case IN:
			return db.Where(fmt.Sprintf("%s IN ?", c.Field), c.Value)
		default:
			return db
		}
	}
}

// ApplyPagination reads one extra row so callers can derive has_more with
// pagination.BuildCursorPageInfo. Rows are ordered by id, newest first.
func ApplyPagination(p pagination.Pagination) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		limit := p.Limit
		if limit <= 0 {
			limit = 10
		}
		if limit > 250 {
			limit = 250
		}

		if p.Cursor != "" {
			if cursor, err := pagination.DecodeCursor(p.Cursor); err == nil && cursor.ID != "" {
				db = db.Where("id < ?", cursor.ID)
			}
		}

		return db.Order("id DESC").Limit(limit + 1)
	}
}

// LockingUpdate adds SELECT ... FOR UPDATE. Dialects without row locks
// (sqlite) drop the clause.
func LockingUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
}

func WithLockingUpdate() QueryOption {
	return LockingUpdate
}
