// Package option provides composable gorm query options.
package option

import (
	"fmt"

	"gorm.io/gorm"
)

type Operator string

const (
	EQ  Operator = "="
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
)

type QueryOption interface {
	Apply(*gorm.DB) *gorm.DB
}

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

func (c Condition) Apply(db *gorm.DB) *gorm.DB {
	return db.Where(fmt.Sprintf("%s %s ?", c.Field, c.Operator), c.Value)
}

// ApplyOperator wraps a Condition as a QueryOption.
func ApplyOperator(c Condition) QueryOption { return c }

type QuerySortBy struct {
	Field string
	Desc  bool
	// Allow whitelists sortable columns; unknown fields are ignored.
	Allow map[string]bool
}

func (s QuerySortBy) Apply(db *gorm.DB) *gorm.DB {
	if s.Field == "" {
		return db
	}
	if s.Allow != nil && !s.Allow[s.Field] {
		return db
	}
	direction := "ASC"
	if s.Desc {
		direction = "DESC"
	}
	return db.Order(fmt.Sprintf("%s %s", s.Field, direction))
}

// WithSortBy wraps a QuerySortBy as a QueryOption.
func WithSortBy(s QuerySortBy) QueryOption { return s }

type limitOption struct {
	limit int
}

func (l limitOption) Apply(db *gorm.DB) *gorm.DB {
	if l.limit <= 0 {
		return db
	}
	return db.Limit(l.limit)
}

// WithLimit caps the number of returned rows.
func WithLimit(limit int) QueryOption { return limitOption{limit: limit} }
