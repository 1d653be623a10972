package models

import (
	"database/sql/driver"
	"strings"

	"github.com/lib/pq"
)

// SkillSet is a TEXT[] column of normalized skill tags
type SkillSet []string

// Value implements the driver.Valuer interface
func (s SkillSet) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return pq.Array([]string(s)).Value()
}

// Scan implements the sql.Scanner interface
func (s *SkillSet) Scan(src interface{}) error {
	if src == nil {
		*s = nil
		return nil
	}
	slice := (*[]string)(s)
	return pq.Array(slice).Scan(src)
}

// Normalized returns lower-cased, trimmed, de-duplicated tags
func (s SkillSet) Normalized() SkillSet {
	seen := make(map[string]struct{}, len(s))
	out := make(SkillSet, 0, len(s))
	for _, tag := range s {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// Intersects reports whether the two sets share at least one tag
func (s SkillSet) Intersects(other SkillSet) bool {
	if len(s) == 0 || len(other) == 0 {
		return false
	}
	mine := make(map[string]struct{}, len(s))
	for _, tag := range s.Normalized() {
		mine[tag] = struct{}{}
	}
	for _, tag := range other.Normalized() {
		if _, ok := mine[tag]; ok {
			return true
		}
	}
	return false
}
