// Package schema declares per-stage table contracts: which columns a stage
// requires, which are optional, and how raw source headers resolve onto
// canonical names. Contracts are checked once at stage entry so the
// pipeline stages themselves never probe for column existence.
package schema

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Contract describes the columns a stage expects on its input table.
type Contract struct {
	Table    string
	Required []string
	Optional []string
}

// Validate returns an error naming every required column absent from the
// header. Optional columns are never an error.
func (c Contract) Validate(header []string) error {
	present := make(map[string]bool, len(header))
	for _, col := range header {
		present[col] = true
	}

	var missing []string
	for _, col := range c.Required {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%s: missing required columns: %s", c.Table, strings.Join(missing, ", "))
	}
	return nil
}

// Column maps an ordered list of source header candidates onto one
// canonical name. The first candidate present in the header wins.
type Column struct {
	Canonical  string
	Candidates []string
}

// Resolve maps canonical column names to header indexes. Canonical names
// with no matching candidate are absent from the result; callers decide
// whether that is fatal via a Contract.
func Resolve(header []string, cols []Column) map[string]int {
	index := make(map[string]int, len(header))
	for i, h := range header {
		if _, ok := index[h]; !ok {
			index[h] = i
		}
	}

	out := make(map[string]int, len(cols))
	for _, col := range cols {
		for _, cand := range col.Candidates {
			if i, ok := index[cand]; ok {
				out[col.Canonical] = i
				break
			}
		}
	}
	return out
}

var nonWord = regexp.MustCompile(`\W+`)

// NormalizeHeader lowercases and snake_cases raw sheet headers so candidate
// matching works across export variants ("Member State" -> member_state).
func NormalizeHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		out[i] = nonWord.ReplaceAllString(strings.ToLower(strings.TrimSpace(h)), "_")
	}
	return out
}
