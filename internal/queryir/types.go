package queryir

import "github.com/roach88/flux/internal/ir"

// Query is a sealed interface for statements.
type Query interface {
	queryNode()
}

// Predicate is a sealed interface for filter conditions.
type Predicate interface {
	predicateNode()
}

// Assignment is a sealed interface for the SET items of an Update.
type Assignment interface {
	assignmentNode()
}

// Table names a source table with an optional alias.
type Table struct {
	Name  string
	Alias string
}

// Ref returns the name other clauses use to qualify columns of t.
func (t Table) Ref() string {
	if t.Alias != "" {
		return t.Alias
	}
	return t.Name
}

// Join is an inner join onto the select's source.
type Join struct {
	Table Table
	On    Predicate
}

// Select reads explicit columns from a table and its inner joins.
//
//	SELECT <columns> FROM <from> [JOIN <joins> ON ...] WHERE <filter> ORDER BY <order>
//
// OrderBy lists the sort columns; when empty the backend orders by the
// source's id column so results are always deterministic.
type Select struct {
	From    Table
	Joins   []Join
	Columns []string
	Filter  Predicate // nil = no filter
	OrderBy []string
}

func (Select) queryNode() {}

// Update mutates the rows of Table matched by Filter.
//
//	UPDATE <table> SET <set> WHERE <filter>
type Update struct {
	Table  string
	Set    []Assignment
	Filter Predicate
}

func (Update) queryNode() {}

// Set assigns a literal. IRNull clears the column.
type Set struct {
	Column string
	Value  ir.IRValue
}

func (Set) assignmentNode() {}

// Increment adds By to the current column value in storage.
// It compiles to a single "col = col + ?" so concurrent increments never
// lose an update.
type Increment struct {
	Column string
	By     int64
}

func (Increment) assignmentNode() {}

// Equals compares a column to a literal.
// Equals with IRNull matches rows where the column is NULL.
type Equals struct {
	Field string
	Value ir.IRValue
}

func (Equals) predicateNode() {}

// ColumnEquals compares two columns, typically a join condition.
type ColumnEquals struct {
	Left  string
	Right string
}

func (ColumnEquals) predicateNode() {}

// In matches rows whose column equals any of Values. Values must be non-empty.
type In struct {
	Field  string
	Values []ir.IRValue
}

func (In) predicateNode() {}

// Between matches Low <= column <= High. Both bounds are inclusive.
type Between struct {
	Field string
	Low   ir.IRValue
	High  ir.IRValue
}

func (Between) predicateNode() {}

// Contains matches rows whose text column contains Substring literally and
// case-sensitively. Wildcard characters in Substring have no special meaning.
type Contains struct {
	Field     string
	Substring string
}

func (Contains) predicateNode() {}

// And is a conjunction. An empty And is always true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// AllOf builds an And, dropping nil predicates.
// It returns nil when nothing is left, and the predicate itself when only
// one is left.
func AllOf(preds ...Predicate) Predicate {
	var kept []Predicate
	for _, p := range preds {
		if p != nil {
			kept = append(kept, p)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return And{Predicates: kept}
}

// Int64s converts ids into IRInt values for an In predicate.
func Int64s(vals []int64) []ir.IRValue {
	out := make([]ir.IRValue, len(vals))
	for i, v := range vals {
		out[i] = ir.IRInt(v)
	}
	return out
}

// Strings converts strings into IRString values for an In predicate.
func Strings[S ~string](vals []S) []ir.IRValue {
	out := make([]ir.IRValue, len(vals))
	for i, v := range vals {
		out[i] = ir.IRString(string(v))
	}
	return out
}
