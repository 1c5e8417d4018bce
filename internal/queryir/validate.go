package queryir

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrInvalidIdentifier is returned for a table, alias or column name
	// that cannot be emitted verbatim.
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrEmptyIn is returned for an In predicate without values.
	ErrEmptyIn = errors.New("empty IN set")

	// ErrMissingFilter is returned for an Update without a filter.
	ErrMissingFilter = errors.New("update without filter")

	// ErrMalformed is returned for nil nodes and empty column lists.
	ErrMalformed = errors.New("malformed query")
)

var (
	columnPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*(\.[a-z_][a-z0-9_]*)?$`)
	tablePattern  = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
)

// ValidColumn reports whether name may be emitted as a column reference.
func ValidColumn(name string) bool {
	return columnPattern.MatchString(name)
}

// ValidTable reports whether name may be emitted as a table name or alias.
func ValidTable(name string) bool {
	return tablePattern.MatchString(name)
}

// Validate checks q against the structural rules backends rely on.
// All problems are reported together; each one wraps one of the package
// sentinels so callers can use errors.Is on the result.
func Validate(q Query) error {
	v := &validator{}
	v.query(q)
	return errors.Join(v.errs...)
}

type validator struct {
	errs []error
}

func (v *validator) fail(sentinel error, format string, args ...any) {
	v.errs = append(v.errs, fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...)))
}

func (v *validator) table(name string) {
	if !ValidTable(name) {
		v.fail(ErrInvalidIdentifier, "table %q", name)
	}
}

func (v *validator) column(name string) {
	if !ValidColumn(name) {
		v.fail(ErrInvalidIdentifier, "column %q", name)
	}
}

func (v *validator) query(q Query) {
	switch query := q.(type) {
	case Select:
		v.selectQuery(query)
	case *Select:
		if query == nil {
			v.fail(ErrMalformed, "nil select")
			return
		}
		v.selectQuery(*query)
	case Update:
		v.update(query)
	case *Update:
		if query == nil {
			v.fail(ErrMalformed, "nil update")
			return
		}
		v.update(*query)
	case nil:
		v.fail(ErrMalformed, "nil query")
	default:
		v.fail(ErrMalformed, "unknown query type %T", q)
	}
}

func (v *validator) selectQuery(s Select) {
	v.table(s.From.Name)
	if s.From.Alias != "" {
		v.table(s.From.Alias)
	}
	for _, j := range s.Joins {
		v.table(j.Table.Name)
		if j.Table.Alias != "" {
			v.table(j.Table.Alias)
		}
		if j.On == nil {
			v.fail(ErrMalformed, "join %s without ON", j.Table.Name)
			continue
		}
		v.predicate(j.On)
	}
	if len(s.Columns) == 0 {
		v.fail(ErrMalformed, "select without columns")
	}
	for _, c := range s.Columns {
		v.column(c)
	}
	for _, c := range s.OrderBy {
		v.column(c)
	}
	if s.Filter != nil {
		v.predicate(s.Filter)
	}
}

func (v *validator) update(u Update) {
	v.table(u.Table)
	if len(u.Set) == 0 {
		v.fail(ErrMalformed, "update without assignments")
	}
	for _, a := range u.Set {
		switch as := a.(type) {
		case Set:
			v.column(as.Column)
			if as.Value == nil {
				v.fail(ErrMalformed, "set %s to nil value", as.Column)
			}
		case Increment:
			v.column(as.Column)
		default:
			v.fail(ErrMalformed, "unknown assignment type %T", a)
		}
	}
	if u.Filter == nil {
		v.fail(ErrMissingFilter, "update %s", u.Table)
		return
	}
	v.predicate(u.Filter)
}

func (v *validator) predicate(p Predicate) {
	switch pred := p.(type) {
	case Equals:
		v.column(pred.Field)
		if pred.Value == nil {
			v.fail(ErrMalformed, "equals %s nil value", pred.Field)
		}
	case ColumnEquals:
		v.column(pred.Left)
		v.column(pred.Right)
	case In:
		v.column(pred.Field)
		if len(pred.Values) == 0 {
			v.fail(ErrEmptyIn, "column %s", pred.Field)
		}
	case Between:
		v.column(pred.Field)
		if pred.Low == nil || pred.High == nil {
			v.fail(ErrMalformed, "between %s missing bound", pred.Field)
		}
	case Contains:
		v.column(pred.Field)
	case And:
		for _, sub := range pred.Predicates {
			v.predicate(sub)
		}
	case nil:
		v.fail(ErrMalformed, "nil predicate")
	default:
		v.fail(ErrMalformed, "unknown predicate type %T", p)
	}
}
