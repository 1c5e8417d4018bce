package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/flux/internal/ir"
	"github.com/roach88/flux/internal/queryir"
)

// ErrEmptyIn is returned when an In predicate without values reaches the
// compiler. Callers short-circuit empty sets before building a query.
var ErrEmptyIn = queryir.ErrEmptyIn


// SQLCompiler compiles QueryIR to parameterized SQL for SQLite.
//
// Every value is a ? placeholder, identifiers are validated before they are
// emitted, and every SELECT carries an ORDER BY with COLLATE BINARY so result
// order never depends on the query plan.
type SQLCompiler struct{}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{}
}

// Compile converts a query to SQL and its bound parameters.
func (c *SQLCompiler) Compile(q queryir.Query) (string, []any, error) {
	if err := queryir.Validate(q); err != nil {
		return "", nil, fmt.Errorf("compile: %w", err)
	}

	switch query := q.(type) {
	case queryir.Select:
		return c.compileSelect(query)
	case *queryir.Select:
		return c.compileSelect(*query)
	case queryir.Update:
		return c.compileUpdate(query)
	case *queryir.Update:
		return c.compileUpdate(*query)
	default:
		return "", nil, fmt.Errorf("unsupported query type: %T", q)
	}
}

func (c *SQLCompiler) compileSelect(q queryir.Select) (string, []any, error) {
	var b strings.Builder
	var params []any

	b.WriteString("SELECT ")
	b.WriteString(strings.Join(q.Columns, ", "))
	b.WriteString(" FROM ")
	b.WriteString(tableClause(q.From))

	for _, j := range q.Joins {
		on, onParams, err := c.compilePredicate(j.On)
		if err != nil {
			return "", nil, fmt.Errorf("compile join %s: %w", j.Table.Name, err)
		}
		b.WriteString(" INNER JOIN ")
		b.WriteString(tableClause(j.Table))
		b.WriteString(" ON ")
		b.WriteString(on)
		params = append(params, onParams...)
	}

	if q.Filter != nil {
		where, whereParams, err := c.compilePredicate(q.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		b.WriteString(" WHERE ")
		b.WriteString(where)
		params = append(params, whereParams...)
	}

	b.WriteString(" ORDER BY ")
	b.WriteString(c.orderBy(q))

	return b.String(), params, nil
}

// orderBy returns the ORDER BY list. Selects without an explicit order are
// ordered by the source's id column.
func (c *SQLCompiler) orderBy(q queryir.Select) string {
	cols := q.OrderBy
	if len(cols) == 0 {
		if q.From.Alias != "" || len(q.Joins) > 0 {
			cols = []string{q.From.Ref() + ".id"}
		} else {
			cols = []string{"id"}
		}
	}
	parts := make([]string, len(cols))
	for i, col := range cols {
		parts[i] = col + " ASC COLLATE BINARY"
	}
	return strings.Join(parts, ", ")
}

func tableClause(t queryir.Table) string {
	if t.Alias == "" {
		return t.Name
	}
	return t.Name + " AS " + t.Alias
}

func (c *SQLCompiler) compileUpdate(q queryir.Update) (string, []any, error) {
	var sets []string
	var params []any

	for _, a := range q.Set {
		switch as := a.(type) {
		case queryir.Set:
			param, err := irValueToParam(as.Value)
			if err != nil {
				return "", nil, fmt.Errorf("set %s: %w", as.Column, err)
			}
			sets = append(sets, as.Column+" = ?")
			params = append(params, param)
		case queryir.Increment:
			sets = append(sets, fmt.Sprintf("%s = %s + ?", as.Column, as.Column))
			params = append(params, as.By)
		default:
			return "", nil, fmt.Errorf("unsupported assignment type: %T", a)
		}
	}

	where, whereParams, err := c.compilePredicate(q.Filter)
	if err != nil {
		return "", nil, fmt.Errorf("compile filter: %w", err)
	}
	params = append(params, whereParams...)

	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s", q.Table, strings.Join(sets, ", "), where)
	return sql, params, nil
}

// compilePredicate compiles a predicate to a WHERE fragment.
// Values are never interpolated.
func (c *SQLCompiler) compilePredicate(p queryir.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case queryir.Equals:
		if _, ok := pred.Value.(ir.IRNull); ok {
			return pred.Field + " IS NULL", nil, nil
		}
		param, err := irValueToParam(pred.Value)
		if err != nil {
			return "", nil, fmt.Errorf("%s: %w", pred.Field, err)
		}
		return pred.Field + " = ?", []any{param}, nil

	case queryir.ColumnEquals:
		return pred.Left + " = " + pred.Right, nil, nil

	case queryir.In:
		if len(pred.Values) == 0 {
			return "", nil, fmt.Errorf("%w: %s", ErrEmptyIn, pred.Field)
		}
		params := make([]any, len(pred.Values))
		for i, v := range pred.Values {
			param, err := irValueToParam(v)
			if err != nil {
				return "", nil, fmt.Errorf("%s[%d]: %w", pred.Field, i, err)
			}
			params[i] = param
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(params)), ", ")
		return fmt.Sprintf("%s IN (%s)", pred.Field, placeholders), params, nil

	case queryir.Between:
		low, err := irValueToParam(pred.Low)
		if err != nil {
			return "", nil, fmt.Errorf("%s low: %w", pred.Field, err)
		}
		high, err := irValueToParam(pred.High)
		if err != nil {
			return "", nil, fmt.Errorf("%s high: %w", pred.Field, err)
		}
		return pred.Field + " BETWEEN ? AND ?", []any{low, high}, nil

	case queryir.Contains:
		// instr compares bytes: case-sensitive, no wildcards.
		return fmt.Sprintf("instr(%s, ?) > 0", pred.Field), []any{pred.Substring}, nil

	case queryir.And:
		if len(pred.Predicates) == 0 {
			return "1 = 1", nil, nil
		}
		var parts []string
		var params []any
		for _, sub := range pred.Predicates {
			sql, subParams, err := c.compilePredicate(sub)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, sql)
			params = append(params, subParams...)
		}
		return strings.Join(parts, " AND "), params, nil

	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

// irValueToParam converts an ir.IRValue to a driver parameter.
func irValueToParam(v ir.IRValue) (any, error) {
	switch val := v.(type) {
	case ir.IRString:
		return string(val), nil
	case ir.IRInt:
		return int64(val), nil
	case ir.IRBool:
		return bool(val), nil
	case ir.IRNull:
		return nil, nil
	case ir.IRArray:
		return nil, fmt.Errorf("IRArray cannot be used as SQL parameter directly")
	case ir.IRObject:
		return nil, fmt.Errorf("IRObject cannot be used as SQL parameter directly")
	default:
		return nil, fmt.Errorf("unsupported IRValue type for SQL parameter: %T", v)
	}
}
