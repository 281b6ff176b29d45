// Package sql implements the engine's SELECT evaluator: parse (via TiDB's
// standalone SQL parser), plan (index scan vs table scan), filter, order,
// limit and project, exactly the subset of SQL spec.md names.
package sql

import (
	"sort"
	"strconv"
	"strings"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/format"
	"github.com/pingcap/tidb/pkg/parser/opcode"
	// Blank-imported for its init() side effect: it registers the concrete
	// ast.NewValueExpr implementation the parser needs to build literal
	// nodes. Mirrors the teacher pack's own use of this parser for DDL.
	_ "github.com/pingcap/tidb/pkg/parser/test_driver"

	"github.com/tonledb/tonle/pkg/catalog"
	"github.com/tonledb/tonle/pkg/errors"
	"github.com/tonledb/tonle/pkg/index"
	"github.com/tonledb/tonle/pkg/storage"
	"github.com/tonledb/tonle/pkg/types"
)

// PlanKind names which access path a query took, exposed so tests can
// assert the planner chose an index scan where one was expected.
type PlanKind int

const (
	TableScan PlanKind = iota
	IndexScan
)

func (k PlanKind) String() string {
	if k == IndexScan {
		return "IndexScan"
	}
	return "TableScan"
}

// Plan records the access path chosen for one Execute call.
type Plan struct {
	Kind        PlanKind
	Table       string
	IndexColumn string
}

// Evaluator runs SELECT statements against a catalog-described set of
// tables stored in the data space.
type Evaluator struct {
	store   storage.Storage
	catalog *catalog.Catalog

	// LastPlan records the plan of the most recently executed query, the
	// "planner trace hook" spec.md's concrete scenario 3 asks tests to
	// observe.
	LastPlan Plan
}

// New returns an Evaluator over store and cat.
func New(store storage.Storage, cat *catalog.Catalog) *Evaluator {
	return &Evaluator{store: store, catalog: cat}
}

// Execute parses and runs exactly one SELECT statement, returning its
// result as a slice of JSON-shaped row objects.
func (e *Evaluator) Execute(text string) ([]map[string]any, error) {
	stmt, err := parseSelect(text)
	if err != nil {
		return nil, err
	}

	table, err := tableName(stmt)
	if err != nil {
		return nil, err
	}
	schema, ok := e.catalog.GetTable(table)
	if !ok {
		return nil, &errors.TableNotFoundError{Name: table}
	}

	plan := e.choosePlan(table, stmt.Where)
	e.LastPlan = plan

	rows, err := e.gatherRows(plan, table, stmt.Where)
	if err != nil {
		return nil, err
	}

	if stmt.Where != nil {
		filtered := make([]*types.Row, 0, len(rows))
		for _, r := range rows {
			ok, err := evalPredicate(stmt.Where, r)
			if err != nil {
				return nil, err
			}
			if ok {
				filtered = append(filtered, r)
			}
		}
		rows = filtered
	}

	if stmt.OrderBy != nil {
		if len(stmt.OrderBy.Items) != 1 {
			return nil, errors.Invalid("ORDER BY supports exactly one column")
		}
		item := stmt.OrderBy.Items[0]
		col, ok := columnNameOf(item.Expr)
		if !ok {
			return nil, errors.Invalid("ORDER BY target must be a column")
		}
		sort.SliceStable(rows, func(i, j int) bool {
			cmp := compareForOrder(rows[i].Get(col), rows[j].Get(col))
			if item.Desc {
				return cmp > 0
			}
			return cmp < 0
		})
	}

	if stmt.Limit != nil {
		n, err := limitCount(stmt.Limit)
		if err != nil {
			return nil, err
		}
		if n < int64(len(rows)) {
			rows = rows[:n]
		}
	}

	return project(stmt, schema, rows)
}

func parseSelect(text string) (*ast.SelectStmt, error) {
	p := parser.New()
	stmts, _, err := p.Parse(text, "", "")
	if err != nil {
		return nil, errors.InvalidWrap("SQL parse error", err)
	}
	if len(stmts) != 1 {
		return nil, errors.Invalid("expected exactly one statement")
	}
	sel, ok := stmts[0].(*ast.SelectStmt)
	if !ok {
		return nil, errors.Invalid("only SELECT statements are supported")
	}
	return sel, nil
}

func tableName(stmt *ast.SelectStmt) (string, error) {
	if stmt.From == nil || stmt.From.TableRefs == nil {
		return "", errors.Invalid("SELECT requires a FROM clause")
	}
	src, ok := stmt.From.TableRefs.Left.(*ast.TableSource)
	if !ok {
		return "", errors.Invalid("unsupported FROM clause: only a single table is supported")
	}
	tn, ok := src.Source.(*ast.TableName)
	if !ok {
		return "", errors.Invalid("unsupported FROM clause: only a single table is supported")
	}
	return tn.Name.O, nil
}

// choosePlan implements spec.md's planning rule: a conjunction-free
// `col = literal` predicate over an indexed column takes an index scan;
// everything else takes a table scan.
func (e *Evaluator) choosePlan(table string, where ast.ExprNode) Plan {
	if where != nil {
		if col, _, ok := asEqColumnLiteral(where); ok {
			if _, has := e.catalog.GetIndex(table, col); has {
				return Plan{Kind: IndexScan, Table: table, IndexColumn: col}
			}
		}
	}
	return Plan{Kind: TableScan, Table: table}
}

func (e *Evaluator) gatherRows(plan Plan, table string, where ast.ExprNode) ([]*types.Row, error) {
	if plan.Kind == TableScan {
		entries, err := e.store.ScanPrefix(storage.SpaceData, []byte("tbl/"+table+"/"))
		if err != nil {
			return nil, err
		}
		rows := make([]*types.Row, 0, len(entries))
		for _, ent := range entries {
			row, err := types.DecodeRow(ent.Value)
			if err != nil {
				return nil, errors.InvalidWrap("failed to decode stored row", err)
			}
			rows = append(rows, row)
		}
		return rows, nil
	}

	def, _ := e.catalog.GetIndex(table, plan.IndexColumn)
	_, literal, _ := asEqColumnLiteral(where)
	m := index.New(e.store, def)
	rowKeys, err := m.FindRows(literal)
	if err != nil {
		return nil, err
	}

	rows := make([]*types.Row, 0, len(rowKeys))
	for _, rk := range rowKeys {
		raw, ok, err := e.store.Get(storage.SpaceData, rk)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		row, err := types.DecodeRow(raw)
		if err != nil {
			return nil, errors.InvalidWrap("failed to decode stored row", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func project(stmt *ast.SelectStmt, schema catalog.TableSchema, rows []*types.Row) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(rows))

	wildcard := len(stmt.Fields.Fields) == 1 && stmt.Fields.Fields[0].WildCard != nil
	if wildcard {
		for _, r := range rows {
			obj := make(map[string]any, len(schema.Columns))
			for _, col := range schema.ColumnNames() {
				obj[col] = r.Get(col).PlainValue()
			}
			out = append(out, obj)
		}
		return out, nil
	}

	type projCol struct {
		col   string
		alias string
	}
	cols := make([]projCol, 0, len(stmt.Fields.Fields))
	for _, f := range stmt.Fields.Fields {
		col, ok := columnNameOf(f.Expr)
		if !ok {
			return nil, errors.Invalid("unsupported projection: only plain columns or '*' are supported")
		}
		alias := col
		if f.AsName.O != "" {
			alias = f.AsName.O
		}
		cols = append(cols, projCol{col: col, alias: alias})
	}

	for _, r := range rows {
		obj := make(map[string]any, len(cols))
		for _, c := range cols {
			obj[c.alias] = r.Get(c.col).PlainValue()
		}
		out = append(out, obj)
	}
	return out, nil
}

func limitCount(limit *ast.Limit) (int64, error) {
	lit, ok := literalValue(limit.Count)
	if !ok {
		return 0, errors.Invalid("LIMIT must be a literal integer")
	}
	return lit.Int64(), nil
}

func columnNameOf(expr ast.ExprNode) (string, bool) {
	switch e := expr.(type) {
	case *ast.ColumnNameExpr:
		return e.Name.Name.O, true
	case *ast.ParenthesesExpr:
		return columnNameOf(e.Expr)
	default:
		return "", false
	}
}

// asEqColumnLiteral reports whether expr is exactly `col = literal` (or
// `literal = col`), possibly parenthesized, the only shape the planner
// will route to an index scan.
func asEqColumnLiteral(expr ast.ExprNode) (col string, lit types.Value, ok bool) {
	if p, isParen := expr.(*ast.ParenthesesExpr); isParen {
		return asEqColumnLiteral(p.Expr)
	}
	bin, isBin := expr.(*ast.BinaryOperationExpr)
	if !isBin || bin.Op != opcode.EQ {
		return "", types.Value{}, false
	}
	if c, isCol := columnNameOf(bin.L); isCol {
		if v, isLit := literalValue(bin.R); isLit {
			return c, v, true
		}
	}
	if c, isCol := columnNameOf(bin.R); isCol {
		if v, isLit := literalValue(bin.L); isLit {
			return c, v, true
		}
	}
	return "", types.Value{}, false
}

// literalValue restores expr to SQL text and reparses it as a typed Value,
// the same Restore-based technique the teacher pack uses to read literal
// table-option values out of the TiDB AST without depending on its
// internal Datum representation.
func literalValue(expr ast.ExprNode) (types.Value, bool) {
	var sb strings.Builder
	ctx := format.NewRestoreCtx(format.DefaultRestoreFlags, &sb)
	if err := expr.Restore(ctx); err != nil {
		return types.Value{}, false
	}
	s := strings.TrimSpace(sb.String())

	if strings.EqualFold(s, "NULL") {
		return types.Null(), true
	}
	if unquoted, wasString, ok := tryUnquote(s); ok {
		if wasString {
			return types.StringValue(unquoted), true
		}
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return types.Int64Value(i), true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return types.Float64Value(f), true
	}
	if strings.EqualFold(s, "TRUE") {
		return types.BoolValue(true), true
	}
	if strings.EqualFold(s, "FALSE") {
		return types.BoolValue(false), true
	}
	return types.Value{}, false
}

func tryUnquote(s string) (unquoted string, wasString, ok bool) {
	if len(s) < 2 || s[0] != '\'' || s[len(s)-1] != '\'' {
		return "", false, false
	}
	inner := s[1 : len(s)-1]
	return strings.ReplaceAll(inner, "''", "'"), true, true
}

// evalPredicate evaluates the restricted predicate grammar spec.md allows:
// column identifiers, literals, parentheses, NOT, and the six comparison
// operators. Missing columns read as Null; comparisons against Null yield
// false.
func evalPredicate(expr ast.ExprNode, row *types.Row) (bool, error) {
	switch e := expr.(type) {
	case *ast.ParenthesesExpr:
		return evalPredicate(e.Expr, row)

	case *ast.UnaryOperationExpr:
		if e.Op != opcode.Not {
			return false, errors.Invalid("unsupported unary operator in predicate")
		}
		inner, err := evalPredicate(e.V, row)
		if err != nil {
			return false, err
		}
		return !inner, nil

	case *ast.BinaryOperationExpr:
		switch e.Op {
		case opcode.EQ, opcode.NE, opcode.LT, opcode.LE, opcode.GT, opcode.GE:
		default:
			return false, errors.Invalid("unsupported comparison operator in predicate")
		}
		left, leftNull := resolveOperand(e.L, row)
		right, rightNull := resolveOperand(e.R, row)
		if leftNull || rightNull {
			return false, nil
		}
		cmp := left.Compare(right)
		switch e.Op {
		case opcode.EQ:
			return cmp == 0, nil
		case opcode.NE:
			return cmp != 0, nil
		case opcode.LT:
			return cmp < 0, nil
		case opcode.LE:
			return cmp <= 0, nil
		case opcode.GT:
			return cmp > 0, nil
		case opcode.GE:
			return cmp >= 0, nil
		default:
			return false, errors.Invalid("unsupported comparison operator in predicate")
		}

	default:
		return false, errors.Invalid("unsupported construct in WHERE clause")
	}
}

func resolveOperand(expr ast.ExprNode, row *types.Row) (types.Value, bool) {
	if col, ok := columnNameOf(expr); ok {
		v := row.Get(col)
		return v, v.IsNull()
	}
	if lit, ok := literalValue(expr); ok {
		return lit, lit.IsNull()
	}
	return types.Null(), true
}

// compareForOrder implements spec.md's ORDER BY policy: Null sorts less
// than any non-null value; otherwise Value.Compare's usual rules apply.
func compareForOrder(a, b types.Value) int {
	if a.IsNull() && b.IsNull() {
		return 0
	}
	if a.IsNull() {
		return -1
	}
	if b.IsNull() {
		return 1
	}
	return a.Compare(b)
}
