// Package transform inserts coverage tracking calls into a Lua AST.
//
// For every executable statement the transformer synthesizes a call to
// the runtime hook and splices it immediately before the statement in
// its enclosing block. The runtime symbol is reserved by the engine and
// installed by the coverage loader before any instrumented file runs.
package transform

import (
	"strconv"

	"github.com/luakit/luacov-instrument/pkg/ast"
	"github.com/luakit/luacov-instrument/pkg/errors"
)

const (
	// TrackingNamespace is the reserved global holding the runtime hook
	TrackingNamespace = "__coverage_tracker"

	// TrackingFunc is the hook invoked with the original line number
	TrackingFunc = "track"
)

// TrackingMarker is the literal substring that identifies a tracking
// call in instrumented text. The source-map builder searches for it
// verbatim; no pattern matching is involved.
const TrackingMarker = TrackingNamespace + "." + TrackingFunc

// HintMap is the construction-time line correspondence built while the
// AST is rewritten. It mirrors what the code generator is expected to
// emit and is best-effort only: the authoritative map is rebuilt from
// the generated text by pkg/sourcemap.
type HintMap struct {
	OriginalToInstrumented map[int]int
	InstrumentedToOriginal map[int]int
	TrackingLookup         map[int]struct{}
	CurrentLine            int
}

// NewHintMap returns an empty hint map with the line counter at 1
func NewHintMap() *HintMap {
	return &HintMap{
		OriginalToInstrumented: make(map[int]int),
		InstrumentedToOriginal: make(map[int]int),
		TrackingLookup:         make(map[int]struct{}),
		CurrentLine:            1,
	}
}

// Transformer rewrites an AST in place. It holds no state across calls
// to Transform; each call builds a fresh hint map.
type Transformer struct{}

// New creates a new transformer
func New() *Transformer {
	return &Transformer{}
}

// Transform walks the AST post-order, inserting a tracking call before
// every executable statement, and returns the rewritten root together
// with the hint map. A nil root is a precondition violation.
func (t *Transformer) Transform(root *ast.Block) (*ast.Block, *HintMap, error) {
	if root == nil {
		return nil, nil, errors.New(errors.Validation, "cannot transform nil AST")
	}
	hints := NewHintMap()
	w := &walker{hints: hints}
	return w.block(root), hints, nil
}

type walker struct {
	hints *HintMap
}

// block rebuilds the statement list of b with tracking calls spliced in.
// Children are handled while walking each statement, so insertions never
// disturb an in-flight iteration.
func (w *walker) block(b *ast.Block) *ast.Block {
	out := make([]ast.Stmt, 0, len(b.Stmts)*2)
	for _, s := range b.Stmts {
		if line := s.Line(); line > 0 && isExecutable(s) {
			trackLine := w.hints.CurrentLine
			w.hints.TrackingLookup[trackLine] = struct{}{}
			if _, seen := w.hints.OriginalToInstrumented[line]; !seen {
				w.hints.OriginalToInstrumented[line] = trackLine + 1
				w.hints.InstrumentedToOriginal[trackLine+1] = line
			}
			w.hints.CurrentLine++
			out = append(out, trackCall(line, s.Pos()))
		}
		w.stmt(s)
		out = append(out, s)
	}
	return &ast.Block{Stmts: out, StartPos: b.StartPos, Trailing: b.Trailing}
}

// stmt advances the line counter past the statement's own lines and
// recurses into nested blocks and function-literal bodies.
func (w *walker) stmt(s ast.Stmt) {
	switch s := s.(type) {
	case *ast.LocalStmt:
		w.hints.CurrentLine++
		w.exprs(s.Values...)

	case *ast.LocalFuncStmt:
		w.hints.CurrentLine++
		s.Func.Body = w.block(s.Func.Body)
		w.hints.CurrentLine++ // end

	case *ast.FuncStmt:
		w.hints.CurrentLine++
		s.Func.Body = w.block(s.Func.Body)
		w.hints.CurrentLine++ // end

	case *ast.AssignStmt:
		w.hints.CurrentLine++
		w.exprs(s.Values...)

	case *ast.ReturnStmt:
		w.hints.CurrentLine++
		w.exprs(s.Results...)

	case *ast.BreakStmt:
		w.hints.CurrentLine++

	case *ast.ExprStmt:
		w.hints.CurrentLine++
		w.exprs(s.X)

	case *ast.DoStmt:
		w.hints.CurrentLine++
		s.Body = w.block(s.Body)
		w.hints.CurrentLine++ // end

	case *ast.WhileStmt:
		w.hints.CurrentLine++
		w.exprs(s.Cond)
		s.Body = w.block(s.Body)
		w.hints.CurrentLine++ // end

	case *ast.RepeatStmt:
		w.hints.CurrentLine++
		s.Body = w.block(s.Body)
		w.hints.CurrentLine++ // until
		w.exprs(s.Cond)

	case *ast.IfStmt:
		w.hints.CurrentLine++
		w.exprs(s.Cond)
		s.Body = w.block(s.Body)
		for _, clause := range s.ElseIfs {
			w.hints.CurrentLine++
			w.exprs(clause.Cond)
			clause.Body = w.block(clause.Body)
		}
		if s.Else != nil {
			w.hints.CurrentLine++
			s.Else = w.block(s.Else)
		}
		w.hints.CurrentLine++ // end

	case *ast.NumericForStmt:
		w.hints.CurrentLine++
		w.exprs(s.Start, s.Finish)
		if s.Step != nil {
			w.exprs(s.Step)
		}
		s.Body = w.block(s.Body)
		w.hints.CurrentLine++ // end

	case *ast.GenericForStmt:
		w.hints.CurrentLine++
		w.exprs(s.Exprs...)
		s.Body = w.block(s.Body)
		w.hints.CurrentLine++ // end
	}
}

// exprs transforms function-literal bodies found inside expressions.
// Each literal contributes its body lines plus one line for its `end`.
func (w *walker) exprs(es ...ast.Expr) {
	for _, e := range es {
		if e == nil {
			continue
		}
		ast.Inspect(e, func(n ast.Node) bool {
			if fe, ok := n.(*ast.FuncExpr); ok {
				fe.Body = w.block(fe.Body)
				w.hints.CurrentLine++ // end
				return false
			}
			return true
		})
	}
}

// isExecutable reports whether the statement kind receives a tracking
// prefix. Plain function declarations count as assignments, and local
// function declarations as local-rec declarations; do blocks and break
// are structural and stay untracked.
func isExecutable(s ast.Stmt) bool {
	switch s.(type) {
	case *ast.LocalStmt, *ast.LocalFuncStmt, *ast.AssignStmt, *ast.FuncStmt,
		*ast.ReturnStmt, *ast.IfStmt, *ast.NumericForStmt,
		*ast.GenericForStmt, *ast.RepeatStmt, *ast.WhileStmt,
		*ast.ExprStmt:
		return true
	}
	return false
}

// trackCall synthesizes `__coverage_tracker.track(line)`; its position,
// and therefore its reported line, is inherited from the statement it
// precedes.
func trackCall(line int, pos ast.Position) ast.Stmt {
	call := &ast.CallExpr{
		Fun: &ast.IndexExpr{
			X:        &ast.Ident{Name: TrackingNamespace, StartPos: pos},
			Index:    &ast.StringLit{Value: TrackingFunc, StartPos: pos},
			StartPos: pos,
		},
		Args:     []ast.Expr{&ast.NumberLit{Value: strconv.Itoa(line), StartPos: pos}},
		StartPos: pos,
	}
	st := &ast.ExprStmt{X: call}
	st.StartPos = pos
	return st
}
