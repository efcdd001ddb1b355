// Package generator serializes a Lua AST back to source text.
//
// Output discipline: one statement per line, two-space indentation per
// nesting level, attached comments re-emitted before their statement.
// The result is accepted by a stock Lua interpreter and is semantically
// equivalent to the parsed input; formatting is normalized, not
// preserved.
package generator

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/luakit/luacov-instrument/pkg/ast"
	"github.com/luakit/luacov-instrument/pkg/errors"
)

// Generator emits Lua source from an AST
type Generator struct {
	buf    bytes.Buffer
	indent int
	err    error
}

// New creates a new generator
func New() *Generator {
	return &Generator{}
}

// Generate converts the root block to Lua source text
func (g *Generator) Generate(root *ast.Block) ([]byte, error) {
	if root == nil {
		return nil, errors.New(errors.Codegen, "cannot generate from nil AST")
	}
	g.buf.Reset()
	g.indent = 0
	g.err = nil
	g.writeBlock(root)
	if g.err != nil {
		return nil, g.err
	}
	return g.buf.Bytes(), nil
}

func (g *Generator) fail(n ast.Node) {
	if g.err == nil {
		g.err = errors.Newf(errors.Codegen, "unsupported node %T", n)
	}
}

func (g *Generator) pad() {
	for i := 0; i < g.indent; i++ {
		g.buf.WriteString("  ")
	}
}

func (g *Generator) writeBlock(b *ast.Block) {
	for _, s := range b.Stmts {
		g.writeStmt(s)
	}
	for _, cm := range b.Trailing {
		g.pad()
		if cm.Kind == ast.CommentBlock {
			g.buf.WriteString("--[[")
			g.buf.WriteString(cm.Text)
			g.buf.WriteString("]]")
		} else {
			g.buf.WriteString("--")
			g.buf.WriteString(cm.Text)
		}
		g.buf.WriteByte('\n')
	}
}

func (g *Generator) writeComments(s ast.Stmt) {
	c, ok := s.(ast.Commented)
	if !ok {
		return
	}
	for _, cm := range c.AttachedComments() {
		g.pad()
		if cm.Kind == ast.CommentBlock {
			g.buf.WriteString("--[[")
			g.buf.WriteString(cm.Text)
			g.buf.WriteString("]]")
		} else {
			g.buf.WriteString("--")
			g.buf.WriteString(cm.Text)
		}
		g.buf.WriteByte('\n')
	}
}

func (g *Generator) writeStmt(s ast.Stmt) {
	g.writeComments(s)
	g.pad()

	switch s := s.(type) {
	case *ast.LocalStmt:
		g.buf.WriteString("local ")
		g.writeIdentList(s.Names)
		if len(s.Values) > 0 {
			g.buf.WriteString(" = ")
			g.writeExprList(s.Values)
		}

	case *ast.LocalFuncStmt:
		g.buf.WriteString("local function ")
		g.buf.WriteString(s.Name.Name)
		g.writeFuncTail(s.Func)

	case *ast.FuncStmt:
		g.buf.WriteString("function ")
		g.writeExpr(s.Name)
		if s.Method != nil {
			g.buf.WriteByte(':')
			g.buf.WriteString(s.Method.Name)
		}
		g.writeFuncTail(s.Func)

	case *ast.AssignStmt:
		g.writeExprList(s.Targets)
		g.buf.WriteString(" = ")
		g.writeExprList(s.Values)

	case *ast.ReturnStmt:
		g.buf.WriteString("return")
		if len(s.Results) > 0 {
			g.buf.WriteByte(' ')
			g.writeExprList(s.Results)
		}

	case *ast.BreakStmt:
		g.buf.WriteString("break")

	case *ast.DoStmt:
		g.buf.WriteString("do\n")
		g.indented(s.Body)
		g.pad()
		g.buf.WriteString("end")

	case *ast.WhileStmt:
		g.buf.WriteString("while ")
		g.writeExpr(s.Cond)
		g.buf.WriteString(" do\n")
		g.indented(s.Body)
		g.pad()
		g.buf.WriteString("end")

	case *ast.RepeatStmt:
		g.buf.WriteString("repeat\n")
		g.indented(s.Body)
		g.pad()
		g.buf.WriteString("until ")
		g.writeExpr(s.Cond)

	case *ast.IfStmt:
		g.buf.WriteString("if ")
		g.writeExpr(s.Cond)
		g.buf.WriteString(" then\n")
		g.indented(s.Body)
		for _, clause := range s.ElseIfs {
			g.pad()
			g.buf.WriteString("elseif ")
			g.writeExpr(clause.Cond)
			g.buf.WriteString(" then\n")
			g.indented(clause.Body)
		}
		if s.Else != nil {
			g.pad()
			g.buf.WriteString("else\n")
			g.indented(s.Else)
		}
		g.pad()
		g.buf.WriteString("end")

	case *ast.NumericForStmt:
		g.buf.WriteString("for ")
		g.buf.WriteString(s.Var.Name)
		g.buf.WriteString(" = ")
		g.writeExpr(s.Start)
		g.buf.WriteString(", ")
		g.writeExpr(s.Finish)
		if s.Step != nil {
			g.buf.WriteString(", ")
			g.writeExpr(s.Step)
		}
		g.buf.WriteString(" do\n")
		g.indented(s.Body)
		g.pad()
		g.buf.WriteString("end")

	case *ast.GenericForStmt:
		g.buf.WriteString("for ")
		g.writeIdentList(s.Names)
		g.buf.WriteString(" in ")
		g.writeExprList(s.Exprs)
		g.buf.WriteString(" do\n")
		g.indented(s.Body)
		g.pad()
		g.buf.WriteString("end")

	case *ast.ExprStmt:
		g.writeExpr(s.X)

	default:
		g.fail(s)
	}
	g.buf.WriteByte('\n')
}

func (g *Generator) indented(b *ast.Block) {
	g.indent++
	g.writeBlock(b)
	g.indent--
}

// writeFuncTail emits `(params)` plus the body and closing end for a
// function whose header is already written.
func (g *Generator) writeFuncTail(fn *ast.FuncExpr) {
	g.writeParams(fn)
	g.buf.WriteByte('\n')
	g.indented(fn.Body)
	g.pad()
	g.buf.WriteString("end")
}

func (g *Generator) writeParams(fn *ast.FuncExpr) {
	g.buf.WriteByte('(')
	for i, p := range fn.Params {
		if i > 0 {
			g.buf.WriteString(", ")
		}
		g.buf.WriteString(p.Name)
	}
	if fn.IsVararg {
		if len(fn.Params) > 0 {
			g.buf.WriteString(", ")
		}
		g.buf.WriteString("...")
	}
	g.buf.WriteByte(')')
}

func (g *Generator) writeIdentList(ids []*ast.Ident) {
	for i, id := range ids {
		if i > 0 {
			g.buf.WriteString(", ")
		}
		g.buf.WriteString(id.Name)
	}
}

func (g *Generator) writeExprList(es []ast.Expr) {
	for i, e := range es {
		if i > 0 {
			g.buf.WriteString(", ")
		}
		g.writeExpr(e)
	}
}

func (g *Generator) writeExpr(e ast.Expr) {
	switch e := e.(type) {
	case *ast.Ident:
		g.buf.WriteString(e.Name)

	case *ast.NumberLit:
		g.buf.WriteString(e.Value)

	case *ast.StringLit:
		g.buf.WriteString(quoteString(e.Value))

	case *ast.NilLit:
		g.buf.WriteString("nil")

	case *ast.BoolLit:
		if e.Value {
			g.buf.WriteString("true")
		} else {
			g.buf.WriteString("false")
		}

	case *ast.VarargLit:
		g.buf.WriteString("...")

	case *ast.FuncExpr:
		g.buf.WriteString("function")
		g.writeParams(e)
		g.buf.WriteByte('\n')
		g.indented(e.Body)
		g.pad()
		g.buf.WriteString("end")

	case *ast.CallExpr:
		g.writeExpr(e.Fun)
		g.buf.WriteByte('(')
		g.writeExprList(e.Args)
		g.buf.WriteByte(')')

	case *ast.MethodCallExpr:
		g.writeExpr(e.Recv)
		g.buf.WriteByte(':')
		g.buf.WriteString(e.Method.Name)
		g.buf.WriteByte('(')
		g.writeExprList(e.Args)
		g.buf.WriteByte(')')

	case *ast.IndexExpr:
		g.writeExpr(e.X)
		if key, ok := e.Index.(*ast.StringLit); ok && ast.IsValidIdent(key.Value) {
			g.buf.WriteByte('.')
			g.buf.WriteString(key.Value)
		} else {
			g.buf.WriteByte('[')
			g.writeExpr(e.Index)
			g.buf.WriteByte(']')
		}

	case *ast.ParenExpr:
		g.buf.WriteByte('(')
		g.writeExpr(e.X)
		g.buf.WriteByte(')')

	case *ast.BinaryExpr:
		g.writeOperand(e.X, e.Op, false)
		g.buf.WriteByte(' ')
		g.buf.WriteString(e.Op)
		g.buf.WriteByte(' ')
		g.writeOperand(e.Y, e.Op, true)

	case *ast.UnaryExpr:
		g.buf.WriteString(e.Op)
		if e.Op == "not" {
			g.buf.WriteByte(' ')
		} else if inner, ok := e.X.(*ast.UnaryExpr); ok && inner.Op == "-" && e.Op == "-" {
			// `--` would start a comment
			g.buf.WriteByte(' ')
		}
		g.writeExpr(e.X)

	case *ast.TableLit:
		g.buf.WriteByte('{')
		for i, f := range e.Fields {
			if i > 0 {
				g.buf.WriteString(", ")
			}
			if f.Key != nil {
				if key, ok := f.Key.(*ast.StringLit); ok && ast.IsValidIdent(key.Value) {
					g.buf.WriteString(key.Value)
					g.buf.WriteString(" = ")
				} else {
					g.buf.WriteByte('[')
					g.writeExpr(f.Key)
					g.buf.WriteString("] = ")
				}
			}
			g.writeExpr(f.Value)
		}
		g.buf.WriteByte('}')

	default:
		g.fail(e)
	}
}

// binLevel returns the binding level of a binary operator, used to
// decide when a nested operand needs parentheses. Explicit parentheses
// survive parsing as ParenExpr nodes, so this only fires for
// synthesized trees.
func binLevel(op string) int {
	switch op {
	case "or":
		return 1
	case "and":
		return 2
	case "<", ">", "<=", ">=", "~=", "==":
		return 3
	case "..":
		return 9
	case "+", "-":
		return 10
	case "*", "/", "%":
		return 11
	case "^":
		return 14
	}
	return 0
}

func rightAssoc(op string) bool { return op == ".." || op == "^" }

func (g *Generator) writeOperand(e ast.Expr, parentOp string, isRight bool) {
	child, ok := e.(*ast.BinaryExpr)
	if !ok {
		g.writeExpr(e)
		return
	}
	parent := binLevel(parentOp)
	need := binLevel(child.Op) < parent
	if binLevel(child.Op) == parent {
		// equal level re-associates unless emitted on the natural side
		if rightAssoc(parentOp) {
			need = !isRight
		} else {
			need = isRight
		}
	}
	if need {
		g.buf.WriteByte('(')
		g.writeExpr(child)
		g.buf.WriteByte(')')
	} else {
		g.writeExpr(child)
	}
}

// quoteString renders a double-quoted Lua string with standard escapes
func quoteString(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			if c < 32 || c == 127 {
				fmt.Fprintf(&sb, "\\%03d", c)
			} else {
				sb.WriteByte(c)
			}
		}
	}
	sb.WriteByte('"')
	return sb.String()
}
