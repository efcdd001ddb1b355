// Package ast provides AST traversal utilities
package ast

// Visitor is called for each node during traversal
type Visitor interface {
	Visit(node Node) (w Visitor)
}

// Walk traverses an AST in depth-first order
func Walk(v Visitor, node Node) {
	if node == nil {
		return
	}
	if v = v.Visit(node); v == nil {
		return
	}

	switch n := node.(type) {
	case *Block:
		for _, stmt := range n.Stmts {
			Walk(v, stmt)
		}

	case *LocalStmt:
		for _, name := range n.Names {
			Walk(v, name)
		}
		for _, val := range n.Values {
			Walk(v, val)
		}

	case *LocalFuncStmt:
		Walk(v, n.Name)
		Walk(v, n.Func)

	case *AssignStmt:
		for _, t := range n.Targets {
			Walk(v, t)
		}
		for _, val := range n.Values {
			Walk(v, val)
		}

	case *ReturnStmt:
		for _, res := range n.Results {
			Walk(v, res)
		}

	case *DoStmt:
		Walk(v, n.Body)

	case *WhileStmt:
		Walk(v, n.Cond)
		Walk(v, n.Body)

	case *RepeatStmt:
		Walk(v, n.Body)
		Walk(v, n.Cond)

	case *IfStmt:
		Walk(v, n.Cond)
		Walk(v, n.Body)
		for _, clause := range n.ElseIfs {
			Walk(v, clause.Cond)
			Walk(v, clause.Body)
		}
		if n.Else != nil {
			Walk(v, n.Else)
		}

	case *NumericForStmt:
		Walk(v, n.Var)
		Walk(v, n.Start)
		Walk(v, n.Finish)
		if n.Step != nil {
			Walk(v, n.Step)
		}
		Walk(v, n.Body)

	case *GenericForStmt:
		for _, name := range n.Names {
			Walk(v, name)
		}
		for _, e := range n.Exprs {
			Walk(v, e)
		}
		Walk(v, n.Body)

	case *FuncStmt:
		Walk(v, n.Name)
		if n.Method != nil {
			Walk(v, n.Method)
		}
		Walk(v, n.Func)

	case *ExprStmt:
		Walk(v, n.X)

	case *FuncExpr:
		for _, p := range n.Params {
			Walk(v, p)
		}
		Walk(v, n.Body)

	case *CallExpr:
		Walk(v, n.Fun)
		for _, arg := range n.Args {
			Walk(v, arg)
		}

	case *MethodCallExpr:
		Walk(v, n.Recv)
		Walk(v, n.Method)
		for _, arg := range n.Args {
			Walk(v, arg)
		}

	case *IndexExpr:
		Walk(v, n.X)
		Walk(v, n.Index)

	case *ParenExpr:
		Walk(v, n.X)

	case *BinaryExpr:
		Walk(v, n.X)
		Walk(v, n.Y)

	case *UnaryExpr:
		Walk(v, n.X)

	case *TableLit:
		for _, f := range n.Fields {
			if f.Key != nil {
				Walk(v, f.Key)
			}
			Walk(v, f.Value)
		}

	// Leaf nodes (no children to walk)
	case *BreakStmt:
	case *Ident:
	case *NumberLit:
	case *StringLit:
	case *NilLit:
	case *BoolLit:
	case *VarargLit:
	case *Comment:
	}
}

// Inspector is a callback for Inspect; returning false stops descent
// below the visited node.
type Inspector func(Node) bool

// Inspect traverses the AST and calls f for each node
func Inspect(node Node, f Inspector) {
	Walk(inspector(f), node)
}

type inspector func(Node) bool

func (f inspector) Visit(node Node) Visitor {
	if f(node) {
		return f
	}
	return nil
}
