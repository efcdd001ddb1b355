// Package parser implements a hand-written lexer and recursive-descent
// parser for Lua 5.1 source code. The produced AST carries 1-based line
// numbers on every statement, which downstream instrumentation depends on.
package parser

import (
	"github.com/luakit/luacov-instrument/pkg/ast"
)

// Parse parses Lua source bytes into a root Block. The path is used for
// diagnostics only. On failure the returned error is a *ParseError.
func Parse(src []byte, path string) (*ast.Block, error) {
	p := &parser{lex: newLexer(src, path), src: src, path: path}
	if err := p.advance(); err != nil {
		return nil, err
	}
	blk, perr := p.parseBlock()
	if perr != nil {
		return nil, perr
	}
	if p.tok.Type != TokenEOF {
		return nil, p.syntaxErr("'<eof>' expected near " + p.tok.describe())
	}
	return blk, nil
}

// ParseString is a convenience wrapper over Parse for tests and tooling.
func ParseString(src string) (*ast.Block, error) {
	return Parse([]byte(src), "")
}

type parser struct {
	lex     *lexer
	src     []byte
	path    string
	tok     Token
	ahead   *Token
	pending []*ast.Comment // comments waiting to attach to the next statement
}

// advance moves to the next non-comment token, buffering comments
func (p *parser) advance() *ParseError {
	if p.ahead != nil {
		p.tok = *p.ahead
		p.ahead = nil
		return nil
	}
	for {
		tok, err := p.lex.next()
		if err != nil {
			return err
		}
		if tok.Type == TokenComment {
			p.pending = append(p.pending, &ast.Comment{
				Kind:     tok.CommentKind,
				Text:     tok.Lit,
				StartPos: tok.Pos,
			})
			continue
		}
		p.tok = tok
		return nil
	}
}

// peek returns the token after the current one
func (p *parser) peek() (Token, *ParseError) {
	if p.ahead != nil {
		return *p.ahead, nil
	}
	for {
		tok, err := p.lex.next()
		if err != nil {
			return Token{}, err
		}
		if tok.Type == TokenComment {
			p.pending = append(p.pending, &ast.Comment{
				Kind:     tok.CommentKind,
				Text:     tok.Lit,
				StartPos: tok.Pos,
			})
			continue
		}
		p.ahead = &tok
		return tok, nil
	}
}

func (p *parser) columnAt(pos ast.Position) int {
	col := 1
	for i := pos.Offset - 1; i >= 0 && i < len(p.src) && p.src[i] != '\n'; i-- {
		col++
	}
	return col
}

func (p *parser) syntaxErr(msg string) *ParseError {
	return newParseError(ErrSyntax, p.path, p.tok.Pos.Line, p.columnAt(p.tok.Pos), msg)
}

// expectOp consumes the given operator or fails
func (p *parser) expectOp(op string) *ParseError {
	if !p.tok.isOp(op) {
		return p.syntaxErr("'" + op + "' expected near " + p.tok.describe())
	}
	return p.advance()
}

// expectKeyword consumes the given keyword or fails
func (p *parser) expectKeyword(kw string) *ParseError {
	if !p.tok.isKeyword(kw) {
		return p.syntaxErr("'" + kw + "' expected near " + p.tok.describe())
	}
	return p.advance()
}

func (p *parser) expectName() (*ast.Ident, *ParseError) {
	if p.tok.Type != TokenName {
		return nil, p.syntaxErr("<name> expected near " + p.tok.describe())
	}
	id := &ast.Ident{Name: p.tok.Lit, StartPos: p.tok.Pos}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return id, nil
}

// ============================================================================
// Statements
// ============================================================================

func (p *parser) blockEnd() bool {
	if p.tok.Type == TokenEOF {
		return true
	}
	switch p.tok.Lit {
	case "end", "else", "elseif", "until":
		return p.tok.Type == TokenKeyword
	}
	return false
}

func (p *parser) parseBlock() (*ast.Block, *ParseError) {
	blk := &ast.Block{StartPos: p.tok.Pos}
	for !p.blockEnd() {
		last := p.tok.isKeyword("return") || p.tok.isKeyword("break")
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		blk.Stmts = append(blk.Stmts, stmt)
		if p.tok.isOp(";") {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		// return and break close the block in Lua 5.1
		if last && !p.blockEnd() {
			return nil, p.syntaxErr("unexpected statement after return/break near " + p.tok.describe())
		}
	}
	// comments collected while reaching the block terminator belong here
	if len(p.pending) > 0 {
		blk.Trailing = p.pending
		p.pending = nil
	}
	return blk, nil
}

func (p *parser) parseStatement() (ast.Stmt, *ParseError) {
	var stmt ast.Stmt
	var err *ParseError

	pendingBefore := p.pending
	p.pending = nil

	switch {
	case p.tok.isKeyword("if"):
		stmt, err = p.parseIf()
	case p.tok.isKeyword("while"):
		stmt, err = p.parseWhile()
	case p.tok.isKeyword("do"):
		stmt, err = p.parseDo()
	case p.tok.isKeyword("for"):
		stmt, err = p.parseFor()
	case p.tok.isKeyword("repeat"):
		stmt, err = p.parseRepeat()
	case p.tok.isKeyword("function"):
		stmt, err = p.parseFunctionStmt()
	case p.tok.isKeyword("local"):
		stmt, err = p.parseLocal()
	case p.tok.isKeyword("return"):
		stmt, err = p.parseReturn()
	case p.tok.isKeyword("break"):
		pos := p.tok.Pos
		if err = p.advance(); err == nil {
			br := &ast.BreakStmt{}
			br.StartPos = pos
			stmt = br
		}
	default:
		stmt, err = p.parseExprStatement()
	}

	if err != nil {
		return nil, err
	}
	if c, ok := stmt.(ast.Commented); ok && len(pendingBefore) > 0 {
		c.Attach(pendingBefore)
	}
	return stmt, nil
}

func (p *parser) parseIf() (ast.Stmt, *ParseError) {
	st := &ast.IfStmt{}
	st.StartPos = p.tok.Pos
	if err := p.advance(); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	st.Cond = cond
	if err := p.expectKeyword("then"); err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	st.Body = body

	for p.tok.isKeyword("elseif") {
		clause := &ast.ElseIfClause{StartPos: p.tok.Pos}
		if err := p.advance(); err != nil {
			return nil, err
		}
		if clause.Cond, err = p.parseExpr(); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("then"); err != nil {
			return nil, err
		}
		if clause.Body, err = p.parseBlock(); err != nil {
			return nil, err
		}
		st.ElseIfs = append(st.ElseIfs, clause)
	}

	if p.tok.isKeyword("else") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if st.Else, err = p.parseBlock(); err != nil {
			return nil, err
		}
	}
	if err := p.expectKeyword("end"); err != nil {
		return nil, err
	}
	return st, nil
}

func (p *parser) parseWhile() (ast.Stmt, *ParseError) {
	st := &ast.WhileStmt{}
	st.StartPos = p.tok.Pos
	if err := p.advance(); err != nil {
		return nil, err
	}
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	st.Cond = cond
	if err := p.expectKeyword("do"); err != nil {
		return nil, err
	}
	if st.Body, err = p.parseBlock(); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("end"); err != nil {
		return nil, err
	}
	return st, nil
}

func (p *parser) parseDo() (ast.Stmt, *ParseError) {
	st := &ast.DoStmt{}
	st.StartPos = p.tok.Pos
	if err := p.advance(); err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	st.Body = body
	if err := p.expectKeyword("end"); err != nil {
		return nil, err
	}
	return st, nil
}

func (p *parser) parseFor() (ast.Stmt, *ParseError) {
	startPos := p.tok.Pos
	if err := p.advance(); err != nil {
		return nil, err
	}
	name, err := p.expectName()
	if err != nil {
		return nil, err
	}

	if p.tok.isOp("=") {
		st := &ast.NumericForStmt{Var: name}
		st.StartPos = startPos
		if err := p.advance(); err != nil {
			return nil, err
		}
		if st.Start, err = p.parseExpr(); err != nil {
			return nil, err
		}
		if perr := p.expectOp(","); perr != nil {
			return nil, perr
		}
		if st.Finish, err = p.parseExpr(); err != nil {
			return nil, err
		}
		if p.tok.isOp(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			if st.Step, err = p.parseExpr(); err != nil {
				return nil, err
			}
		}
		if perr := p.expectKeyword("do"); perr != nil {
			return nil, perr
		}
		if st.Body, err = p.parseBlock(); err != nil {
			return nil, err
		}
		if perr := p.expectKeyword("end"); perr != nil {
			return nil, perr
		}
		return st, nil
	}

	st := &ast.GenericForStmt{Names: []*ast.Ident{name}}
	st.StartPos = startPos
	for p.tok.isOp(",") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		n, err := p.expectName()
		if err != nil {
			return nil, err
		}
		st.Names = append(st.Names, n)
	}
	if err := p.expectKeyword("in"); err != nil {
		return nil, err
	}
	if st.Exprs, err = p.parseExprList(); err != nil {
		return nil, err
	}
	if perr := p.expectKeyword("do"); perr != nil {
		return nil, perr
	}
	if st.Body, err = p.parseBlock(); err != nil {
		return nil, err
	}
	if perr := p.expectKeyword("end"); perr != nil {
		return nil, perr
	}
	return st, nil
}

func (p *parser) parseRepeat() (ast.Stmt, *ParseError) {
	st := &ast.RepeatStmt{}
	st.StartPos = p.tok.Pos
	if err := p.advance(); err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	st.Body = body
	if err := p.expectKeyword("until"); err != nil {
		return nil, err
	}
	if st.Cond, err = p.parseExpr(); err != nil {
		return nil, err
	}
	return st, nil
}

// parseFunctionStmt parses `function name(...)`, `function a.b.c(...)`,
// and the method form `function a.b:m(...)`
func (p *parser) parseFunctionStmt() (ast.Stmt, *ParseError) {
	st := &ast.FuncStmt{}
	st.StartPos = p.tok.Pos
	if err := p.advance(); err != nil {
		return nil, err
	}

	name, err := p.expectName()
	if err != nil {
		return nil, err
	}
	var target ast.Expr = name
	for p.tok.isOp(".") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		field, err := p.expectName()
		if err != nil {
			return nil, err
		}
		target = &ast.IndexExpr{
			X:        target,
			Index:    &ast.StringLit{Value: field.Name, StartPos: field.StartPos},
			StartPos: target.Pos(),
		}
	}
	if p.tok.isOp(":") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if st.Method, err = p.expectName(); err != nil {
			return nil, err
		}
	}
	st.Name = target

	fn, perr := p.parseFuncBody(st.StartPos)
	if perr != nil {
		return nil, perr
	}
	st.Func = fn
	return st, nil
}

func (p *parser) parseLocal() (ast.Stmt, *ParseError) {
	startPos := p.tok.Pos
	if err := p.advance(); err != nil {
		return nil, err
	}

	if p.tok.isKeyword("function") {
		st := &ast.LocalFuncStmt{}
		st.StartPos = startPos
		if err := p.advance(); err != nil {
			return nil, err
		}
		name, err := p.expectName()
		if err != nil {
			return nil, err
		}
		st.Name = name
		fn, perr := p.parseFuncBody(startPos)
		if perr != nil {
			return nil, perr
		}
		st.Func = fn
		return st, nil
	}

	st := &ast.LocalStmt{}
	st.StartPos = startPos
	name, err := p.expectName()
	if err != nil {
		return nil, err
	}
	st.Names = []*ast.Ident{name}
	for p.tok.isOp(",") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		n, err := p.expectName()
		if err != nil {
			return nil, err
		}
		st.Names = append(st.Names, n)
	}
	if p.tok.isOp("=") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if st.Values, err = p.parseExprList(); err != nil {
			return nil, err
		}
	}
	return st, nil
}

func (p *parser) parseReturn() (ast.Stmt, *ParseError) {
	st := &ast.ReturnStmt{}
	st.StartPos = p.tok.Pos
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.blockEnd() || p.tok.isOp(";") {
		return st, nil
	}
	results, err := p.parseExprList()
	if err != nil {
		return nil, err
	}
	st.Results = results
	return st, nil
}

// parseExprStatement handles assignments and statement-position calls
func (p *parser) parseExprStatement() (ast.Stmt, *ParseError) {
	startPos := p.tok.Pos
	expr, err := p.parseSuffixedExpr()
	if err != nil {
		return nil, err
	}

	if p.tok.isOp("=") || p.tok.isOp(",") {
		st := &ast.AssignStmt{Targets: []ast.Expr{expr}}
		st.StartPos = startPos
		for p.tok.isOp(",") {
			if perr := p.advance(); perr != nil {
				return nil, perr
			}
			target, err := p.parseSuffixedExpr()
			if err != nil {
				return nil, err
			}
			st.Targets = append(st.Targets, target)
		}
		for _, t := range st.Targets {
			if !isAssignable(t) {
				return nil, p.syntaxErr("cannot assign to this expression")
			}
		}
		if perr := p.expectOp("="); perr != nil {
			return nil, perr
		}
		if st.Values, err = p.parseExprList(); err != nil {
			return nil, err
		}
		return st, nil
	}

	switch expr.(type) {
	case *ast.CallExpr, *ast.MethodCallExpr:
		st := &ast.ExprStmt{X: expr}
		st.StartPos = startPos
		return st, nil
	}
	return nil, p.syntaxErr("syntax error near " + p.tok.describe())
}

func isAssignable(e ast.Expr) bool {
	switch e.(type) {
	case *ast.Ident, *ast.IndexExpr:
		return true
	}
	return false
}

// ============================================================================
// Expressions
// ============================================================================

// binPrec holds left/right binding powers from the Lua 5.1 reference
// parser; `..` and `^` are right-associative.
var binPrec = map[string][2]int{
	"or": {1, 1}, "and": {2, 2},
	"<": {3, 3}, ">": {3, 3}, "<=": {3, 3}, ">=": {3, 3}, "~=": {3, 3}, "==": {3, 3},
	"..": {9, 8},
	"+":  {10, 10}, "-": {10, 10},
	"*": {11, 11}, "/": {11, 11}, "%": {11, 11},
	"^": {14, 13},
}

const unaryPrec = 12

func (p *parser) binOp() (string, bool) {
	lit := p.tok.Lit
	if p.tok.Type == TokenOp || (p.tok.Type == TokenKeyword && (lit == "and" || lit == "or")) {
		if _, ok := binPrec[lit]; ok {
			return lit, true
		}
	}
	return "", false
}

func (p *parser) parseExpr() (ast.Expr, *ParseError) {
	return p.parseSubExpr(0)
}

func (p *parser) parseSubExpr(limit int) (ast.Expr, *ParseError) {
	var left ast.Expr
	var err *ParseError

	if p.tok.isOp("-") || p.tok.isOp("#") || p.tok.isKeyword("not") {
		op := p.tok.Lit
		pos := p.tok.Pos
		if err = p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseSubExpr(unaryPrec)
		if err != nil {
			return nil, err
		}
		left = &ast.UnaryExpr{Op: op, X: operand, StartPos: pos}
	} else {
		if left, err = p.parseSimpleExpr(); err != nil {
			return nil, err
		}
	}

	for {
		op, ok := p.binOp()
		if !ok || binPrec[op][0] <= limit {
			break
		}
		if err = p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseSubExpr(binPrec[op][1])
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryExpr{Op: op, X: left, Y: right, StartPos: left.Pos()}
	}
	return left, nil
}

func (p *parser) parseSimpleExpr() (ast.Expr, *ParseError) {
	pos := p.tok.Pos
	switch {
	case p.tok.Type == TokenNumber:
		e := &ast.NumberLit{Value: p.tok.Lit, StartPos: pos}
		return e, p.advance()
	case p.tok.Type == TokenString:
		e := &ast.StringLit{Value: p.tok.Lit, StartPos: pos}
		return e, p.advance()
	case p.tok.isKeyword("nil"):
		return &ast.NilLit{StartPos: pos}, p.advance()
	case p.tok.isKeyword("true"):
		return &ast.BoolLit{Value: true, StartPos: pos}, p.advance()
	case p.tok.isKeyword("false"):
		return &ast.BoolLit{Value: false, StartPos: pos}, p.advance()
	case p.tok.isOp("..."):
		return &ast.VarargLit{StartPos: pos}, p.advance()
	case p.tok.isKeyword("function"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		return p.parseFuncBody(pos)
	case p.tok.isOp("{"):
		return p.parseTable()
	}
	return p.parseSuffixedExpr()
}

func (p *parser) parsePrimaryExpr() (ast.Expr, *ParseError) {
	pos := p.tok.Pos
	switch {
	case p.tok.Type == TokenName:
		e := &ast.Ident{Name: p.tok.Lit, StartPos: pos}
		return e, p.advance()
	case p.tok.isOp("("):
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if perr := p.expectOp(")"); perr != nil {
			return nil, perr
		}
		return &ast.ParenExpr{X: inner, StartPos: pos}, nil
	}
	return nil, p.syntaxErr("unexpected symbol near " + p.tok.describe())
}

func (p *parser) parseSuffixedExpr() (ast.Expr, *ParseError) {
	expr, err := p.parsePrimaryExpr()
	if err != nil {
		return nil, err
	}

	for {
		switch {
		case p.tok.isOp("."):
			if err := p.advance(); err != nil {
				return nil, err
			}
			field, err := p.expectName()
			if err != nil {
				return nil, err
			}
			expr = &ast.IndexExpr{
				X:        expr,
				Index:    &ast.StringLit{Value: field.Name, StartPos: field.StartPos},
				StartPos: expr.Pos(),
			}

		case p.tok.isOp("["):
			if err := p.advance(); err != nil {
				return nil, err
			}
			index, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if perr := p.expectOp("]"); perr != nil {
				return nil, perr
			}
			expr = &ast.IndexExpr{X: expr, Index: index, StartPos: expr.Pos()}

		case p.tok.isOp(":"):
			if err := p.advance(); err != nil {
				return nil, err
			}
			method, err := p.expectName()
			if err != nil {
				return nil, err
			}
			args, ok, perr := p.parseCallArgs()
			if perr != nil {
				return nil, perr
			}
			if !ok {
				return nil, p.syntaxErr("function arguments expected near " + p.tok.describe())
			}
			expr = &ast.MethodCallExpr{Recv: expr, Method: method, Args: args, StartPos: expr.Pos()}

		default:
			args, ok, perr := p.parseCallArgs()
			if perr != nil {
				return nil, perr
			}
			if !ok {
				return expr, nil
			}
			expr = &ast.CallExpr{Fun: expr, Args: args, StartPos: expr.Pos()}
		}
	}
}

// parseCallArgs parses `(explist)`, a single string argument, or a single
// table-constructor argument. ok is false when the current token does not
// start call arguments.
func (p *parser) parseCallArgs() ([]ast.Expr, bool, *ParseError) {
	switch {
	case p.tok.isOp("("):
		if err := p.advance(); err != nil {
			return nil, false, err
		}
		if p.tok.isOp(")") {
			return nil, true, p.advance()
		}
		args, err := p.parseExprList()
		if err != nil {
			return nil, false, err
		}
		if perr := p.expectOp(")"); perr != nil {
			return nil, false, perr
		}
		return args, true, nil

	case p.tok.Type == TokenString:
		arg := &ast.StringLit{Value: p.tok.Lit, StartPos: p.tok.Pos}
		return []ast.Expr{arg}, true, p.advance()

	case p.tok.isOp("{"):
		tbl, err := p.parseTable()
		if err != nil {
			return nil, false, err
		}
		return []ast.Expr{tbl}, true, nil
	}
	return nil, false, nil
}

func (p *parser) parseExprList() ([]ast.Expr, *ParseError) {
	first, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	exprs := []ast.Expr{first}
	for p.tok.isOp(",") {
		if perr := p.advance(); perr != nil {
			return nil, perr
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
	}
	return exprs, nil
}

// parseFuncBody parses `(parlist) block end`; the `function` keyword has
// already been consumed.
func (p *parser) parseFuncBody(startPos ast.Position) (*ast.FuncExpr, *ParseError) {
	fn := &ast.FuncExpr{StartPos: startPos}
	if err := p.expectOp("("); err != nil {
		return nil, err
	}
	for !p.tok.isOp(")") {
		if p.tok.isOp("...") {
			fn.IsVararg = true
			if err := p.advance(); err != nil {
				return nil, err
			}
			break
		}
		name, err := p.expectName()
		if err != nil {
			return nil, err
		}
		fn.Params = append(fn.Params, name)
		if !p.tok.isOp(",") {
			break
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}
	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	fn.Body = body
	fn.EndLine = p.tok.Pos.Line
	if perr := p.expectKeyword("end"); perr != nil {
		return nil, perr
	}
	return fn, nil
}

func (p *parser) parseTable() (ast.Expr, *ParseError) {
	tbl := &ast.TableLit{StartPos: p.tok.Pos}
	if err := p.expectOp("{"); err != nil {
		return nil, err
	}
	for !p.tok.isOp("}") {
		field := &ast.TableField{}

		switch {
		case p.tok.isOp("["):
			if err := p.advance(); err != nil {
				return nil, err
			}
			key, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if perr := p.expectOp("]"); perr != nil {
				return nil, perr
			}
			if perr := p.expectOp("="); perr != nil {
				return nil, perr
			}
			field.Key = key
			value, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			field.Value = value

		case p.tok.Type == TokenName:
			// `name = value` needs one token of lookahead; otherwise the
			// name starts an ordinary expression item
			next, perr := p.peek()
			if perr != nil {
				return nil, perr
			}
			if next.isOp("=") {
				field.Key = &ast.StringLit{Value: p.tok.Lit, StartPos: p.tok.Pos}
				if err := p.advance(); err != nil { // name
					return nil, err
				}
				if err := p.advance(); err != nil { // =
					return nil, err
				}
				value, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				field.Value = value
			} else {
				value, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				field.Value = value
			}

		default:
			value, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			field.Value = value
		}

		tbl.Fields = append(tbl.Fields, field)

		if p.tok.isOp(",") || p.tok.isOp(";") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if err := p.expectOp("}"); err != nil {
		return nil, err
	}
	return tbl, nil
}
