package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	luaast "github.com/luakit/luacov-instrument/pkg/ast"
)

func TestParseLocalDeclaration(t *testing.T) {
	blk, err := ParseString("local x, y = 1, \"two\"")
	require.NoError(t, err)
	require.Len(t, blk.Stmts, 1)

	local, ok := blk.Stmts[0].(*luaast.LocalStmt)
	require.True(t, ok, "expected LocalStmt, got %T", blk.Stmts[0])
	assert.Equal(t, 1, local.Line())
	require.Len(t, local.Names, 2)
	assert.Equal(t, "x", local.Names[0].Name)
	assert.Equal(t, "y", local.Names[1].Name)
	require.Len(t, local.Values, 2)
	assert.IsType(t, &luaast.NumberLit{}, local.Values[0])
	assert.IsType(t, &luaast.StringLit{}, local.Values[1])
}

func TestParseLocalWithoutValues(t *testing.T) {
	blk, err := ParseString("local a, b")
	require.NoError(t, err)

	local := blk.Stmts[0].(*luaast.LocalStmt)
	assert.Len(t, local.Names, 2)
	assert.Empty(t, local.Values)
}

func TestParseLocalFunction(t *testing.T) {
	blk, err := ParseString("local function helper(a, b)\n  return a + b\nend")
	require.NoError(t, err)
	require.Len(t, blk.Stmts, 1)

	fn, ok := blk.Stmts[0].(*luaast.LocalFuncStmt)
	require.True(t, ok)
	assert.Equal(t, "helper", fn.Name.Name)
	assert.Len(t, fn.Func.Params, 2)
	require.Len(t, fn.Func.Body.Stmts, 1)
	assert.IsType(t, &luaast.ReturnStmt{}, fn.Func.Body.Stmts[0])
}

func TestParseStatementLines(t *testing.T) {
	src := `local x = 1
x = x + 1
print(x)
return x`
	blk, err := ParseString(src)
	require.NoError(t, err)
	require.Len(t, blk.Stmts, 4)

	for i, stmt := range blk.Stmts {
		assert.Equal(t, i+1, stmt.Line(), "statement %d line", i)
	}
	assert.IsType(t, &luaast.LocalStmt{}, blk.Stmts[0])
	assert.IsType(t, &luaast.AssignStmt{}, blk.Stmts[1])
	assert.IsType(t, &luaast.ExprStmt{}, blk.Stmts[2])
	assert.IsType(t, &luaast.ReturnStmt{}, blk.Stmts[3])
}

func TestParseIfElseifElse(t *testing.T) {
	src := `if a then
  f()
elseif b then
  g()
elseif c then
  h()
else
  i()
end`
	blk, err := ParseString(src)
	require.NoError(t, err)

	ifStmt, ok := blk.Stmts[0].(*luaast.IfStmt)
	require.True(t, ok)
	assert.Len(t, ifStmt.ElseIfs, 2)
	require.NotNil(t, ifStmt.Else)
	assert.Len(t, ifStmt.Else.Stmts, 1)
}

func TestParseIfWithoutElse(t *testing.T) {
	blk, err := ParseString("if x > 0 then\n  return x\nend")
	require.NoError(t, err)

	ifStmt := blk.Stmts[0].(*luaast.IfStmt)
	assert.Nil(t, ifStmt.Else)
	assert.Empty(t, ifStmt.ElseIfs)
	assert.IsType(t, &luaast.BinaryExpr{}, ifStmt.Cond)
}

func TestParseNumericFor(t *testing.T) {
	blk, err := ParseString("for i = 1, 10, 2 do\n  print(i)\nend")
	require.NoError(t, err)

	forStmt, ok := blk.Stmts[0].(*luaast.NumericForStmt)
	require.True(t, ok)
	assert.Equal(t, "i", forStmt.Var.Name)
	assert.NotNil(t, forStmt.Step)
}

func TestParseGenericFor(t *testing.T) {
	blk, err := ParseString("for k, v in pairs(t) do\n  print(k, v)\nend")
	require.NoError(t, err)

	forStmt, ok := blk.Stmts[0].(*luaast.GenericForStmt)
	require.True(t, ok)
	assert.Len(t, forStmt.Names, 2)
	assert.Len(t, forStmt.Exprs, 1)
}

func TestParseWhileAndRepeat(t *testing.T) {
	blk, err := ParseString("while n > 0 do\n  n = n - 1\nend\nrepeat\n  n = n + 1\nuntil n > 10")
	require.NoError(t, err)
	require.Len(t, blk.Stmts, 2)

	assert.IsType(t, &luaast.WhileStmt{}, blk.Stmts[0])
	rep, ok := blk.Stmts[1].(*luaast.RepeatStmt)
	require.True(t, ok)
	assert.NotNil(t, rep.Cond)
}

func TestParseMethodInvoke(t *testing.T) {
	blk, err := ParseString("obj:method(1, 2)")
	require.NoError(t, err)

	stmt := blk.Stmts[0].(*luaast.ExprStmt)
	call, ok := stmt.X.(*luaast.MethodCallExpr)
	require.True(t, ok, "expected MethodCallExpr, got %T", stmt.X)
	assert.Equal(t, "method", call.Method.Name)
	assert.Len(t, call.Args, 2)
}

func TestParseFunctionDeclarationForms(t *testing.T) {
	src := `function top()
end
function mod.sub.fn()
end
function mod.obj:meth(self_arg)
end`
	blk, err := ParseString(src)
	require.NoError(t, err)
	require.Len(t, blk.Stmts, 3)

	plain := blk.Stmts[0].(*luaast.FuncStmt)
	assert.IsType(t, &luaast.Ident{}, plain.Name)
	assert.Nil(t, plain.Method)

	dotted := blk.Stmts[1].(*luaast.FuncStmt)
	assert.IsType(t, &luaast.IndexExpr{}, dotted.Name)

	method := blk.Stmts[2].(*luaast.FuncStmt)
	require.NotNil(t, method.Method)
	assert.Equal(t, "meth", method.Method.Name)
}

func TestParseReturnWithoutArguments(t *testing.T) {
	blk, err := ParseString("return")
	require.NoError(t, err)

	ret := blk.Stmts[0].(*luaast.ReturnStmt)
	assert.Empty(t, ret.Results)
}

func TestParseDotIndexIsStringKey(t *testing.T) {
	blk, err := ParseString("x = a.b[c]")
	require.NoError(t, err)

	assign := blk.Stmts[0].(*luaast.AssignStmt)
	outer, ok := assign.Values[0].(*luaast.IndexExpr)
	require.True(t, ok)
	assert.IsType(t, &luaast.Ident{}, outer.Index)

	inner, ok := outer.X.(*luaast.IndexExpr)
	require.True(t, ok)
	key, ok := inner.Index.(*luaast.StringLit)
	require.True(t, ok, "dotted access should parse to a string key")
	assert.Equal(t, "b", key.Value)
}

func TestParseOperatorPrecedence(t *testing.T) {
	blk, err := ParseString("r = 1 + 2 * 3")
	require.NoError(t, err)

	assign := blk.Stmts[0].(*luaast.AssignStmt)
	add, ok := assign.Values[0].(*luaast.BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, "+", add.Op)

	mul, ok := add.Y.(*luaast.BinaryExpr)
	require.True(t, ok, "* should bind tighter than +")
	assert.Equal(t, "*", mul.Op)
}

func TestParseConcatRightAssociative(t *testing.T) {
	blk, err := ParseString(`s = "a" .. "b" .. "c"`)
	require.NoError(t, err)

	assign := blk.Stmts[0].(*luaast.AssignStmt)
	outer := assign.Values[0].(*luaast.BinaryExpr)
	require.Equal(t, "..", outer.Op)
	_, leftIsLit := outer.X.(*luaast.StringLit)
	assert.True(t, leftIsLit, "concat should associate to the right")
	_, rightIsConcat := outer.Y.(*luaast.BinaryExpr)
	assert.True(t, rightIsConcat)
}

func TestParseTableConstructor(t *testing.T) {
	blk, err := ParseString(`t = {1, name = "x", ["key with space"] = true}`)
	require.NoError(t, err)

	assign := blk.Stmts[0].(*luaast.AssignStmt)
	tbl, ok := assign.Values[0].(*luaast.TableLit)
	require.True(t, ok)
	require.Len(t, tbl.Fields, 3)
	assert.Nil(t, tbl.Fields[0].Key)
	assert.NotNil(t, tbl.Fields[1].Key)
	assert.NotNil(t, tbl.Fields[2].Key)
}

func TestParseCommentsAttachToFollowingStatement(t *testing.T) {
	src := `-- leading comment
local x = 1`
	blk, err := ParseString(src)
	require.NoError(t, err)

	local := blk.Stmts[0].(*luaast.LocalStmt)
	comments := local.AttachedComments()
	require.Len(t, comments, 1)
	assert.Equal(t, " leading comment", comments[0].Text)
	assert.Equal(t, luaast.CommentLine, comments[0].Kind)
}

func TestParseCommentOnlyFile(t *testing.T) {
	blk, err := ParseString("-- first\n-- second")
	require.NoError(t, err)
	assert.Empty(t, blk.Stmts)
	assert.Len(t, blk.Trailing, 2)
}

func TestParseEmptyFile(t *testing.T) {
	blk, err := ParseString("")
	require.NoError(t, err)
	assert.Empty(t, blk.Stmts)
}

func TestParseSyntaxError(t *testing.T) {
	_, err := ParseString("local x = (")
	require.Error(t, err)

	perr, ok := err.(*ParseError)
	require.True(t, ok)
	assert.Equal(t, ErrSyntax, perr.Kind)
	assert.Equal(t, 1, perr.Line)
}

func TestParseErrorPositions(t *testing.T) {
	_, err := ParseString("local ok = 1\nlocal bad = ")
	require.Error(t, err)

	perr := err.(*ParseError)
	assert.Equal(t, ErrSyntax, perr.Kind)
	assert.Equal(t, 2, perr.Line)
}

func TestParseRejectsAssignToCall(t *testing.T) {
	_, err := ParseString("f(), g() = 1, 2")
	require.Error(t, err)
	assert.Equal(t, ErrSyntax, err.(*ParseError).Kind)
}

func TestParseStatementAfterReturnRejected(t *testing.T) {
	_, err := ParseString("return 1\nprint(2)")
	require.Error(t, err)
	assert.Equal(t, ErrSyntax, err.(*ParseError).Kind)
}

func TestParseCallSugarForms(t *testing.T) {
	blk, err := ParseString("require \"socket\"\nf{1, 2}")
	require.NoError(t, err)
	require.Len(t, blk.Stmts, 2)

	first := blk.Stmts[0].(*luaast.ExprStmt).X.(*luaast.CallExpr)
	require.Len(t, first.Args, 1)
	assert.IsType(t, &luaast.StringLit{}, first.Args[0])

	second := blk.Stmts[1].(*luaast.ExprStmt).X.(*luaast.CallExpr)
	require.Len(t, second.Args, 1)
	assert.IsType(t, &luaast.TableLit{}, second.Args[0])
}

func TestParseVarargFunction(t *testing.T) {
	blk, err := ParseString("local function log(fmt, ...)\n  print(fmt, ...)\nend")
	require.NoError(t, err)

	fn := blk.Stmts[0].(*luaast.LocalFuncStmt)
	assert.True(t, fn.Func.IsVararg)
	assert.Len(t, fn.Func.Params, 1)
}
