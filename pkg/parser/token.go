package parser

import "github.com/luakit/luacov-instrument/pkg/ast"

// TokenType identifies the lexical class of a token
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenName
	TokenNumber
	TokenString
	TokenKeyword
	TokenOp      // operators and punctuation
	TokenComment // surfaced so the parser can attach comments to statements
)

// Token is a single lexical token with its source position
type Token struct {
	Type TokenType
	Lit  string // decoded value for strings, verbatim text otherwise
	Pos  ast.Position

	// CommentKind is meaningful only for TokenComment
	CommentKind ast.CommentKind
}

func (t Token) is(typ TokenType, lit string) bool {
	return t.Type == typ && t.Lit == lit
}

// isKeyword reports whether the token is the given reserved word
func (t Token) isKeyword(kw string) bool { return t.is(TokenKeyword, kw) }

// isOp reports whether the token is the given operator or punctuation
func (t Token) isOp(op string) bool { return t.is(TokenOp, op) }

func (t Token) describe() string {
	switch t.Type {
	case TokenEOF:
		return "end of file"
	case TokenString:
		return "string literal"
	case TokenNumber:
		return "number " + t.Lit
	default:
		return "'" + t.Lit + "'"
	}
}
