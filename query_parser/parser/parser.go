package parser

import (
	"fmt"

	lex "daemondb/query_parser/lexer"
)

type Parser struct {
	l         *lex.Lexer
	curToken  lex.Token
	peekToken lex.Token
}

func New(l *lex.Lexer) *Parser {
	p := &Parser{l: l}
	p.nextToken()
	p.nextToken()
	return p
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.l.NextToken()
}

func (p *Parser) expect(kind lex.TokenKind) error {
	if p.curToken.Kind != kind {
		return fmt.Errorf("parser: expected %s, got %s (%s)", kind, p.curToken.Kind, p.curToken.Value)
	}
	return nil
}

// ParseStatement dispatches on the current token to the statement-specific
// parse function and returns its result, or an error instead of panicking
// on malformed input.
func (p *Parser) ParseStatement() (Statement, error) {
	switch p.curToken.Kind {
	case lex.SHOW:
		return p.parseShowDatabases()
	case lex.SELECT:
		return p.parseSelect()
	case lex.INSERT:
		return p.parseInsert()
	case lex.UPDATE:
		return p.parseUpdate()
	case lex.USE:
		return p.parseUseDatabase()
	case lex.DROP:
		return p.parseDrop()
	case lex.IDENT: // CREATE TABLE / CREATE DATABASE start with "create"
		if p.curToken.Value == "create" || p.curToken.Value == "CREATE" {
			p.nextToken()
			switch p.curToken.Value {
			case "database", "DATABASE":
				return p.parseCreateDatabase()
			case "table", "TABLE":
				return p.parseCreateTable()
			}
		}
	}
	return nil, fmt.Errorf("%w: %s (%s)", ErrUnexpectedStatement, p.curToken.Kind, p.curToken.Value)
}
