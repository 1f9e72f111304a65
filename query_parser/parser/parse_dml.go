package parser

import (
	"strings"

	lex "daemondb/query_parser/lexer"
)

func (p *Parser) parseInsert() (*InsertStmt, error) {
	p.nextToken()
	if err := p.expect(lex.INTO); err != nil {
		return nil, err
	}
	p.nextToken()

	table := p.curToken.Value
	p.nextToken()

	if !strings.EqualFold(p.curToken.Value, "values") {
		return nil, ErrExpectedValues
	}
	p.nextToken()

	if p.curToken.Kind != lex.OPENROUNDED {
		return nil, ErrExpectedParen
	}
	p.nextToken()

	values := []string{}
	for p.curToken.Kind != lex.CLOSEDROUNDED && p.curToken.Kind != lex.END {
		switch p.curToken.Kind {
		case lex.STRING, lex.INT:
			values = append(values, p.curToken.Value)
			p.nextToken()
		case lex.COMMA:
			p.nextToken()
		default:
			return nil, ErrUnexpectedTokenInValues
		}
	}

	if err := p.expect(lex.CLOSEDROUNDED); err != nil {
		return nil, err
	}
	p.nextToken()

	return &InsertStmt{Table: table, Values: values}, nil
}

func (p *Parser) parseDrop() (*DropStmt, error) {
	p.nextToken()
	table := p.curToken.Value
	p.nextToken()
	return &DropStmt{Table: table}, nil
}

func (p *Parser) parseUpdate() (*UpdateStmt, error) {
	p.nextToken()
	table := p.curToken.Value
	p.nextToken()

	if err := p.expect(lex.SET); err != nil {
		return nil, err
	}
	p.nextToken()

	assignments := map[string]string{}
	for p.curToken.Kind == lex.IDENT {
		col := p.curToken.Value
		p.nextToken()
		if err := p.expect(lex.EQUAL); err != nil {
			return nil, err
		}
		p.nextToken()
		val := p.curToken.Value
		assignments[col] = val
		p.nextToken()
		if p.curToken.Kind == lex.COMMA {
			p.nextToken()
		} else {
			break
		}
	}
	return &UpdateStmt{Table: table, Assignments: assignments}, nil
}
