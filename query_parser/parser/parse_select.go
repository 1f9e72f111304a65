package parser

import lex "daemondb/query_parser/lexer"

func (p *Parser) parseSelect() (*SelectStmt, error) {
	p.nextToken()

	cols := []string{}
	if p.curToken.Kind == lex.ASTERISK {
		cols = append(cols, "*")
		p.nextToken()
	} else {
		for p.curToken.Kind == lex.IDENT {
			cols = append(cols, p.curToken.Value)
			p.nextToken()
			if p.curToken.Kind == lex.COMMA {
				p.nextToken()
			} else {
				break
			}
		}
	}

	if err := p.expect(lex.FROM); err != nil {
		return nil, err
	}
	p.nextToken()
	table := p.curToken.Value
	p.nextToken()

	var whereCol, whereVal string
	if p.curToken.Kind == lex.WHERE {
		p.nextToken()
		whereCol = p.curToken.Value
		p.nextToken()
		if err := p.expect(lex.EQUAL); err != nil {
			return nil, err
		}
		p.nextToken()
		if p.curToken.Kind != lex.STRING && p.curToken.Kind != lex.INT {
			return nil, ErrExpectedValues
		}
		whereVal = p.curToken.Value
		p.nextToken()
	}

	return &SelectStmt{Columns: cols, Table: table, WhereCol: whereCol, WhereValue: whereVal}, nil
}
