package parser

import "errors"

var (
	ErrExpectedDatabaseName    = errors.New("parser: expected database name")
	ErrExpectedKeyAfterForeign = errors.New("parser: expected KEY after FOREIGN")
	ErrExpectedReferences      = errors.New("parser: expected REFERENCES in foreign key")
	ErrExpectedValues          = errors.New("parser: expected VALUES")
	ErrExpectedParen           = errors.New("parser: expected (")
	ErrUnexpectedTokenInValues = errors.New("parser: unexpected token in values list")
	ErrUnexpectedStatement     = errors.New("parser: unexpected statement")
)
