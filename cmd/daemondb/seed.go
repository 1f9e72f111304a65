package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"daemondb/engine"
	"daemondb/internal/index"
	"daemondb/internal/lock"
	"daemondb/internal/table"
	lex "daemondb/query_parser/lexer"
	"daemondb/query_parser/parser"
	"daemondb/types"
)

// demoScript mirrors cmd/seed/main.go's role from the teacher — create a
// couple of tables and insert sample rows — run through the kept
// lexer/parser instead of a bytecode VM, since the query executor that
// used to turn parsed statements into bytecode is out of core scope.
var demoScript = []string{
	`CREATE TABLE students ( id int primary key, name string, age int )`,
	`INSERT INTO students VALUES (1, "Alice", 20)`,
	`INSERT INTO students VALUES (2, "Bob", 21)`,
	`INSERT INTO students VALUES (3, "Carol", 19)`,
	`CREATE TABLE courses ( code int primary key, title string )`,
	`INSERT INTO courses VALUES (101, "Intro to CS")`,
	`INSERT INTO courses VALUES (102, "Data Structures")`,
}

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "Create a couple of demo tables and insert sample rows",
		RunE:  runSeed,
	})
}

func runSeed(cmd *cobra.Command, args []string) error {
	e, err := openEngine()
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	defer e.Close()

	s := &seeder{
		e:         e,
		cfg:       e.Config(),
		trees:     make(map[string]*index.BPlusTree),
		heaps:     make(map[string]*table.Heap),
		pkColumns: make(map[string]string),
	}

	for _, stmt := range demoScript {
		l := lex.New(stmt)
		p := parser.New(l)
		parsed, err := p.ParseStatement()
		if err != nil {
			return fmt.Errorf("seed: parse %q: %w", stmt, err)
		}
		if err := s.exec(parsed); err != nil {
			return fmt.Errorf("seed: exec %q: %w", stmt, err)
		}
	}

	fmt.Println("seed complete")
	return nil
}

// seeder turns parsed statements into catalog/table/index calls, caching
// the heap and primary-key tree each CREATE TABLE opens so later INSERTs
// in the same script reuse them.
type seeder struct {
	e         *engine.Engine
	cfg       engine.Config
	heaps     map[string]*table.Heap
	trees     map[string]*index.BPlusTree
	pkColumns map[string]string
}

func (s *seeder) exec(stmt parser.Statement) error {
	switch st := stmt.(type) {
	case *parser.CreateTableStmt:
		return s.execCreateTable(st)
	case *parser.InsertStmt:
		return s.execInsert(st)
	default:
		return fmt.Errorf("seed: unsupported statement %T", st)
	}
}

func (s *seeder) execCreateTable(st *parser.CreateTableStmt) error {
	cols := make([]types.ColumnDef, len(st.Columns))
	pkCol := ""
	for i, c := range st.Columns {
		cols[i] = types.ColumnDef{Name: c.Name, Type: c.Type, IsPrimaryKey: c.IsPrimaryKey}
		if c.IsPrimaryKey {
			pkCol = c.Name
		}
	}
	schema := types.TableSchema{TableName: st.TableName, Columns: cols}

	firstPageID, err := table.CreateFirstPage(s.e.Pool)
	if err != nil {
		return err
	}
	if err := s.e.Catalog.CreateTable(schema, firstPageID); err != nil {
		return err
	}
	s.heaps[st.TableName] = table.NewHeap(s.e.Pool, s.e.Log, s.e.Txns, firstPageID)

	if pkCol == "" {
		return nil
	}
	tree := index.New(s.e.Pool, s.cfg.IndexLeafMaxSize, s.cfg.IndexInternalMaxSize, nil)
	indexName := st.TableName + "_" + pkCol
	if err := s.e.Catalog.CreateIndex(st.TableName, indexName, pkCol, tree.RootPageID()); err != nil {
		return err
	}
	s.trees[st.TableName] = tree
	s.pkColumns[st.TableName] = pkCol
	return nil
}

func (s *seeder) execInsert(st *parser.InsertStmt) error {
	heap, ok := s.heaps[st.Table]
	if !ok {
		return fmt.Errorf("unknown table %q", st.Table)
	}

	tx := s.e.Txns.Begin(lock.ReadCommitted)
	rid, err := heap.InsertTuple([]byte(strings.Join(st.Values, "\x1f")), tx)
	if err != nil {
		s.e.Txns.Abort(tx)
		return err
	}

	if tree, ok := s.trees[st.Table]; ok && len(st.Values) > 0 {
		key, err := strconv.Atoi(st.Values[0])
		if err != nil {
			s.e.Txns.Abort(tx)
			return fmt.Errorf("primary key %q is not an integer: %w", st.Values[0], err)
		}
		if err := tree.Insert(int32(key), rid); err != nil {
			s.e.Txns.Abort(tx)
			return err
		}
		indexName := st.Table + "_" + s.pkColumns[st.Table]
		if err := s.e.Catalog.UpdateIndexRoot(st.Table, indexName, tree.RootPageID()); err != nil {
			s.e.Txns.Abort(tx)
			return err
		}
	}

	return s.e.Txns.Commit(tx)
}
