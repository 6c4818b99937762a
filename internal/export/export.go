// Package export loads committed interpretations into a Mangle fact store
// so they can be queried declaratively.
package export

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"

	"patternlattice/internal/engine"
	"patternlattice/internal/interpr"
	"patternlattice/internal/logging"
)

// Schema declares the exported predicates and the rules derived from them.
// Choices are qualified by their document as "doc#label".
const Schema = `
Decl activation(Doc, Neuron, Begin, End, Value).
Decl selected(Doc, Choice, Rank).
Decl conflict(Left, Right).
Decl follows(Doc, Left, Right).
Decl excluded(Doc, Choice).

follows(Doc, Left, Right) :- activation(Doc, Left, _, End, _), activation(Doc, Right, End, _, _).
excluded(Doc, Choice) :- selected(Doc, Winner, _), conflict(Winner, Choice).
excluded(Doc, Choice) :- selected(Doc, Winner, _), conflict(Choice, Winner).
`

// Fact is a decoded atom.
type Fact struct {
	Predicate string
	Args      []interface{}
}

func (f Fact) String() string {
	parts := make([]string, len(f.Args))
	for i, a := range f.Args {
		parts[i] = fmt.Sprint(a)
	}
	return fmt.Sprintf("%s(%s)", f.Predicate, strings.Join(parts, ", "))
}

// Store holds the facts of every exported document.
type Store struct {
	mu      sync.RWMutex
	store   factstore.ConcurrentFactStore
	program *analysis.ProgramInfo
	preds   map[string]ast.PredicateSym
	added   int
}

// New compiles the schema and creates an empty store.
func New() (*Store, error) {
	unit, err := parse.Unit(bytes.NewReader([]byte(Schema)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	program, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze schema: %w", err)
	}
	s := &Store{
		store:   factstore.NewConcurrentFactStore(factstore.NewSimpleInMemoryStore()),
		program: program,
		preds:   make(map[string]ast.PredicateSym, len(program.Decls)),
	}
	for sym := range program.Decls {
		s.preds[sym.Symbol] = sym
	}
	return s, nil
}

// AddDocument exports the committed result of an open document: its final
// activations, its selected choices and the conflicts registered on its
// interpretation lattice. Derived predicates are recomputed afterwards.
func (s *Store) AddDocument(d *engine.Document) error {
	res := d.Result()
	if res == nil || res.Status != engine.StatusCommitted {
		return fmt.Errorf("document %s has no committed result", d.Name)
	}
	timer := logging.StartTimer(logging.CategoryExport, "export "+d.Name)
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.added
	for _, a := range res.Activations {
		if err := s.addLocked("activation", ast.String(d.Name), ast.String(a.Neuron.Label),
			posTerm(int(a.Range.Begin)), posTerm(int(a.Range.End)), ast.Float64(a.Value)); err != nil {
			return err
		}
	}
	for i, label := range res.Selected {
		if err := s.addLocked("selected", ast.String(d.Name), ast.String(qualify(d.Name, label)), ast.Number(int64(i))); err != nil {
			return err
		}
	}
	lat := d.Lattice()
	for _, c := range lat.ConflictList() {
		left := qualify(d.Name, optionName(lat, c.A))
		right := qualify(d.Name, optionName(lat, c.B))
		if err := s.addLocked("conflict", ast.String(left), ast.String(right)); err != nil {
			return err
		}
	}
	stats, err := mengine.EvalProgramWithStats(s.program, s.store)
	if err != nil {
		return fmt.Errorf("evaluate rules: %w", err)
	}
	logging.ExportDebug("Exported %s: %d facts, eval %+v", d.Name, s.added-before, stats)
	return nil
}

func (s *Store) addLocked(pred string, args ...ast.BaseTerm) error {
	sym, ok := s.preds[pred]
	if !ok {
		return fmt.Errorf("predicate %s is not declared", pred)
	}
	if sym.Arity != len(args) {
		return fmt.Errorf("predicate %s expects %d args, got %d", pred, sym.Arity, len(args))
	}
	if s.store.Add(ast.Atom{Predicate: sym, Args: args}) {
		s.added++
	}
	return nil
}

// Facts returns every fact of a predicate, sorted by their rendering.
func (s *Store) Facts(pred string) ([]Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sym, ok := s.preds[pred]
	if !ok {
		return nil, fmt.Errorf("predicate %s is not declared", pred)
	}
	var out []Fact
	err := s.store.GetFacts(ast.NewQuery(sym), func(atom ast.Atom) error {
		args := make([]interface{}, len(atom.Args))
		for i, arg := range atom.Args {
			args[i] = decode(arg)
		}
		out = append(out, Fact{Predicate: pred, Args: args})
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, err
}

// Follows returns the neuron pairs of doc whose activations are directly
// adjacent, as "left>right".
func (s *Store) Follows(doc string) ([]string, error) {
	facts, err := s.Facts("follows")
	if err != nil {
		return nil, err
	}
	var out []string
	for _, f := range facts {
		if f.Args[0] == doc {
			out = append(out, fmt.Sprintf("%v>%v", f.Args[1], f.Args[2]))
		}
	}
	return out, nil
}

// Excluded returns the choices of doc ruled out by a selected choice.
func (s *Store) Excluded(doc string) ([]string, error) {
	facts, err := s.Facts("excluded")
	if err != nil {
		return nil, err
	}
	var out []string
	prefix := doc + "#"
	for _, f := range facts {
		if f.Args[0] != doc {
			continue
		}
		c, _ := f.Args[1].(string)
		out = append(out, strings.TrimPrefix(c, prefix))
	}
	sort.Strings(out)
	return out, nil
}

// Count returns the number of base facts added.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.added
}

func qualify(doc, label string) string { return doc + "#" + label }

// posTerm encodes an unbounded position as the minimum number.
func posTerm(p int) ast.Constant {
	if p == math.MinInt {
		return ast.Number(math.MinInt64)
	}
	return ast.Number(int64(p))
}

// optionName labels an option by its primitives.
func optionName(l *interpr.Lattice, o *interpr.Option) string {
	if o.Label() != "" {
		return o.Label()
	}
	prims := o.Prims()
	names := make([]string, len(prims))
	for i, p := range prims {
		names[i] = l.Primitive(p).Label()
	}
	return strings.Join(names, "&")
}

func decode(term ast.BaseTerm) interface{} {
	c, ok := term.(ast.Constant)
	if !ok {
		return fmt.Sprintf("%v", term)
	}
	switch c.Type {
	case ast.StringType, ast.NameType:
		return c.Symbol
	case ast.NumberType:
		return c.NumValue
	case ast.Float64Type:
		return math.Float64frombits(uint64(c.NumValue))
	default:
		return c.String()
	}
}
