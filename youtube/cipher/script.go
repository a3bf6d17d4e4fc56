package cipher

import (
	"regexp"
	"strings"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
	"github.com/dop251/goja/token"

	"github.com/ytget/ytresolve/internal/jsscan"
	"github.com/ytget/ytresolve/internal/logger"
)

// DeclKind tells how a declaration binds its name.
type DeclKind int

const (
	// DeclVar is a `var NAME=value` binding or a bare `NAME=value` assignment.
	DeclVar DeclKind = iota
	// DeclFunc is a `function NAME(...){...}` declaration.
	DeclFunc
)

// Decl is one top-level declaration of a player script.
type Decl struct {
	Name string
	Kind DeclKind
	// Text is the source of the declaration without the `var` keyword
	// (`NAME=value`) or the whole function declaration.
	Text string
	// Params and Body are set when the bound value is a function.
	Params []string
	Body   string
}

// IsFunc reports whether the declaration binds a function.
func (d Decl) IsFunc() bool { return d.Body != "" }

// Statement renders the declaration as a standalone statement.
func (d Decl) Statement() string {
	if d.Kind == DeclFunc {
		return d.Text + ";"
	}
	return "var " + d.Text + ";"
}

// Script is a player script with a pre-computed index of its top-level
// declarations. Declarations inside the outer IIFE wrapper count as top
// level.
type Script struct {
	src    string
	decls  map[string]Decl
	order  []string
	parsed bool
}

// NewScript indexes src. The index is built from goja's AST when src
// parses and from a regexp scan otherwise.
func NewScript(src string) *Script {
	s := &Script{src: src, decls: make(map[string]Decl)}
	if program, err := parser.ParseFile(nil, "", src, 0); err == nil {
		s.parsed = true
		s.indexAST(program.Body)
	} else {
		logger.WithComponent(logger.ComponentCipher).Debug("player script does not parse, scanning declarations", map[string]interface{}{
			"error": err.Error(),
		})
		s.indexScan()
	}
	return s
}

// Source returns the raw script.
func (s *Script) Source() string { return s.src }

// Parsed reports whether the index came from the AST.
func (s *Script) Parsed() bool { return s.parsed }

// Decl looks up a top-level declaration by name.
func (s *Script) Decl(name string) (Decl, bool) {
	d, ok := s.decls[name]
	return d, ok
}

// Functions returns every function-valued declaration in source order.
func (s *Script) Functions() []Decl {
	var out []Decl
	for _, name := range s.order {
		if d := s.decls[name]; d.IsFunc() {
			out = append(out, d)
		}
	}
	return out
}

// add keeps the first declaration seen for a name.
func (s *Script) add(d Decl) {
	if d.Name == "" {
		return
	}
	if _, seen := s.decls[d.Name]; seen {
		return
	}
	s.order = append(s.order, d.Name)
	s.decls[d.Name] = d
}

func (s *Script) slice(from, to int) string {
	// goja positions are 1-based.
	from, to = from-1, to-1
	if from < 0 || to > len(s.src) || from >= to {
		return ""
	}
	return s.src[from:to]
}

func (s *Script) indexAST(body []ast.Statement) {
	for _, stmt := range body {
		switch node := stmt.(type) {
		case *ast.VariableStatement:
			for _, b := range node.List {
				s.addBinding(b)
			}
		case *ast.LexicalDeclaration:
			for _, b := range node.List {
				s.addBinding(b)
			}
		case *ast.FunctionDeclaration:
			fn := node.Function
			if fn == nil || fn.Name == nil {
				continue
			}
			d := Decl{
				Name: fn.Name.Name.String(),
				Kind: DeclFunc,
				Text: s.slice(int(node.Idx0()), int(node.Idx1())),
			}
			s.fillFunc(&d, fn)
			s.add(d)
		case *ast.ExpressionStatement:
			switch expr := node.Expression.(type) {
			case *ast.AssignExpression:
				s.addAssign(expr)
			case *ast.SequenceExpression:
				for _, e := range expr.Sequence {
					if a, ok := e.(*ast.AssignExpression); ok {
						s.addAssign(a)
					}
				}
			case *ast.CallExpression:
				// (function(g){...})(_yt_player) wrapper.
				if fn := calleeFunction(expr.Callee); fn != nil && fn.Body != nil {
					s.indexAST(fn.Body.List)
				}
			}
		}
	}
}

func calleeFunction(e ast.Expression) *ast.FunctionLiteral {
	switch c := e.(type) {
	case *ast.FunctionLiteral:
		return c
	case *ast.DotExpression:
		// (function(){...}).call(this)
		return calleeFunction(c.Left)
	}
	return nil
}

func (s *Script) addBinding(b *ast.Binding) {
	id, ok := b.Target.(*ast.Identifier)
	if !ok || b.Initializer == nil {
		return
	}
	d := Decl{Name: id.Name.String(), Kind: DeclVar, Text: s.slice(int(b.Idx0()), int(b.Idx1()))}
	if fn, ok := b.Initializer.(*ast.FunctionLiteral); ok {
		s.fillFunc(&d, fn)
	}
	s.add(d)
}

func (s *Script) addAssign(a *ast.AssignExpression) {
	id, ok := a.Left.(*ast.Identifier)
	if !ok || a.Operator != token.ASSIGN {
		return
	}
	d := Decl{Name: id.Name.String(), Kind: DeclVar, Text: s.slice(int(a.Idx0()), int(a.Idx1()))}
	if fn, ok := a.Right.(*ast.FunctionLiteral); ok {
		s.fillFunc(&d, fn)
	}
	s.add(d)
}

func (s *Script) fillFunc(d *Decl, fn *ast.FunctionLiteral) {
	if fn.ParameterList != nil {
		for _, p := range fn.ParameterList.List {
			if id, ok := p.Target.(*ast.Identifier); ok {
				d.Params = append(d.Params, id.Name.String())
			}
		}
	}
	if fn.Body != nil {
		d.Body = s.slice(int(fn.Body.LeftBrace), int(fn.Body.RightBrace)+1)
	}
}

var declScan = regexp.MustCompile(`(?:^|[;,{}\n])\s*(?:var\s+|let\s+|const\s+)?([A-Za-z_$][\w$]*)\s*=\s*([^=\s])`)

// indexScan is the fallback used when the script does not parse. It finds
// NAME=value bindings, reading function values into params and body.
func (s *Script) indexScan() {
	for _, m := range declScan.FindAllStringSubmatchIndex(s.src, -1) {
		name := s.src[m[2]:m[3]]
		if isKeyword(name) {
			continue
		}
		valueStart := m[4]
		rest := s.src[valueStart:]
		d := Decl{Name: name, Kind: DeclVar}
		if fn, ok := strings.CutPrefix(rest, "function"); ok {
			open := strings.IndexByte(fn, '(')
			if open < 0 || strings.TrimSpace(fn[:open]) != "" {
				continue
			}
			params, ok := jsscan.CutAfter(fn[open:])
			if !ok {
				continue
			}
			tail := fn[open+len(params):]
			trimmed := strings.TrimLeft(tail, " \t\r\n")
			body, ok := jsscan.CutAfter(trimmed)
			if !ok || body[0] != '{' {
				continue
			}
			d.Params = splitParams(params)
			d.Body = body
			end := len("function") + open + len(params) + (len(tail) - len(trimmed)) + len(body)
			d.Text = name + "=" + rest[:end]
		} else {
			value := jsscan.CutExpression(rest)
			if value == "" {
				continue
			}
			d.Text = name + "=" + value
		}
		s.add(d)
	}
}

func splitParams(group string) []string {
	inner := strings.TrimSpace(group[1 : len(group)-1])
	if inner == "" {
		return nil
	}
	parts := strings.Split(inner, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func isKeyword(s string) bool {
	switch s {
	case "var", "let", "const", "return", "typeof", "new", "this", "function", "if", "else", "for", "while":
		return true
	}
	return false
}
