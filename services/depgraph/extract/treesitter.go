// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extract

import (
	"context"
	"fmt"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/css"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// cancelCheckInterval is how many nodes are visited between context checks.
const cancelCheckInterval = 4096

// collectFunc inspects one node and records tokens. It is called in
// pre-order, so a parent can claim a string before the string node itself
// is visited.
type collectFunc func(n *sitter.Node, content []byte, c *collector)

// SyntaxGrammar scans files with a tree-sitter parser.
//
// Thread Safety: SyntaxGrammar is safe for concurrent use; every Scan
// creates its own parser.
type SyntaxGrammar struct {
	name       string
	extensions []string
	language   func() *sitter.Language
	collect    collectFunc
}

// NewJavaScriptGrammar handles .js, .jsx, .mjs and .cjs.
func NewJavaScriptGrammar() *SyntaxGrammar {
	return &SyntaxGrammar{
		name:       "javascript",
		extensions: []string{".js", ".jsx", ".mjs", ".cjs"},
		language:   javascript.GetLanguage,
		collect:    collectScript,
	}
}

// NewTypeScriptGrammar handles .ts, .mts and .cts.
func NewTypeScriptGrammar() *SyntaxGrammar {
	return &SyntaxGrammar{
		name:       "typescript",
		extensions: []string{".ts", ".mts", ".cts"},
		language:   typescript.GetLanguage,
		collect:    collectScript,
	}
}

// NewTSXGrammar handles .tsx.
func NewTSXGrammar() *SyntaxGrammar {
	return &SyntaxGrammar{
		name:       "tsx",
		extensions: []string{".tsx"},
		language:   tsx.GetLanguage,
		collect:    collectScript,
	}
}

// NewPythonGrammar handles .py and .pyi.
func NewPythonGrammar() *SyntaxGrammar {
	return &SyntaxGrammar{
		name:       "python",
		extensions: []string{".py", ".pyi"},
		language:   python.GetLanguage,
		collect:    collectPython,
	}
}

// NewGoGrammar handles .go.
func NewGoGrammar() *SyntaxGrammar {
	return &SyntaxGrammar{
		name:       "go",
		extensions: []string{".go"},
		language:   golang.GetLanguage,
		collect:    collectGo,
	}
}

// NewCSSGrammar handles .css.
func NewCSSGrammar() *SyntaxGrammar {
	return &SyntaxGrammar{
		name:       "css",
		extensions: []string{".css"},
		language:   css.GetLanguage,
		collect:    collectCSS,
	}
}

// Name returns the grammar name.
func (g *SyntaxGrammar) Name() string { return g.name }

// Extensions returns the handled extensions.
func (g *SyntaxGrammar) Extensions() []string {
	return append([]string(nil), g.extensions...)
}

// Scan parses content and returns its reference tokens in source order.
//
// Description:
//
//	Parses with tree-sitter, which always produces a tree (with ERROR
//	nodes for malformed regions), then walks every node in pre-order.
//
// Outputs:
//
//	[]Token - Tokens sorted by position.
//	error - Context error, or the parser error when tree-sitter gives up.
func (g *SyntaxGrammar) Scan(ctx context.Context, _ string, content []byte) ([]Token, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(g.language())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse %s: %w", g.name, err)
	}
	defer tree.Close()

	c := &collector{claimed: make(map[uint32]struct{})}
	stack := []*sitter.Node{tree.RootNode()}
	visited := 0
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		visited++
		if visited%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		g.collect(n, content, c)

		for i := int(n.ChildCount()) - 1; i >= 0; i-- {
			if child := n.Child(i); child != nil {
				stack = append(stack, child)
			}
		}
	}

	return c.tokens(), nil
}

// collector accumulates tokens keyed by the start byte of their literal.
type collector struct {
	found   []positionedToken
	claimed map[uint32]struct{}
}

type positionedToken struct {
	offset uint32
	token  Token
}

// add records raw for literal node n unless n was already claimed.
func (c *collector) add(n *sitter.Node, raw string, kind RefKind) {
	if n == nil || raw == "" {
		return
	}
	if _, ok := c.claimed[n.StartByte()]; ok {
		return
	}
	c.claimed[n.StartByte()] = struct{}{}
	c.found = append(c.found, positionedToken{
		offset: n.StartByte(),
		token:  Token{Raw: raw, Line: int(n.StartPoint().Row) + 1, Kind: kind},
	})
}

func (c *collector) isClaimed(n *sitter.Node) bool {
	_, ok := c.claimed[n.StartByte()]
	return ok
}

func (c *collector) tokens() []Token {
	sort.SliceStable(c.found, func(i, j int) bool { return c.found[i].offset < c.found[j].offset })
	out := make([]Token, len(c.found))
	for i, p := range c.found {
		out[i] = p.token
	}
	return out
}

func nodeText(n *sitter.Node, content []byte) string {
	return string(content[n.StartByte():n.EndByte()])
}

// collectScript handles JavaScript, TypeScript and TSX trees.
func collectScript(n *sitter.Node, content []byte, c *collector) {
	switch n.Type() {
	case "import_statement", "export_statement":
		if src := n.ChildByFieldName("source"); src != nil {
			if raw, ok := scriptLiteral(src, content); ok {
				c.add(src, raw, KindImport)
			}
		}

	case "import_require_clause":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			if child.Type() == "string" {
				if raw, ok := scriptLiteral(child, content); ok {
					c.add(child, raw, KindRequire)
				}
			}
		}

	case "call_expression":
		fn := n.ChildByFieldName("function")
		args := n.ChildByFieldName("arguments")
		if fn == nil || args == nil || args.NamedChildCount() == 0 {
			return
		}
		var kind RefKind
		switch {
		case fn.Type() == "import":
			kind = KindDynamicImport
		case fn.Type() == "identifier" && nodeText(fn, content) == "require":
			kind = KindRequire
		default:
			return
		}
		arg := args.NamedChild(0)
		if raw, ok := scriptLiteral(arg, content); ok {
			c.add(arg, raw, kind)
		}

	case "string", "template_string":
		if c.isClaimed(n) {
			return
		}
		if raw, ok := scriptLiteral(n, content); ok && isRelative(raw) {
			c.add(n, raw, KindPathLiteral)
		}
	}
}

// scriptLiteral returns the value of a string or substitution-free
// template string.
func scriptLiteral(n *sitter.Node, content []byte) (string, bool) {
	switch n.Type() {
	case "string":
		return unquote(nodeText(n, content))
	case "template_string":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if n.NamedChild(i).Type() == "template_substitution" {
				return "", false
			}
		}
		return unquote(nodeText(n, content))
	default:
		return "", false
	}
}

// collectPython handles Python trees.
func collectPython(n *sitter.Node, content []byte, c *collector) {
	switch n.Type() {
	case "import_statement":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			switch child.Type() {
			case "dotted_name":
				c.add(child, nodeText(child, content), KindImport)
			case "aliased_import":
				if name := child.ChildByFieldName("name"); name != nil {
					c.add(name, nodeText(name, content), KindImport)
				}
			}
		}

	case "import_from_statement":
		module := n.ChildByFieldName("module_name")
		if module == nil {
			return
		}
		switch module.Type() {
		case "dotted_name":
			c.add(module, nodeText(module, content), KindImport)
		case "relative_import":
			var dots, name string
			for i := 0; i < int(module.ChildCount()); i++ {
				child := module.Child(i)
				switch child.Type() {
				case "import_prefix":
					dots = nodeText(child, content)
				case "dotted_name":
					name = nodeText(child, content)
				}
			}
			c.add(module, PythonRelativePath(dots, name), KindImport)
		}

	case "string":
		if c.isClaimed(n) {
			return
		}
		if raw, ok := pythonLiteral(nodeText(n, content)); ok && isRelative(raw) {
			c.add(n, raw, KindPathLiteral)
		}
	}
}

// pythonLiteral strips string prefixes and quotes. Formatted strings with
// replacement fields are rejected.
func pythonLiteral(text string) (string, bool) {
	prefix := strings.IndexAny(text, `'"`)
	if prefix < 0 {
		return "", false
	}
	flags := strings.ToLower(text[:prefix])
	body := text[prefix:]
	for _, q := range []string{`"""`, `'''`} {
		if len(body) >= 6 && strings.HasPrefix(body, q) && strings.HasSuffix(body, q) {
			return "", false
		}
	}
	value, ok := unquote(body)
	if !ok || strings.Contains(value, "\n") {
		return "", false
	}
	if strings.Contains(flags, "f") && strings.Contains(value, "{") {
		return "", false
	}
	return value, true
}

// collectGo handles Go trees.
func collectGo(n *sitter.Node, content []byte, c *collector) {
	if n.Type() != "import_spec" {
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		switch child.Type() {
		case "interpreted_string_literal", "raw_string_literal":
			if raw, ok := unquote(nodeText(child, content)); ok {
				c.add(child, raw, KindPackage)
			}
		}
	}
}

// collectCSS handles CSS trees.
func collectCSS(n *sitter.Node, content []byte, c *collector) {
	switch n.Type() {
	case "import_statement":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			switch child.Type() {
			case "string_value":
				if raw, ok := unquote(nodeText(child, content)); ok {
					c.add(child, raw, KindImport)
				}
			case "call_expression":
				if lit, raw, ok := cssURL(child, content); ok {
					c.add(lit, raw, KindImport)
				}
			}
		}

	case "call_expression":
		if lit, raw, ok := cssURL(n, content); ok && !c.isClaimed(lit) {
			c.add(lit, raw, KindPathLiteral)
		}
	}
}

// cssURL returns the argument node and value of a url(...) call.
func cssURL(n *sitter.Node, content []byte) (*sitter.Node, string, bool) {
	var name, args *sitter.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "function_name":
			name = child
		case "arguments":
			args = child
		}
	}
	if name == nil || args == nil || nodeText(name, content) != "url" || args.NamedChildCount() == 0 {
		return nil, "", false
	}
	arg := args.NamedChild(0)
	text := strings.TrimSpace(nodeText(arg, content))
	if arg.Type() == "string_value" {
		raw, ok := unquote(text)
		return arg, raw, ok
	}
	return arg, text, text != ""
}

// unquote strips one pair of matching ', " or ` quotes.
func unquote(s string) (string, bool) {
	if len(s) < 2 {
		return "", false
	}
	q := s[0]
	if (q != '\'' && q != '"' && q != '`') || s[len(s)-1] != q {
		return "", false
	}
	return s[1 : len(s)-1], true
}
