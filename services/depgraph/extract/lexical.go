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
	"bytes"
	"context"
	"regexp"
	"sort"
	"strings"
)

// LexicalGrammarName is the name of the regexp grammar.
const LexicalGrammarName = "lexical"

// dialect selects which rule set applies to an extension.
type dialect int

const (
	dialectScript dialect = iota
	dialectPython
	dialectCSS
	dialectC
	dialectGo
)

var dialectByExtension = map[string]dialect{
	".py":   dialectPython,
	".pyi":  dialectPython,
	".css":  dialectCSS,
	".scss": dialectCSS,
	".sass": dialectCSS,
	".less": dialectCSS,
	".c":    dialectC,
	".h":    dialectC,
	".cc":   dialectC,
	".cpp":  dialectC,
	".hpp":  dialectC,
	".m":    dialectC,
	".mm":   dialectC,
	".go":   dialectGo,
}

// quoted matches a single- or double-quoted string as two groups.
const quoted = `(?:'([^'\n]*)'|"([^"\n]*)")`

// quotedOrPlainTemplate adds a backtick string without substitutions.
const quotedOrPlainTemplate = "(?:'([^'\\n]*)'|\"([^\"\\n]*)\"|`([^`$\\n]*)`)"

// lexRule is one regexp and the kind of reference it yields. The token is
// the first participating capture group unless expand is set.
type lexRule struct {
	re     *regexp.Regexp
	kind   RefKind
	expand func(content []byte, match []int) []lexToken
}

type lexToken struct {
	raw    string
	offset int
}

var (
	ruleESFrom = lexRule{
		re:   regexp.MustCompile(`\b(?:import|export)\b[^'"` + "`" + `;()]*?\bfrom\s*` + quoted),
		kind: KindImport,
	}
	ruleESBare = lexRule{
		re:   regexp.MustCompile(`\bimport\s*` + quoted),
		kind: KindImport,
	}
	ruleRequire = lexRule{
		re:   regexp.MustCompile(`\brequire\s*\(\s*` + quotedOrPlainTemplate + `\s*\)`),
		kind: KindRequire,
	}
	ruleDynamicImport = lexRule{
		re:   regexp.MustCompile(`\bimport\s*\(\s*` + quotedOrPlainTemplate + `\s*\)`),
		kind: KindDynamicImport,
	}
	ruleInclude = lexRule{
		re:   regexp.MustCompile(`(?m)^[ \t]*#[ \t]*include[ \t]*"([^"\n]+)"`),
		kind: KindInclude,
	}
	ruleCSSImport = lexRule{
		re:   regexp.MustCompile(`@import\s+(?:url\(\s*)?(?:'([^'\n]*)'|"([^"\n]*)"|([^'"()\s;]+))`),
		kind: KindImport,
	}
	ruleCSSURL = lexRule{
		re:   regexp.MustCompile(`\burl\(\s*(?:'([^'\n]*)'|"([^"\n]*)"|([^'"()\s]+))\s*\)`),
		kind: KindPathLiteral,
	}
	rulePathLiteral = lexRule{
		re:   regexp.MustCompile("'(\\.\\.?/[^'\\n]*)'|\"(\\.\\.?/[^\"\\n]*)\"|`(\\.\\.?/[^`$\\n]*)`"),
		kind: KindPathLiteral,
	}
	rulePyFromRelative = lexRule{
		re:     regexp.MustCompile(`(?m)^[ \t]*from[ \t]+(\.+)([A-Za-z_][\w.]*)?[ \t]+import\b`),
		kind:   KindImport,
		expand: expandPyRelative,
	}
	rulePyFromAbsolute = lexRule{
		re:   regexp.MustCompile(`(?m)^[ \t]*from[ \t]+([A-Za-z_][\w.]*)[ \t]+import\b`),
		kind: KindImport,
	}
	rulePyImport = lexRule{
		re:     regexp.MustCompile(`(?m)^[ \t]*import[ \t]+([A-Za-z_][\w.]*(?:[ \t]+as[ \t]+\w+)?(?:[ \t]*,[ \t]*[A-Za-z_][\w.]*(?:[ \t]+as[ \t]+\w+)?)*)`),
		kind:   KindImport,
		expand: expandPyImportList,
	}
	ruleGoImportBlock = lexRule{
		re:     regexp.MustCompile(`(?s)\bimport\s*\(([^)]*)\)`),
		kind:   KindPackage,
		expand: expandGoImportBlock,
	}
	ruleGoImportSingle = lexRule{
		re:   regexp.MustCompile(`(?m)^[ \t]*import[ \t]+(?:[\w.]+[ \t]+)?"([^"\n]+)"`),
		kind: KindPackage,
	}

	goImportSpec = regexp.MustCompile(`"([^"\n]+)"`)
)

// rulesByDialect orders rules most specific first; the first rule to
// claim a literal wins.
var rulesByDialect = map[dialect][]lexRule{
	dialectScript: {ruleESFrom, ruleDynamicImport, ruleRequire, ruleESBare, ruleCSSURL, rulePathLiteral},
	dialectPython: {rulePyFromRelative, rulePyFromAbsolute, rulePyImport, rulePathLiteral},
	dialectCSS:    {ruleCSSImport, ruleCSSURL, rulePathLiteral},
	dialectC:      {ruleInclude, rulePathLiteral},
	dialectGo:     {ruleGoImportBlock, ruleGoImportSingle},
}

// LexicalGrammar recognizes references with regular expressions.
//
// It accepts every extension. Unknown extensions are scanned with the
// script rules (ES imports, require, dynamic import, url() and quoted
// relative paths).
type LexicalGrammar struct{}

// NewLexicalGrammar creates the lexical grammar.
func NewLexicalGrammar() *LexicalGrammar {
	return &LexicalGrammar{}
}

// Name returns "lexical".
func (g *LexicalGrammar) Name() string { return LexicalGrammarName }

// Extensions returns nil; the lexical grammar is the fallback for all.
func (g *LexicalGrammar) Extensions() []string { return nil }

// Scan returns the tokens of content in source order.
//
// Description:
//
//	Applies the dialect's rules in order. A literal already claimed by an
//	earlier rule (same start offset) is not reported again, so
//	`import x from './a'` yields one import token and no path literal.
func (g *LexicalGrammar) Scan(ctx context.Context, ext string, content []byte) ([]Token, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rules := rulesByDialect[dialectByExtension[ext]]
	lines := newLineIndex(content)

	type positioned struct {
		offset int
		token  Token
	}
	var found []positioned
	claimed := make(map[int]struct{})

	for _, rule := range rules {
		for _, match := range rule.re.FindAllSubmatchIndex(content, -1) {
			var toks []lexToken
			if rule.expand != nil {
				toks = rule.expand(content, match)
			} else if tok, ok := firstGroup(content, match); ok {
				toks = []lexToken{tok}
			}
			for _, tok := range toks {
				if tok.raw == "" {
					continue
				}
				if _, dup := claimed[tok.offset]; dup {
					continue
				}
				claimed[tok.offset] = struct{}{}
				found = append(found, positioned{
					offset: tok.offset,
					token:  Token{Raw: tok.raw, Line: lines.lineAt(tok.offset), Kind: rule.kind},
				})
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	sort.SliceStable(found, func(i, j int) bool { return found[i].offset < found[j].offset })
	tokens := make([]Token, len(found))
	for i, p := range found {
		tokens[i] = p.token
	}
	return tokens, nil
}

// firstGroup returns the first participating capture group of match.
func firstGroup(content []byte, match []int) (lexToken, bool) {
	for i := 2; i+1 < len(match); i += 2 {
		if match[i] >= 0 {
			return lexToken{raw: string(content[match[i]:match[i+1]]), offset: match[i]}, true
		}
	}
	return lexToken{}, false
}

// expandPyRelative rewrites `from ..a.b import c` as "../a/b".
func expandPyRelative(content []byte, match []int) []lexToken {
	dots := string(content[match[2]:match[3]])
	module := ""
	if match[4] >= 0 {
		module = string(content[match[4]:match[5]])
	}
	return []lexToken{{raw: PythonRelativePath(dots, module), offset: match[2]}}
}

// expandPyImportList splits `import a.b as x, c` into one token per module.
func expandPyImportList(content []byte, match []int) []lexToken {
	start := match[2]
	list := string(content[match[2]:match[3]])

	var out []lexToken
	offset := 0
	for _, part := range strings.Split(list, ",") {
		trimmed := strings.TrimSpace(part)
		lead := strings.Index(part, trimmed)
		if fields := strings.Fields(trimmed); len(fields) > 0 {
			out = append(out, lexToken{raw: fields[0], offset: start + offset + lead})
		}
		offset += len(part) + 1
	}
	return out
}

// expandGoImportBlock returns every quoted path inside import ( ... ).
func expandGoImportBlock(content []byte, match []int) []lexToken {
	block := content[match[2]:match[3]]
	var out []lexToken
	for _, spec := range goImportSpec.FindAllSubmatchIndex(block, -1) {
		out = append(out, lexToken{
			raw:    string(block[spec[2]:spec[3]]),
			offset: match[2] + spec[2],
		})
	}
	return out
}

// PythonRelativePath converts a relative module (leading dots plus dotted
// name) into a slash path: "." -> ".", ".x" -> "./x", "..a.b" -> "../a/b".
func PythonRelativePath(dots, module string) string {
	var b strings.Builder
	switch n := len(dots); {
	case n <= 1:
		b.WriteString(".")
	default:
		b.WriteString("..")
		for i := 2; i < n; i++ {
			b.WriteString("/..")
		}
	}
	if module != "" {
		b.WriteString("/")
		b.WriteString(strings.ReplaceAll(module, ".", "/"))
	}
	return b.String()
}

// lineIndex maps byte offsets to 1-indexed line numbers.
type lineIndex []int

func newLineIndex(content []byte) lineIndex {
	var idx lineIndex
	for off := 0; ; {
		i := bytes.IndexByte(content[off:], '\n')
		if i < 0 {
			break
		}
		idx = append(idx, off+i)
		off += i + 1
	}
	return idx
}

func (l lineIndex) lineAt(offset int) int {
	return sort.SearchInts(l, offset) + 1
}
