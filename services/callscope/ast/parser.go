// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ast extracts declared types and their members from source trees.
package ast

import (
	"context"
	"sort"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/AleutianAI/callscope/services/callscope/resolve"
)

// DefaultMaxFileSize is the default per-file size limit in bytes.
const DefaultMaxFileSize = 2 * 1024 * 1024

// maxWalkDepth bounds recursion into deeply nested syntax trees.
const maxWalkDepth = 512

// Parser extracts type declarations from one source file.
//
// Description:
//
//	A file with syntax errors is a failure for the whole file: Parse
//	returns a *ParseError wrapping ErrParseFailed and no result, so no
//	declarations from a malformed file reach the inventory.
//
// Thread Safety:
//
//	Implementations must be safe for concurrent use. Multiple goroutines
//	may call Parse simultaneously with different content.
type Parser interface {
	// Parse extracts declarations from source code.
	//
	// Parameters:
	//   - ctx: Context for cancellation.
	//   - content: Raw source code bytes (must be valid UTF-8).
	//   - filePath: Path to the file relative to the scan root, forward slashes.
	//
	// Returns:
	//   - *ParseResult: Extracted declarations. Never nil on success.
	//   - error: ErrParseFailed (as *ParseError), ErrInvalidContent,
	//     ErrFileTooLarge, or a context error.
	Parse(ctx context.Context, content []byte, filePath string) (*ParseResult, error)

	// Language returns the lowercase language name ("go", "python").
	Language() string

	// Extensions returns the handled file extensions including the dot.
	Extensions() []string
}

// ParserRegistry manages parser instances by language and file extension.
//
// Thread Safety:
//
//	ParserRegistry is fully thread-safe. Registration uses write locks,
//	lookups use read locks.
type ParserRegistry struct {
	mu sync.RWMutex

	byLanguage  map[string]Parser
	byExtension map[string]Parser
}

// NewParserRegistry creates a new empty ParserRegistry.
func NewParserRegistry() *ParserRegistry {
	return &ParserRegistry{
		byLanguage:  make(map[string]Parser),
		byExtension: make(map[string]Parser),
	}
}

// DefaultRegistry returns a registry holding parsers for the given languages.
// Unknown language names are ignored.
func DefaultRegistry(languages []string, opts ...ParserOption) *ParserRegistry {
	r := NewParserRegistry()
	for _, lang := range languages {
		switch lang {
		case "go":
			r.Register(NewGoParser(opts...))
		case "python":
			r.Register(NewPythonParser(opts...))
		}
	}
	return r
}

// Register adds a parser under its language and every extension.
// Existing entries are overwritten.
func (r *ParserRegistry) Register(parser Parser) {
	if parser == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.byLanguage[parser.Language()] = parser
	for _, ext := range parser.Extensions() {
		r.byExtension[ext] = parser
	}
}

// GetByLanguage returns the parser for a language name.
func (r *ParserRegistry) GetByLanguage(language string) (Parser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	parser, ok := r.byLanguage[language]
	return parser, ok
}

// GetByExtension returns the parser for a file extension such as ".go".
func (r *ParserRegistry) GetByExtension(ext string) (Parser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	parser, ok := r.byExtension[ext]
	return parser, ok
}

// Languages returns the registered language names in sorted order.
func (r *ParserRegistry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	languages := make([]string, 0, len(r.byLanguage))
	for lang := range r.byLanguage {
		languages = append(languages, lang)
	}
	sort.Strings(languages)
	return languages
}

// Extensions returns the registered file extensions in sorted order.
func (r *ParserRegistry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exts := make([]string, 0, len(r.byExtension))
	for ext := range r.byExtension {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// ParserOption configures the tree-sitter parsers.
type ParserOption func(*parserConfig)

type parserConfig struct {
	maxFileSize int64
	visible     resolve.Visibility
}

func newParserConfig(opts []ParserOption) parserConfig {
	cfg := parserConfig{
		maxFileSize: DefaultMaxFileSize,
		visible:     resolve.DefaultVisibility,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithMaxFileSize sets the maximum file size a parser accepts.
// Non-positive values are ignored.
func WithMaxFileSize(bytes int64) ParserOption {
	return func(c *parserConfig) {
		if bytes > 0 {
			c.maxFileSize = bytes
		}
	}
}

// WithMemberVisibility sets the rule applied to member names.
// A nil rule is ignored.
func WithMemberVisibility(v resolve.Visibility) ParserOption {
	return func(c *parserConfig) {
		if v != nil {
			c.visible = v
		}
	}
}

// nodeText returns the source text of a node.
func nodeText(n *sitter.Node, content []byte) string {
	return string(content[n.StartByte():n.EndByte()])
}

// firstErrorPosition finds the first error or missing node in a tree.
// Returns 1-indexed line and column, or zeros if none is found.
func firstErrorPosition(n *sitter.Node, depth int) (int, int) {
	if n == nil || depth > maxWalkDepth {
		return 0, 0
	}
	if n.IsError() || n.IsMissing() {
		p := n.StartPoint()
		return int(p.Row) + 1, int(p.Column) + 1
	}
	if !n.HasError() {
		return 0, 0
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if line, col := firstErrorPosition(n.Child(i), depth+1); line > 0 {
			return line, col
		}
	}
	return 0, 0
}

// stripTypeParams removes bracketed type parameters from a type expression.
func stripTypeParams(s string) string {
	if i := strings.Index(s, "["); i >= 0 {
		return s[:i]
	}
	return s
}
