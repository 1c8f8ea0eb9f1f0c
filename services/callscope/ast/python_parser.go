// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// PythonParser extracts classes and their methods from Python source.
//
// Description:
//
//	Every class_definition at any depth becomes its own TypeDecl holding the
//	function definitions (decorated or not) declared directly in its body.
//	A class nested in another class or in a function is reported separately
//	and its methods are not added to the enclosing class.
//
// Thread Safety:
//
//	PythonParser instances are safe for concurrent use. Multiple goroutines
//	may call Parse simultaneously on the same PythonParser instance.
//
// Example:
//
//	parser := NewPythonParser()
//	result, err := parser.Parse(ctx, []byte("class A:\n    def run(self): pass\n"), "a.py")
//	if err != nil {
//	    return err
//	}
//	for _, t := range result.Types {
//	    fmt.Println(t.Name, t.Members)
//	}
type PythonParser struct {
	cfg parserConfig
}

// NewPythonParser creates a PythonParser with the given options.
//
// Inputs:
//   - opts: Optional configuration (WithMaxFileSize, WithMemberVisibility)
//
// Outputs:
//   - *PythonParser: Configured parser instance, never nil
func NewPythonParser(opts ...ParserOption) *PythonParser {
	return &PythonParser{cfg: newParserConfig(opts)}
}

// Parse extracts class declarations from Python source code.
//
// Inputs:
//   - ctx: Context for cancellation. Checked before and after parsing.
//     Tree-sitter parsing itself cannot be interrupted mid-parse.
//   - content: Raw Python source code bytes. Must be valid UTF-8.
//   - filePath: Path to the file, for results and error reporting.
//
// Outputs:
//   - *ParseResult: Extracted classes. Never nil on success.
//   - error: Non-nil for failures:
//   - *ParseError (ErrParseFailed): source contains syntax errors
//   - ErrFileTooLarge: content exceeds the size limit
//   - ErrInvalidContent: content is not valid UTF-8
//   - Context errors: context was canceled
//
// Thread Safety:
//
//	This method is safe for concurrent use.
func (p *PythonParser) Parse(ctx context.Context, content []byte, filePath string) (*ParseResult, error) {
	return parseWith(ctx, p.Language(), python.GetLanguage(), p.cfg.maxFileSize, content, filePath,
		func(root *sitter.Node, content []byte, result *ParseResult) {
			p.extractClasses(root, content, result, false, 0)
		})
}

// Language returns "python".
func (p *PythonParser) Language() string {
	return "python"
}

// Extensions returns []string{".py", ".pyi"}.
func (p *PythonParser) Extensions() []string {
	return []string{".py", ".pyi"}
}

// extractClasses finds class definitions at any depth.
func (p *PythonParser) extractClasses(node *sitter.Node, content []byte, result *ParseResult, nested bool, depth int) {
	if depth > maxWalkDepth {
		return
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "class_definition":
			p.processClass(child, content, result, nested)
			p.extractClasses(child, content, result, true, depth+1)
		case "function_definition":
			p.extractClasses(child, content, result, true, depth+1)
		default:
			p.extractClasses(child, content, result, nested, depth+1)
		}
	}
}

// processClass records a class and the methods declared directly in its body.
func (p *PythonParser) processClass(node *sitter.Node, content []byte, result *ParseResult, nested bool) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}

	decl := TypeDecl{
		Name:      nodeText(nameNode, content),
		StartLine: int(node.StartPoint().Row + 1),
		Nested:    nested,
	}
	if body := node.ChildByFieldName("body"); body != nil {
		decl.Members = p.extractClassMembers(body, content)
	}
	result.Types = append(result.Types, decl)
}

// extractClassMembers returns the visible method names of a class body.
func (p *PythonParser) extractClassMembers(body *sitter.Node, content []byte) []string {
	members := make([]string, 0)
	for i := 0; i < int(body.ChildCount()); i++ {
		child := body.Child(i)
		var name string
		switch child.Type() {
		case "function_definition":
			name = p.functionName(child, content)
		case "decorated_definition":
			name = p.decoratedFunctionName(child, content)
		}
		if name != "" && p.cfg.visible(name) {
			members = append(members, name)
		}
	}
	return members
}

// decoratedFunctionName returns the function name inside a decorated
// definition, or "" when the definition is a class.
func (p *PythonParser) decoratedFunctionName(node *sitter.Node, content []byte) string {
	def := node.ChildByFieldName("definition")
	if def == nil || def.Type() != "function_definition" {
		return ""
	}
	return p.functionName(def, content)
}

func (p *PythonParser) functionName(node *sitter.Node, content []byte) string {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return ""
	}
	return nodeText(nameNode, content)
}

var _ Parser = (*PythonParser)(nil)
