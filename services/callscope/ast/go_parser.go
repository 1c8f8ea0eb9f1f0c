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
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
)

// GoParser extracts type declarations and methods from Go source.
//
// Description:
//
//	Every non-interface type declaration becomes a TypeDecl, including
//	types declared inside function bodies (marked Nested). Interfaces are
//	skipped: traced owners are always concrete types. Method declarations
//	are reported by receiver type with type parameters removed, since the
//	receiver's type may be declared in another file of the package.
//
// Thread Safety:
//
//	GoParser instances are safe for concurrent use. Each Parse call creates
//	its own tree-sitter parser.
type GoParser struct {
	cfg parserConfig
}

// NewGoParser creates a GoParser.
//
// Example:
//
//	parser := NewGoParser(WithMaxFileSize(5 * 1024 * 1024))
//	result, err := parser.Parse(ctx, content, "orders/service.go")
func NewGoParser(opts ...ParserOption) *GoParser {
	return &GoParser{cfg: newParserConfig(opts)}
}

// Parse extracts declarations from Go source.
//
// Inputs:
//   - ctx: Context for cancellation. Checked before and after parsing.
//   - content: Raw Go source bytes. Must be valid UTF-8.
//   - filePath: Path to the file, for results and error reporting.
//
// Outputs:
//   - *ParseResult: Types and methods. Never nil on success.
//   - error: *ParseError wrapping ErrParseFailed on syntax errors,
//     ErrFileTooLarge, ErrInvalidContent, or a context error.
//
// Thread Safety: This method is safe for concurrent use.
func (p *GoParser) Parse(ctx context.Context, content []byte, filePath string) (*ParseResult, error) {
	return parseWith(ctx, p.Language(), golang.GetLanguage(), p.cfg.maxFileSize, content, filePath,
		func(root *sitter.Node, content []byte, result *ParseResult) {
			p.extractTypes(root, content, result, false, 0)
			p.extractMethods(root, content, result)
		})
}

// Language returns "go".
func (p *GoParser) Language() string {
	return "go"
}

// Extensions returns []string{".go"}.
func (p *GoParser) Extensions() []string {
	return []string{".go"}
}

// extractTypes walks the tree for type_spec nodes at any depth.
func (p *GoParser) extractTypes(node *sitter.Node, content []byte, result *ParseResult, nested bool, depth int) {
	if depth > maxWalkDepth {
		return
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "type_spec":
			p.processTypeSpec(child, content, result, nested)
		case "function_declaration", "method_declaration", "func_literal":
			p.extractTypes(child, content, result, true, depth+1)
			continue
		}
		p.extractTypes(child, content, result, nested, depth+1)
	}
}

// processTypeSpec records a single named type unless it is an interface.
func (p *GoParser) processTypeSpec(node *sitter.Node, content []byte, result *ParseResult, nested bool) {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	if typeNode := node.ChildByFieldName("type"); typeNode != nil && typeNode.Type() == "interface_type" {
		return
	}

	result.Types = append(result.Types, TypeDecl{
		Name:      nodeText(nameNode, content),
		StartLine: int(node.StartPoint().Row + 1),
		Nested:    nested,
	})
}

// extractMethods records top-level method declarations.
func (p *GoParser) extractMethods(root *sitter.Node, content []byte, result *ParseResult) {
	for i := 0; i < int(root.ChildCount()); i++ {
		child := root.Child(i)
		if child.Type() == "method_declaration" {
			p.processMethodDecl(child, content, result)
		}
	}
}

// processMethodDecl extracts a single method declaration.
func (p *GoParser) processMethodDecl(node *sitter.Node, content []byte, result *ParseResult) {
	var name, receiverStr string

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "parameter_list":
			// First parameter_list is the receiver.
			if receiverStr == "" {
				receiverStr = nodeText(child, content)
			}
		case "field_identifier":
			name = nodeText(child, content)
		}
	}

	receiver := extractReceiverTypeFromString(receiverStr)
	if name == "" || receiver == "" || !p.cfg.visible(name) {
		return
	}

	result.Methods = append(result.Methods, MethodDecl{
		Receiver:  receiver,
		Name:      name,
		StartLine: int(node.StartPoint().Row + 1),
	})
}

// extractReceiverTypeFromString extracts the type name from a receiver string.
// Input: "(h *Handler)", "(s Service)" or "(s *Stack[K, V])"
// Output: "Handler", "Service" or "Stack"
func extractReceiverTypeFromString(receiver string) string {
	receiver = strings.TrimPrefix(receiver, "(")
	receiver = strings.TrimSuffix(receiver, ")")
	receiver = strings.TrimSpace(stripTypeParams(receiver))
	if receiver == "" {
		return ""
	}

	parts := strings.Fields(receiver)
	if len(parts) == 0 {
		return ""
	}

	// Last part is the type (potentially with *)
	return strings.TrimPrefix(parts[len(parts)-1], "*")
}

var _ Parser = (*GoParser)(nil)
