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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
)

// extractFunc walks a syntax tree without errors and fills the result.
type extractFunc func(root *sitter.Node, content []byte, result *ParseResult)

// parseWith runs one tree-sitter parse and extraction.
//
// Description:
//
//	Shared by the language parsers: size and UTF-8 validation, a fresh
//	tree-sitter parser per call, rejection of trees with syntax errors,
//	then extraction, validation, metrics, and tracing.
func parseWith(
	ctx context.Context,
	language string,
	grammar *sitter.Language,
	maxFileSize int64,
	content []byte,
	filePath string,
	extract extractFunc,
) (*ParseResult, error) {
	ctx, span := startParseSpan(ctx, language, filePath, len(content))
	defer span.End()

	start := time.Now()
	fail := func(err error) (*ParseResult, error) {
		recordParseMetrics(ctx, language, time.Since(start), 0, false)
		span.RecordError(err)
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("parse canceled before start: %w", err))
	}
	if int64(len(content)) > maxFileSize {
		return fail(fmt.Errorf("%w: size %d exceeds limit %d", ErrFileTooLarge, len(content), maxFileSize))
	}
	if !utf8.Valid(content) {
		return fail(fmt.Errorf("%w: content is not valid UTF-8", ErrInvalidContent))
	}

	hash := sha256.Sum256(content)

	// New parser per call; tree-sitter parsers are not safe for concurrent use.
	parser := sitter.NewParser()
	parser.SetLanguage(grammar)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return fail(fmt.Errorf("tree-sitter parse failed: %w", err))
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return fail(NewParseError(filePath, 0, 0, "tree-sitter returned nil root node"))
	}
	if root.HasError() {
		line, col := firstErrorPosition(root, 0)
		return fail(NewParseError(filePath, line, col, "source contains syntax errors"))
	}

	result := &ParseResult{
		FilePath:      filePath,
		Language:      language,
		Hash:          hex.EncodeToString(hash[:]),
		ParsedAtMilli: time.Now().UnixMilli(),
		Types:         make([]TypeDecl, 0),
		Methods:       make([]MethodDecl, 0),
	}
	extract(root, content, result)

	if err := result.Validate(); err != nil {
		return fail(fmt.Errorf("result validation failed: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("parse canceled after extraction: %w", err))
	}

	setParseSpanResult(span, len(result.Types), len(result.Methods))
	recordParseMetrics(ctx, language, time.Since(start), len(result.Types), true)
	return result, nil
}
