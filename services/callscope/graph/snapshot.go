// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerDB key layout for graph snapshots.
const (
	keyPrefixSnap      = "callscope:snap:"
	keyPrefixSnapIndex = "callscope:snap:index:"
	keySuffixData      = ":data"
	keySuffixMeta      = ":meta"
	keySuffixLatest    = ":latest"
)

// ErrSnapshotNotFound is returned when a snapshot ID or project has no
// stored snapshot.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotMetadata describes a saved graph snapshot.
type SnapshotMetadata struct {
	// SnapshotID is SHA256(ProjectRoot:GeneratedAtMilli:SessionID)[:16].
	SnapshotID string `json:"snapshot_id"`

	ProjectRoot string `json:"project_root"`

	// ProjectHash is SHA256(ProjectRoot)[:16] for key grouping.
	ProjectHash string `json:"project_hash"`

	GraphHash string `json:"graph_hash"`
	Origin    string `json:"origin"`
	SessionID string `json:"session_id"`
	Label     string `json:"label,omitempty"`

	// CreatedAtMilli is when the snapshot was saved (Unix milliseconds UTC).
	CreatedAtMilli int64 `json:"created_at_milli"`

	NodeCount      int `json:"node_count"`
	LinkCount      int `json:"link_count"`
	ExercisedCount int `json:"exercised_count"`

	SchemaVersion string `json:"schema_version"`

	// CompressedSize is the size of the gzip-compressed document in bytes.
	CompressedSize int64 `json:"compressed_size"`

	// ContentHash is the SHA256 hash of the compressed document.
	ContentHash string `json:"content_hash"`
}

// SnapshotManager saves and loads graph snapshots in BadgerDB.
//
// Description:
//
//	Each snapshot stores the gzip-compressed graph document plus metadata
//	for listing. The latest snapshot of each project is tracked so the
//	service can diff a new graph against the previous run.
//
// Thread Safety:
//
//	Safe for concurrent use. BadgerDB handles its own concurrency control.
type SnapshotManager struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewSnapshotManager creates a SnapshotManager over an opened BadgerDB.
// The caller owns db and closes it.
func NewSnapshotManager(db *badger.DB, logger *slog.Logger) (*SnapshotManager, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &SnapshotManager{db: db, logger: logger}, nil
}

// OpenSnapshotDB opens the on-disk snapshot database in dir.
func OpenSnapshotDB(dir string) (*badger.DB, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("opening snapshot db %s: %w", dir, err)
	}
	return db, nil
}

// Save persists a graph snapshot.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	g - The graph. Must not be nil.
//	label - Optional human-readable label.
//
// Outputs:
//
//	*SnapshotMetadata - Metadata of the saved snapshot.
//	error - Non-nil if encoding or storage fails.
//
// Key Schema:
//
//	callscope:snap:{projectHash}:{snapshotID}:data -> gzip(JSON(Document))
//	callscope:snap:{projectHash}:{snapshotID}:meta -> JSON(SnapshotMetadata)
//	callscope:snap:{projectHash}:latest            -> snapshotID
//	callscope:snap:index:{snapshotID}              -> projectHash
func (m *SnapshotManager) Save(ctx context.Context, g *Graph, label string) (*SnapshotMetadata, error) {
	if g == nil {
		return nil, fmt.Errorf("graph must not be nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc := g.ToDocument()
	jsonData, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}

	var compressed bytes.Buffer
	gw, err := gzip.NewWriterLevel(&compressed, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gw.Write(jsonData); err != nil {
		return nil, fmt.Errorf("compressing graph: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}
	data := compressed.Bytes()

	projectHash := ProjectHash(g.ProjectRoot)
	snapshotID := hashString(g.ProjectRoot + ":" + strconv.FormatInt(g.GeneratedAtMilli, 10) + ":" + g.SessionID)[:16]

	exercised := 0
	for _, n := range g.Nodes {
		if n.Kind == NodeKindMember && n.WasExercised {
			exercised++
		}
	}

	meta := &SnapshotMetadata{
		SnapshotID:     snapshotID,
		ProjectRoot:    g.ProjectRoot,
		ProjectHash:    projectHash,
		GraphHash:      doc.GraphHash,
		Origin:         g.Origin,
		SessionID:      g.SessionID,
		Label:          label,
		CreatedAtMilli: time.Now().UnixMilli(),
		NodeCount:      g.NodeCount(),
		LinkCount:      g.LinkCount(),
		ExercisedCount: exercised,
		SchemaVersion:  SchemaVersion,
		CompressedSize: int64(len(data)),
		ContentHash:    hashBytes(data),
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(dataKey(projectHash, snapshotID), data); err != nil {
			return fmt.Errorf("storing data: %w", err)
		}
		if err := txn.Set(metaKey(projectHash, snapshotID), metaJSON); err != nil {
			return fmt.Errorf("storing metadata: %w", err)
		}
		if err := txn.Set(latestKey(projectHash), []byte(snapshotID)); err != nil {
			return fmt.Errorf("updating latest pointer: %w", err)
		}
		if err := txn.Set(indexKey(snapshotID), []byte(projectHash)); err != nil {
			return fmt.Errorf("storing reverse index: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("writing snapshot to badger: %w", err)
	}

	m.logger.Info("snapshot saved",
		slog.String("snapshot_id", snapshotID),
		slog.String("project_root", g.ProjectRoot),
		slog.Int("node_count", meta.NodeCount),
		slog.Int("link_count", meta.LinkCount),
		slog.Int64("compressed_size", meta.CompressedSize),
	)
	return meta, nil
}

// Load retrieves a snapshot by ID.
//
// Outputs:
//
//	*Graph - The reconstructed graph.
//	*SnapshotMetadata - The snapshot metadata.
//	error - Wraps ErrSnapshotNotFound for unknown IDs, or an integrity or
//	decoding failure.
func (m *SnapshotManager) Load(ctx context.Context, snapshotID string) (*Graph, *SnapshotMetadata, error) {
	if snapshotID == "" {
		return nil, nil, fmt.Errorf("snapshot ID must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	projectHash, err := m.readString(indexKey(snapshotID))
	if err != nil {
		return nil, nil, fmt.Errorf("looking up snapshot %s: %w", snapshotID, err)
	}
	return m.loadByKeys(projectHash, snapshotID)
}

// LoadLatest loads the most recent snapshot for a project root.
func (m *SnapshotManager) LoadLatest(ctx context.Context, projectRoot string) (*Graph, *SnapshotMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	projectHash := ProjectHash(projectRoot)
	snapshotID, err := m.readString(latestKey(projectHash))
	if err != nil {
		return nil, nil, fmt.Errorf("reading latest pointer for %s: %w", projectRoot, err)
	}
	return m.loadByKeys(projectHash, snapshotID)
}

// List returns snapshot metadata, newest first.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	projectRoot - Optional filter. Empty lists every project.
//	limit - Maximum number of results. Values <= 0 mean 100.
func (m *SnapshotManager) List(ctx context.Context, projectRoot string, limit int) ([]*SnapshotMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	prefix := keyPrefixSnap
	if projectRoot != "" {
		prefix = keyPrefixSnap + ProjectHash(projectRoot) + ":"
	}

	results := make([]*SnapshotMetadata, 0)
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if !strings.HasSuffix(key, keySuffixMeta) {
				continue
			}
			var meta SnapshotMetadata
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			}); err != nil {
				m.logger.Warn("skipping corrupt metadata", slog.String("key", key), slog.Any("error", err))
				continue
			}
			results = append(results, &meta)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CreatedAtMilli > results[j].CreatedAtMilli
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Delete removes a snapshot and, if it was the latest of its project, the
// latest pointer.
func (m *SnapshotManager) Delete(ctx context.Context, snapshotID string) error {
	if snapshotID == "" {
		return fmt.Errorf("snapshot ID must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	projectHash, err := m.readString(indexKey(snapshotID))
	if err != nil {
		return fmt.Errorf("looking up snapshot %s: %w", snapshotID, err)
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		for _, key := range [][]byte{
			dataKey(projectHash, snapshotID),
			metaKey(projectHash, snapshotID),
			indexKey(snapshotID),
		} {
			if err := txn.Delete(key); err != nil {
				return fmt.Errorf("deleting %s: %w", key, err)
			}
		}

		item, err := txn.Get(latestKey(projectHash))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		current, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if string(current) == snapshotID {
			return txn.Delete(latestKey(projectHash))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting snapshot %s: %w", snapshotID, err)
	}

	m.logger.Info("snapshot deleted", slog.String("snapshot_id", snapshotID))
	return nil
}

func (m *SnapshotManager) loadByKeys(projectHash, snapshotID string) (*Graph, *SnapshotMetadata, error) {
	var data, metaJSON []byte
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dataKey(projectHash, snapshotID))
		if err != nil {
			return fmt.Errorf("reading data for %s: %w", snapshotID, notFound(err))
		}
		if data, err = item.ValueCopy(nil); err != nil {
			return fmt.Errorf("copying data for %s: %w", snapshotID, err)
		}
		item, err = txn.Get(metaKey(projectHash, snapshotID))
		if err != nil {
			return fmt.Errorf("reading metadata for %s: %w", snapshotID, notFound(err))
		}
		if metaJSON, err = item.ValueCopy(nil); err != nil {
			return fmt.Errorf("copying metadata for %s: %w", snapshotID, err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	var meta SnapshotMetadata
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, nil, fmt.Errorf("unmarshaling metadata for %s: %w", snapshotID, err)
	}
	if actual := hashBytes(data); meta.ContentHash != "" && meta.ContentHash != actual {
		return nil, nil, fmt.Errorf("integrity check failed for %s: expected hash %s, got %s", snapshotID, meta.ContentHash, actual)
	}

	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("decompressing snapshot %s: %w", snapshotID, err)
	}
	defer gr.Close()
	jsonData, err := io.ReadAll(gr)
	if err != nil {
		return nil, nil, fmt.Errorf("reading decompressed data for %s: %w", snapshotID, err)
	}

	g, err := Decode(bytes.NewReader(jsonData))
	if err != nil {
		return nil, nil, fmt.Errorf("reconstructing graph for %s: %w", snapshotID, err)
	}
	return g, &meta, nil
}

// readString reads a small string value, mapping a missing key to
// ErrSnapshotNotFound.
func (m *SnapshotManager) readString(key []byte) (string, error) {
	var out string
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return notFound(err)
		}
		return item.Value(func(val []byte) error {
			out = string(val)
			return nil
		})
	})
	return out, err
}

func notFound(err error) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrSnapshotNotFound
	}
	return err
}

func dataKey(projectHash, snapshotID string) []byte {
	return []byte(keyPrefixSnap + projectHash + ":" + snapshotID + keySuffixData)
}

func metaKey(projectHash, snapshotID string) []byte {
	return []byte(keyPrefixSnap + projectHash + ":" + snapshotID + keySuffixMeta)
}

func latestKey(projectHash string) []byte {
	return []byte(keyPrefixSnap + projectHash + keySuffixLatest)
}

func indexKey(snapshotID string) []byte {
	return []byte(keyPrefixSnapIndex + snapshotID)
}

// ProjectHash returns SHA256(projectRoot)[:16], the key prefix of a
// project's snapshots.
func ProjectHash(projectRoot string) string {
	return hashString(projectRoot)[:16]
}

func hashString(s string) string {
	return hashBytes([]byte(s))
}

func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
