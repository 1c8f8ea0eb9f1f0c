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
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// ErrGraphNotFound is returned by Store.Load when no graph is stored.
var ErrGraphNotFound = errors.New("graph not found")

// GCSScheme prefixes Cloud Storage locations.
const GCSScheme = "gs://"

// Store persists the current graph document at one location.
type Store interface {
	// Load reads the stored graph. Returns ErrGraphNotFound if absent.
	Load(ctx context.Context) (*Graph, error)

	// Save replaces the stored graph. Failures wrap ErrSerialization.
	Save(ctx context.Context, g *Graph) error

	// Remove deletes the stored graph. Removing an absent graph succeeds.
	Remove(ctx context.Context) error

	// Location describes where the graph is stored.
	Location() string

	Close() error
}

// OpenStore returns the store for a location.
//
// Description:
//
//	gs://bucket/object locations open a GCSStore; anything else is a local
//	file path.
//
// Inputs:
//
//	ctx - Context for client creation.
//	location - File path or gs:// URL.
//	opts - Cloud Storage client options, e.g. option.WithCredentialsFile.
//	Ignored for file paths.
//
// Outputs:
//
//	Store - The opened store. The caller must Close it.
//	error - Non-nil if the location is malformed or the client fails.
func OpenStore(ctx context.Context, location string, opts ...option.ClientOption) (Store, error) {
	if strings.HasPrefix(location, GCSScheme) {
		return NewGCSStore(ctx, location, opts...)
	}
	if location == "" {
		return nil, fmt.Errorf("store location must not be empty")
	}
	return NewFileStore(location), nil
}

// FileStore stores the graph document in a local file.
//
// Thread Safety: Save replaces the file atomically with a rename, so
// concurrent readers see either the old or the new document.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore for path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load implements Store.
func (s *FileStore) Load(_ context.Context) (*Graph, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrGraphNotFound, s.path)
		}
		return nil, fmt.Errorf("opening %s: %w", s.path, err)
	}
	defer f.Close()
	return Decode(f)
}

// Save implements Store.
func (s *FileStore) Save(_ context.Context, g *Graph) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: creating %s: %w", ErrSerialization, dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".callscope-*.json")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, g); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	return nil
}

// Remove implements Store.
func (s *FileStore) Remove(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", s.path, err)
	}
	return nil
}

// Location implements Store.
func (s *FileStore) Location() string {
	return s.path
}

// Close implements Store.
func (s *FileStore) Close() error {
	return nil
}

// GCSStore stores the graph document as a Cloud Storage object.
type GCSStore struct {
	client *storage.Client
	bucket string
	object string
}

// NewGCSStore creates a GCSStore for a gs://bucket/object location.
func NewGCSStore(ctx context.Context, location string, opts ...option.ClientOption) (*GCSStore, error) {
	bucket, object, err := ParseGCSLocation(location)
	if err != nil {
		return nil, err
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket, object: object}, nil
}

// ParseGCSLocation splits gs://bucket/object into bucket and object.
func ParseGCSLocation(location string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(location, GCSScheme)
	if !ok {
		return "", "", fmt.Errorf("not a gs:// location: %q", location)
	}
	bucket, object, _ = strings.Cut(rest, "/")
	if bucket == "" || object == "" || strings.HasSuffix(object, "/") {
		return "", "", fmt.Errorf("gs:// location needs a bucket and an object name: %q", location)
	}
	return bucket, object, nil
}

// Load implements Store.
func (s *GCSStore) Load(ctx context.Context) (*Graph, error) {
	r, err := s.client.Bucket(s.bucket).Object(s.object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrGraphNotFound, s.Location())
		}
		return nil, fmt.Errorf("reading %s: %w", s.Location(), err)
	}
	defer r.Close()
	return Decode(r)
}

// Save implements Store.
func (s *GCSStore) Save(ctx context.Context, g *Graph) error {
	w := s.client.Bucket(s.bucket).Object(s.object).NewWriter(ctx)
	w.ContentType = "application/json"
	w.CacheControl = "no-cache, no-store, must-revalidate"

	if err := Encode(w, g); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: failed to close GCS writer for %s: %w", ErrSerialization, s.Location(), err)
	}
	return nil
}

// Remove implements Store.
func (s *GCSStore) Remove(ctx context.Context) error {
	err := s.client.Bucket(s.bucket).Object(s.object).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("deleting %s: %w", s.Location(), err)
	}
	return nil
}

// Location implements Store.
func (s *GCSStore) Location() string {
	return GCSScheme + s.bucket + "/" + s.object
}

// Close implements Store.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

var (
	_ Store = (*FileStore)(nil)
	_ Store = (*GCSStore)(nil)
)
