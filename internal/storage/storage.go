// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package storage defines the object-store capability the assembler uploads
// finalized grids to. The object-store client itself is an external
// collaborator (spec.md §1); ObjectStore is shaped so a real S3-backed
// implementation can back it without changing the assembler, the way the
// teacher injects an auth.Provider or retry.Policy rather than hardcoding a
// concrete client.
package storage

import (
	"context"
	"io"
)

// ObjectStore persists a finalized object under a bucket-relative key.
type ObjectStore interface {
	Put(ctx context.Context, bucket, key string, r io.Reader) error
}
