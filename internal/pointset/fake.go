// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package pointset

import "context"

// Fake is a Cache that either resolves every key or fails with a configured
// error, for use in handler tests.
type Fake struct {
	Err error
}

func (f *Fake) LoadAndValidate(_ context.Context, keys []string) ([]*PointSet, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	out := make([]*PointSet, len(keys))
	for i, k := range keys {
		out[i] = &PointSet{Key: k}
	}
	return out, nil
}
