// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build !unix

package walker

import (
	"path/filepath"
)

// dirKey identifies a directory by its fully resolved path where inode
// numbers are unavailable.
type dirKey struct {
	dev  uint64
	ino  uint64
	path string
}

func keyOf(path string) (dirKey, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return dirKey{}, err
	}
	return dirKey{path: filepath.Clean(resolved)}, nil
}
