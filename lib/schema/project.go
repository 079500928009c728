// Copyright 2026 The CI Farm Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"encoding/hex"
	"fmt"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// identityDomainKey is the BLAKE3 keyed-hash domain for project
// identity digests. A fixed readable constant: changing it changes
// every remote build directory name and orphans existing lock
// metadata, so treat it as frozen.
var identityDomainKey = [32]byte{
	'c', 'i', 'f', 'a', 'r', 'm', '.', 'p', 'r', 'o', 'j', 'e', 'c', 't', '.',
	'i', 'd', 'e', 'n', 't', 'i', 't', 'y', 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Project identifies a local project tree for the duration of one
// build session. The digest is derived from the absolute local path,
// not the tree contents, so the same checkout always maps to the same
// remote directory and the same lock identity.
type Project struct {
	// Name is the base name of the project directory.
	Name string

	// Root is the absolute local path of the project tree.
	Root string

	// digest is the hex BLAKE3 digest of Root.
	digest string
}

// NewProject derives a Project from a local path. The path is made
// absolute so that invoking the tool from different working
// directories yields the same identity.
func NewProject(path string) (Project, error) {
	root, err := filepath.Abs(path)
	if err != nil {
		return Project{}, fmt.Errorf("resolving project path %q: %w", path, err)
	}
	// NewKeyed only fails for a wrong key length, which the fixed-size
	// array rules out.
	hasher, err := blake3.NewKeyed(identityDomainKey[:])
	if err != nil {
		panic("schema: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write([]byte(root))
	sum := hasher.Sum(nil)
	return Project{
		Name:   filepath.Base(root),
		Root:   root,
		digest: hex.EncodeToString(sum),
	}, nil
}

// Digest returns the full hex identity digest.
func (p Project) Digest() string { return p.digest }

// ShortDigest returns the first eight hex characters of the digest,
// enough to disambiguate same-named projects in remote directory
// names without making paths unwieldy.
func (p Project) ShortDigest() string {
	if len(p.digest) < 8 {
		return p.digest
	}
	return p.digest[:8]
}

// RemoteDir returns the directory on the given slave that receives
// this project's synced tree: <build_dir>/<name>-<short digest>. The
// digest suffix keeps two checkouts with the same base name from
// clobbering each other's remote trees.
func (p Project) RemoteDir(slave Slave) string {
	return slave.EffectiveBuildDir() + "/" + p.Name + "-" + p.ShortDigest()
}
