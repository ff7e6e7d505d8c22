// Package store records generated artifacts in a SQLite manifest.
//
// Each row describes one written file: where it was placed, which entity,
// action and layer it belongs to, the hash of its content, the hash of the
// entity definition it was compiled from and the compiler version. The
// generator consults the manifest to skip rewriting files whose content did
// not change and to find files that are no longer produced.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Content hashes are computed by ir.ArtifactHash and spec hashes by
// ir.EntityHash.
package store
