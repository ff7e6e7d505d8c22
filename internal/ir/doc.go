// Package ir provides the intermediate representation consumed by the action compiler.
//
// This package contains type definitions and structural validation only. All other
// internal packages import ir; ir imports nothing internal, so it stays the
// foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Step is a sealed sum type; compilers switch over it exhaustively
//   - Every ordered collection is a slice; maps are only used where the
//     compiler sorts keys before emitting anything
//   - NO float types in canonical values (determinism of the spec hash)
//   - All JSON tags use snake_case
package ir
