// Package crudkit carries build information for the crudkit binary.
package crudkit

// ModulePath is the Go module path.
const ModulePath = "github.com/mesh-intelligence/crudkit"

// Version is the release version. Release builds override it with
// -ldflags "-X github.com/mesh-intelligence/crudkit/pkg/crudkit.Version=...".
var Version = "0.3.0"
