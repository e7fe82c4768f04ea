// Package main provides the crudkit binary.
package main

import "github.com/mesh-intelligence/crudkit/internal/cli"

func main() {
	cli.Execute()
}
