//go:build tools

// Package tools pins the development tools used on rlib-factory so their
// versions are tracked in go.mod.
// Install with: go install -tags tools ./...
package tools

import (
	// Lint and import formatting
	_ "github.com/golangci/golangci-lint/cmd/golangci-lint"
	_ "golang.org/x/tools/cmd/goimports"

	// Test doubles for new collaborator interfaces
	_ "github.com/golang/mock/mockgen"

	// Test runners
	_ "github.com/onsi/ginkgo/v2/ginkgo"
	_ "gotest.tools/gotestsum"

	// Security scan of the command runner
	_ "github.com/securego/gosec/v2/cmd/gosec"

	// Profiling large worklist runs
	_ "github.com/google/pprof"
)
