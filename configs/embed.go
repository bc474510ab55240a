// Package configs provides the embedded configuration template for
// chunkstack. Embedding at build time keeps the template available in
// every distribution, whether installed from source or as a binary.
//
// The template is written by `chunkstack config init` and documents
// every recognised option with its default.
package configs

import _ "embed"

// DefaultConfigTemplate is the annotated configuration template
// written by `chunkstack config init`.
//
//go:embed default-config.yaml
var DefaultConfigTemplate string
