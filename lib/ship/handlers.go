// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

package ship

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/lippard661/distribute/lib/declaration"
)

// HandlerRequest is what a custom handler gets to work with: the
// target host, the artifact being processed, and the staging
// operations for that host's plan.
type HandlerRequest struct {
	// Host is the target host name.
	Host string

	// Domain is the configured signing domain, available for
	// substitution in generated content.
	Domain string

	// Artifact is the declaration being processed.
	Artifact *declaration.Artifact

	plan  *hostPlan
	stage *Orchestrator
}

// StageBytes stages generated content at an absolute destination path
// in the host's plan.
func (r *HandlerRequest) StageBytes(target string, data []byte, mode fs.FileMode) error {
	return r.stage.stageBytes(r.plan, target, data, mode)
}

// StageFile stages a copy of a local file at an absolute destination
// path, preserving its permission bits.
func (r *HandlerRequest) StageFile(target, source string) error {
	return r.stage.stageCopy(r.plan, target, source)
}

// Handler generates a custom artifact's files for one host.
type Handler func(ctx context.Context, request *HandlerRequest) error

// builtinHandlers is the default handler table.
var builtinHandlers = map[string]Handler{
	"template": templateHandler,
	"dirpack":  dirpackHandler,
}

// RegisterHandler adds a handler to the built-in table. Registering an
// existing name panics: a silently replaced handler would change what
// ships.
func RegisterHandler(name string, handler Handler) {
	if _, exists := builtinHandlers[name]; exists {
		panic(fmt.Sprintf("ship: handler %q already registered", name))
	}
	builtinHandlers[name] = handler
}

// templateHandler generates a per-host file from a template. The
// source file's @HOST@ and @DOMAIN@ markers are replaced with the
// target host name and the signing domain; each declaration parameter
// key becomes an @KEY@ marker. The result is staged at the artifact's
// destination path.
func templateHandler(ctx context.Context, request *HandlerRequest) error {
	data, err := os.ReadFile(request.Artifact.Source)
	if err != nil {
		return fmt.Errorf("reading template: %w", err)
	}

	replacements := []string{
		"@HOST@", request.Host,
		"@DOMAIN@", request.Domain,
	}
	for key, value := range request.Artifact.Params {
		replacements = append(replacements, "@"+strings.ToUpper(key)+"@", value)
	}
	rendered := strings.NewReplacer(replacements...).Replace(string(data))

	if err := ctx.Err(); err != nil {
		return err
	}
	return request.StageBytes(request.Artifact.TargetPath(), []byte(rendered), 0644)
}

// dirpackHandler stages a whole directory subtree: every regular file
// under the source directory lands at the destination path plus its
// source-relative path.
func dirpackHandler(ctx context.Context, request *HandlerRequest) error {
	root := request.Artifact.Source
	base := request.Artifact.TargetPath()

	return filepath.WalkDir(root, func(walkPath string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, walkPath)
		if err != nil {
			return err
		}
		target := path.Join(base, filepath.ToSlash(rel))
		return request.StageFile(target, walkPath)
	})
}
