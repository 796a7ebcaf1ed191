// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

// Package install is the destination-host orchestrator: it drains the
// drop directory the transport delivered into.
//
// A run verifies and merges the signed lock-group lists, unlocks the
// union of their groups, dispatches every payload (host bundles are
// extracted whole from the filesystem root, pool packages go through
// the package manager), relocks whatever was unlocked, and appends one
// audit entry when anything was installed. Relocking happens on every
// exit path; a failed payload never leaves the host unlocked.
package install

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lippard661/distribute/lib/auditlog"
	"github.com/lippard661/distribute/lib/bundle"
	"github.com/lippard661/distribute/lib/config"
	"github.com/lippard661/distribute/lib/lockdown"
	"github.com/lippard661/distribute/lib/pkgmgr"
	"github.com/lippard661/distribute/lib/pkgver"
	"github.com/lippard661/distribute/lib/pool"
	"github.com/lippard661/distribute/lib/signature"
)

// Drop-directory naming, shared with the distribution side.
const (
	bundleSuffix = "-package" + pool.Extension
	groupListExt = ".grp"
	signatureExt = ".sig"
)

// Orchestrator runs install passes over the drop directory.
type Orchestrator struct {
	Config  *config.Config
	Keyring *signature.Keyring
	Manager *pkgmgr.Manager
	Locker  lockdown.Locker
	Logger  *slog.Logger

	// Hostname is this host's name, used to recognize its bundles.
	// Empty means the short form of os.Hostname.
	Hostname string

	// Root is the extraction root for host bundles. Empty means the
	// filesystem root.
	Root string

	// Forced makes a group unlock failure fatal instead of
	// best-effort.
	Forced bool

	// NoLock skips the unlock/relock cycle entirely, for hosts whose
	// protection groups are managed out of band. Group lists are still
	// verified and drained.
	NoLock bool
}

// Result is one install run's outcome.
type Result struct {
	// Installed are the human-readable summaries of what was
	// installed, in processing order.
	Installed []string

	// Extraneous are drop-directory files that matched no known
	// shape. They are logged and left in place.
	Extraneous []string

	// Errors are per-payload failures. The run continues past them.
	Errors []error
}

// Failed reports whether any payload failed.
func (r *Result) Failed() bool { return len(r.Errors) > 0 }

// Run processes the drop directory once.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	hostname, err := o.hostname()
	if err != nil {
		return nil, err
	}

	dropDir := o.Config.Paths.Drop
	entries, err := os.ReadDir(dropDir)
	if err != nil {
		return nil, fmt.Errorf("reading drop directory %s: %w", dropDir, err)
	}

	var groupLists, payloads []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasSuffix(name, signatureExt) {
			continue
		}
		if strings.HasSuffix(name, groupListExt) {
			groupLists = append(groupLists, name)
			continue
		}
		payloads = append(payloads, name)
	}
	sort.Strings(groupLists)
	sort.Strings(payloads)

	groups := o.collectGroups(dropDir, groupLists)

	scope := lockdown.NewScope(o.Locker)
	defer scope.Relock(ctx, o.Logger)
	if o.NoLock {
		o.Logger.Info("lockdown cycle skipped", "groups", len(groups))
	} else if err := scope.Unlock(ctx, groups, o.Forced); err != nil {
		if o.Forced {
			return nil, err
		}
		o.Logger.Warn("some groups could not be unlocked", "error", err)
	}

	result := &Result{}
	entry := &auditlog.Entry{}
	for _, name := range payloads {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		o.dispatch(ctx, dropDir, name, hostname, entry, result)
	}

	if o.Config.Paths.Audit != "" {
		if err := auditlog.Append(o.Config.Paths.Audit, entry); err != nil {
			o.Logger.Error("appending audit log", "error", err)
			result.Errors = append(result.Errors, err)
		}
	}
	return result, nil
}

func (o *Orchestrator) hostname() (string, error) {
	if o.Hostname != "" {
		return o.Hostname, nil
	}
	full, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("resolving hostname: %w", err)
	}
	short, _, _ := strings.Cut(full, ".")
	return short, nil
}

// collectGroups verifies each delivered group list and merges their
// groups. A list that fails verification contributes nothing and is
// logged; either way the list and its signature are deleted, so a bad
// list cannot poison every later run.
func (o *Orchestrator) collectGroups(dropDir string, names []string) []string {
	merged := make(map[string]bool)
	for _, name := range names {
		listPath := filepath.Join(dropDir, name)
		sigPath := signature.SigPath(listPath)

		verification, err := o.Keyring.VerifyFile(listPath, sigPath)
		if err != nil {
			o.Logger.Warn("group list failed verification, ignoring",
				"file", name, "error", err)
		} else {
			if verification.Fallback {
				o.Logger.Warn("group list verified with non-current key",
					"file", name, "key", verification.KeyName)
			}
			for _, group := range readGroupList(listPath) {
				merged[group] = true
			}
		}

		for _, stale := range []string{listPath, sigPath} {
			if err := os.Remove(stale); err != nil && !os.IsNotExist(err) {
				o.Logger.Warn("removing group list", "path", stale, "error", err)
			}
		}
	}

	groups := make([]string, 0, len(merged))
	for group := range merged {
		groups = append(groups, group)
	}
	sort.Strings(groups)
	return groups
}

func readGroupList(path string) []string {
	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer file.Close()

	var groups []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			groups = append(groups, line)
		}
	}
	return groups
}

// dispatch routes one payload by its name shape.
func (o *Orchestrator) dispatch(ctx context.Context, dropDir, name, hostname string, entry *auditlog.Entry, result *Result) {
	payloadPath := filepath.Join(dropDir, name)

	switch {
	case strings.HasSuffix(name, bundleSuffix):
		if !strings.HasPrefix(name, hostname+"-") {
			o.Logger.Warn("bundle for a different host, leaving alone", "file", name)
			result.Extraneous = append(result.Extraneous, name)
			return
		}
		if err := o.installBundle(payloadPath, name, entry); err != nil {
			o.Logger.Error("installing host bundle", "file", name, "error", err)
			result.Errors = append(result.Errors, fmt.Errorf("%s: %w", name, err))
			return
		}
		result.Installed = append(result.Installed, "host bundle "+name)

	case isPackageName(name):
		summary, err := o.installPackage(ctx, payloadPath, name, entry)
		if err != nil {
			o.Logger.Error("installing package", "file", name, "error", err)
			result.Errors = append(result.Errors, fmt.Errorf("%s: %w", name, err))
			return
		}
		if summary != "" {
			result.Installed = append(result.Installed, summary)
		}

	default:
		o.Logger.Warn("extraneous file in drop directory, leaving alone", "file", name)
		result.Extraneous = append(result.Extraneous, name)
	}
}

func isPackageName(name string) bool {
	if !strings.HasSuffix(name, pool.Extension) {
		return false
	}
	_, _, _, err := pkgver.SplitIdentity(strings.TrimSuffix(name, pool.Extension))
	return err == nil
}

// installBundle verifies and extracts a host bundle from the
// filesystem root. The signature is checked immediately before
// extraction begins, after all other preparation, so the bytes
// extracted are the bytes verified.
func (o *Orchestrator) installBundle(payloadPath, name string, entry *auditlog.Entry) error {
	sigPath := signature.SigPath(payloadPath)

	verification, err := o.Keyring.VerifyFile(payloadPath, sigPath)
	if err != nil {
		return err
	}
	if verification.Fallback {
		o.Logger.Warn("bundle verified with non-current key",
			"file", name, "key", verification.KeyName)
	}

	// Second verification right before extraction: the gap between
	// the first check and the extraction read is where a swapped file
	// would hide.
	if _, err := o.Keyring.VerifyFile(payloadPath, sigPath); err != nil {
		return fmt.Errorf("re-verification failed: %w", err)
	}

	root := o.Root
	if root == "" {
		root = "/"
	}
	extracted, err := bundle.ExtractAll(payloadPath, root)
	if err != nil {
		return err
	}
	o.Logger.Info("extracted host bundle", "file", name, "paths", len(extracted))
	entry.Add("installed host bundle "+name, extracted...)

	o.removePayload(payloadPath, sigPath)
	return nil
}

// installPackage verifies a pool package and hands it to the package
// manager, or to the configured system package tool when one exists on
// this host. Returns the audit summary, "" when nothing changed.
func (o *Orchestrator) installPackage(ctx context.Context, payloadPath, name string, entry *auditlog.Entry) (string, error) {
	sigPath := signature.SigPath(payloadPath)
	verification, err := o.Keyring.VerifyFile(payloadPath, sigPath)
	if err != nil {
		return "", err
	}
	if verification.Fallback {
		o.Logger.Warn("package verified with non-current key",
			"file", name, "key", verification.KeyName)
	}

	if tool := o.systemPkgTool(); tool != "" {
		output, err := exec.CommandContext(ctx, tool, payloadPath).CombinedOutput()
		if err != nil {
			return "", fmt.Errorf("%s: %w: %s", tool, err, strings.TrimSpace(string(output)))
		}
		summary := "installed " + pkgmgr.Identity(payloadPath) + " via " + filepath.Base(tool)
		entry.Add(summary)
		o.removePayload(payloadPath, sigPath)
		return summary, nil
	}

	outcome, err := o.packageManager().Install(ctx, payloadPath)
	if err != nil {
		return "", err
	}
	o.removePayload(payloadPath, sigPath)

	if !outcome.Changed() {
		o.Logger.Info("package needs no action", "package", outcome.Identity, "state", outcome.String())
		return "", nil
	}
	summary := outcome.String()
	entry.Add(summary)
	return summary, nil
}

// packageManager returns the configured manager with signature
// re-verification wired in before extraction: the gap between the
// initial check and the extraction read is where a swapped file would
// hide.
func (o *Orchestrator) packageManager() *pkgmgr.Manager {
	mgr := *o.Manager
	mgr.PreExtract = func(archivePath string) error {
		if _, err := o.Keyring.VerifyFile(archivePath, signature.SigPath(archivePath)); err != nil {
			return fmt.Errorf("re-verification failed: %w", err)
		}
		return nil
	}
	return &mgr
}

// systemPkgTool returns the configured package tool when it actually
// exists on this host, "" otherwise.
func (o *Orchestrator) systemPkgTool() string {
	tool := o.Config.Install.SystemPkgTool
	if tool == "" {
		return ""
	}
	if _, err := os.Stat(tool); err != nil {
		return ""
	}
	return tool
}

// removePayload deletes an installed payload and its signature from
// the drop directory.
func (o *Orchestrator) removePayload(payloadPath, sigPath string) {
	for _, path := range []string{payloadPath, sigPath} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			o.Logger.Warn("removing installed payload", "path", path, "error", err)
		}
	}
}
