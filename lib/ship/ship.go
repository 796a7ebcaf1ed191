// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

// Package ship is the distribution orchestrator: it turns an artifact
// declaration into signed, per-host deliveries.
//
// Each run builds an explicit plan per target host — the files staged
// for it, the pool packages passed through to it, and the protection
// groups its artifacts need unlocked. Once every artifact is
// processed, each host's staged files become one signed bundle, its
// groups become one signed group list, and everything is handed to the
// host's transport. Hosts fail independently: one unreachable host
// never blocks the others.
package ship

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lippard661/distribute/lib/bundle"
	"github.com/lippard661/distribute/lib/config"
	"github.com/lippard661/distribute/lib/declaration"
	"github.com/lippard661/distribute/lib/pool"
	"github.com/lippard661/distribute/lib/signature"
	"github.com/lippard661/distribute/lib/transport"
)

// GroupListExtension is the extension of signed lock-group lists.
const GroupListExtension = ".grp"

// BundleSuffix terminates per-host bundle names:
// <host>-<timestamp>-package.tgz.
const BundleSuffix = "-package" + pool.Extension

// TransportFactory opens a transport to one host.
type TransportFactory func(ctx context.Context, host string) (transport.Transport, error)

// Orchestrator runs distributions.
type Orchestrator struct {
	Config  *config.Config
	Pool    *pool.Pool
	Keyring *signature.Keyring

	// Signer and SignKeyName sign the per-host bundles and group
	// lists. The key is loaded (and its passphrase entered) once per
	// run, before any artifact is processed.
	Signer      *signature.SecretKey
	SignKeyName string

	NewTransport TransportFactory

	// Handlers resolves custom artifact handlers; nil means the
	// built-in table.
	Handlers map[string]Handler

	Logger *slog.Logger

	// Now supplies the run timestamp; nil means time.Now.
	Now func() time.Time
}

// HostResult is one host's outcome.
type HostResult struct {
	// Host is the target host name.
	Host string

	// Sent lists the remote file names delivered, in send order.
	Sent []string

	// Err is the host's failure, nil on success.
	Err error
}

// Result is a distribution run's outcome.
type Result struct {
	Hosts []HostResult
}

// Failed reports whether any host failed.
func (r *Result) Failed() bool {
	for _, host := range r.Hosts {
		if host.Err != nil {
			return true
		}
	}
	return false
}

// outboxItem is one file queued for delivery to a host. Generated
// items (bundles, group lists, their signatures) are deleted after a
// successful handoff; passthrough items are pool files and stay.
type outboxItem struct {
	localPath string
	generated bool
}

// hostPlan accumulates one host's share of the run. All state is
// explicit here; nothing about a host lives anywhere else.
type hostPlan struct {
	host    string
	treeDir string

	// files are the prefix-relative paths staged under treeDir, in
	// staging order.
	files []string

	groups map[string]bool
	outbox []outboxItem
}

func (p *hostPlan) addGroups(groups []string) {
	for _, group := range groups {
		p.groups[group] = true
	}
}

func (p *hostPlan) sortedGroups() []string {
	groups := make([]string, 0, len(p.groups))
	for group := range p.groups {
		groups = append(groups, group)
	}
	sort.Strings(groups)
	return groups
}

// Run distributes the named artifacts (all of them when names is
// empty). Configuration problems — unknown artifacts, hosts, or
// handlers — fail before any side effect. Per-host delivery failures
// do not: they are recorded in the result and the remaining hosts
// proceed.
func (o *Orchestrator) Run(ctx context.Context, decl *declaration.File, names []string) (*Result, error) {
	artifacts, err := decl.Select(names)
	if err != nil {
		return nil, err
	}
	if err := o.preflight(artifacts); err != nil {
		return nil, err
	}

	now := time.Now
	if o.Now != nil {
		now = o.Now
	}
	timestamp := now().UTC().Format("20060102150405")

	plans := make(map[string]*hostPlan)
	for i := range artifacts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := o.process(ctx, &artifacts[i], plans); err != nil {
			return nil, fmt.Errorf("artifact %s: %w", artifacts[i].Name, err)
		}
	}

	hosts := make([]string, 0, len(plans))
	for host := range plans {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)

	result := &Result{}
	for _, host := range hosts {
		hostResult := o.deliver(ctx, plans[host], timestamp)
		if hostResult.Err != nil {
			o.Logger.Error("distribution to host failed",
				"host", host, "error", hostResult.Err)
		} else {
			o.Logger.Info("distribution to host complete",
				"host", host, "files", len(hostResult.Sent))
		}
		result.Hosts = append(result.Hosts, hostResult)
	}
	return result, nil
}

// preflight rejects configuration problems before anything is staged.
func (o *Orchestrator) preflight(artifacts []declaration.Artifact) error {
	var errs []error
	configured := o.Config.HostNames()
	for i := range artifacts {
		artifact := &artifacts[i]
		if _, err := artifact.ExpandHosts(configured); err != nil {
			errs = append(errs, err)
		}
		if artifact.Kind == declaration.KindCustom {
			if _, err := o.handler(artifact.Handler); err != nil {
				errs = append(errs, fmt.Errorf("artifact %s: %w", artifact.Name, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) handler(name string) (Handler, error) {
	table := o.Handlers
	if table == nil {
		table = builtinHandlers
	}
	handler, ok := table[name]
	if !ok {
		return nil, fmt.Errorf("unknown custom handler %q", name)
	}
	return handler, nil
}

// plan returns the accumulator for a host, creating it on first use.
func (o *Orchestrator) plan(plans map[string]*hostPlan, host string) *hostPlan {
	if existing, ok := plans[host]; ok {
		return existing
	}
	created := &hostPlan{
		host:    host,
		treeDir: filepath.Join(o.Config.Paths.Staging, host),
		groups:  make(map[string]bool),
	}
	plans[host] = created
	return created
}

// process dispatches one artifact into the plans of its target hosts.
func (o *Orchestrator) process(ctx context.Context, artifact *declaration.Artifact, plans map[string]*hostPlan) error {
	hosts, err := artifact.ExpandHosts(o.Config.HostNames())
	if err != nil {
		return err
	}

	switch artifact.Kind {
	case declaration.KindPackage:
		return o.processPackage(artifact, hosts, plans)

	case declaration.KindFile:
		for _, host := range hosts {
			plan := o.plan(plans, host)
			if err := o.stageCopy(plan, artifact.TargetPath(), artifact.Source); err != nil {
				return err
			}
			plan.addGroups(artifact.Groups)
		}
		return nil

	case declaration.KindCustom:
		handler, err := o.handler(artifact.Handler)
		if err != nil {
			return err
		}
		for _, host := range hosts {
			plan := o.plan(plans, host)
			request := &HandlerRequest{
				Host:     host,
				Domain:   o.Config.Signer.Domain,
				Artifact: artifact,
				plan:     plan,
				stage:    o,
			}
			if err := handler(ctx, request); err != nil {
				return fmt.Errorf("handler %s for host %s: %w", artifact.Handler, host, err)
			}
			plan.addGroups(artifact.Groups)
		}
		return nil

	default:
		return fmt.Errorf("unknown artifact kind %q", artifact.Kind)
	}
}

// processPackage resolves a package artifact against the pool once and
// queues the archive for each target host as-is. The existing pool
// signature is verified here: shipping an archive the destination will
// reject is an operator error worth catching at the source.
func (o *Orchestrator) processPackage(artifact *declaration.Artifact, hosts []string, plans map[string]*hostPlan) error {
	candidate, err := o.Pool.FindLatest(artifact.Source)
	if err != nil {
		return err
	}

	sigPath := signature.SigPath(candidate.Path)
	verification, err := o.Keyring.VerifyFile(candidate.Path, sigPath)
	if err != nil {
		return fmt.Errorf("pool package %s: %w", candidate.Identity, err)
	}
	if verification.Fallback {
		o.Logger.Warn("pool package verified with non-current key",
			"package", candidate.Identity, "key", verification.KeyName)
	}
	o.Logger.Info("selected pool package",
		"stem", artifact.Source, "package", candidate.Identity)

	for _, host := range hosts {
		plan := o.plan(plans, host)
		plan.outbox = append(plan.outbox,
			outboxItem{localPath: candidate.Path},
			outboxItem{localPath: sigPath},
		)
		plan.addGroups(artifact.Groups)
	}
	return nil
}

// relTarget converts an absolute destination path to the
// staging-tree-relative form, rejecting relative destinations and
// traversal.
func relTarget(target string) (string, error) {
	if !path.IsAbs(target) {
		return "", fmt.Errorf("destination %q is not absolute", target)
	}
	rel := strings.TrimLeft(target, "/")
	for _, part := range strings.Split(rel, "/") {
		if part == ".." || part == "" {
			return "", fmt.Errorf("destination %q is not a clean absolute path", target)
		}
	}
	return rel, nil
}

// stageCopy copies a local source file into the host's staging tree at
// the destination path, preserving its permission bits.
func (o *Orchestrator) stageCopy(plan *hostPlan, target, source string) error {
	in, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("opening source %s: %w", source, err)
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stating source %s: %w", source, err)
	}
	return o.stageStream(plan, target, in, info.Mode().Perm())
}

// stageBytes stages generated content.
func (o *Orchestrator) stageBytes(plan *hostPlan, target string, data []byte, mode fs.FileMode) error {
	return o.stageStream(plan, target, strings.NewReader(string(data)), mode)
}

func (o *Orchestrator) stageStream(plan *hostPlan, target string, contents io.Reader, mode fs.FileMode) error {
	rel, err := relTarget(target)
	if err != nil {
		return err
	}

	stagePath := filepath.Join(plan.treeDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(stagePath), 0755); err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}
	out, err := os.OpenFile(stagePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("staging %s: %w", target, err)
	}
	if _, err := io.Copy(out, contents); err != nil {
		out.Close()
		return fmt.Errorf("staging %s: %w", target, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("staging %s: %w", target, err)
	}

	plan.files = append(plan.files, rel)
	return nil
}

// deliver finalizes one host's plan: bundle, sign, hand off, clean up.
func (o *Orchestrator) deliver(ctx context.Context, plan *hostPlan, timestamp string) HostResult {
	result := HostResult{Host: plan.host}
	result.Err = o.finalize(ctx, plan, timestamp, &result)
	return result
}

func (o *Orchestrator) finalize(ctx context.Context, plan *hostPlan, timestamp string, result *HostResult) error {
	if len(plan.files) > 0 {
		bundleName := plan.host + "-" + timestamp + BundleSuffix
		bundlePath := filepath.Join(o.Config.Paths.Staging, bundleName)

		sort.Strings(plan.files)
		digest, err := bundle.Build(bundlePath, plan.treeDir, plan.files)
		if err != nil {
			return fmt.Errorf("building bundle: %w", err)
		}
		if err := signature.SignFile(o.Signer, o.SignKeyName, bundlePath); err != nil {
			return fmt.Errorf("signing bundle: %w", err)
		}
		o.Logger.Info("built host bundle",
			"host", plan.host, "bundle", bundleName,
			"files", len(plan.files), "digest", digest)

		plan.outbox = append(plan.outbox,
			outboxItem{localPath: bundlePath, generated: true},
			outboxItem{localPath: signature.SigPath(bundlePath), generated: true},
		)
	}

	if len(plan.groups) > 0 {
		groupName := plan.host + "-" + timestamp + GroupListExtension
		groupPath := filepath.Join(o.Config.Paths.Staging, groupName)

		contents := strings.Join(plan.sortedGroups(), "\n") + "\n"
		if err := os.WriteFile(groupPath, []byte(contents), 0644); err != nil {
			return fmt.Errorf("writing group list: %w", err)
		}
		if err := signature.SignFile(o.Signer, o.SignKeyName, groupPath); err != nil {
			return fmt.Errorf("signing group list: %w", err)
		}

		plan.outbox = append(plan.outbox,
			outboxItem{localPath: groupPath, generated: true},
			outboxItem{localPath: signature.SigPath(groupPath), generated: true},
		)
	}

	if len(plan.outbox) == 0 {
		return nil
	}

	channel, err := o.NewTransport(ctx, plan.host)
	if err != nil {
		return fmt.Errorf("opening transport: %w", err)
	}
	defer channel.Close()

	for _, item := range plan.outbox {
		remoteName := filepath.Base(item.localPath)
		if err := channel.Send(ctx, item.localPath, remoteName); err != nil {
			return fmt.Errorf("sending %s: %w", remoteName, err)
		}
		result.Sent = append(result.Sent, remoteName)
	}

	// Handoff complete: the staged copies have served their purpose.
	// Pool files are not ours to delete.
	if err := os.RemoveAll(plan.treeDir); err != nil {
		o.Logger.Warn("removing staging tree", "host", plan.host, "error", err)
	}
	for _, item := range plan.outbox {
		if !item.generated {
			continue
		}
		if err := os.Remove(item.localPath); err != nil {
			o.Logger.Warn("removing staged file", "path", item.localPath, "error", err)
		}
	}
	return nil
}
