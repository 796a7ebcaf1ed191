// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

package declaration

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func loadString(t *testing.T, content string) (*File, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "artifacts.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing declarations: %v", err)
	}
	return Load(path)
}

func TestLoad(t *testing.T) {
	file, err := loadString(t, `
artifacts:
  - name: motd
    source: /etc/motd
    hosts: [h1, h2]
    groups: [etc]
  - name: rsync
    kind: package
    source: rsync
    hosts: [ALL]
  - name: resolv
    kind: custom
    handler: template
    source: /srv/templates/resolv.conf
    destination: /etc/resolv.conf
    hosts: [h1]
    params:
      search: example.com
`)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(file.Artifacts) != 3 {
		t.Fatalf("artifact count = %d", len(file.Artifacts))
	}

	motd := file.Artifacts[0]
	if motd.Kind != KindFile {
		t.Errorf("default kind = %q, want file", motd.Kind)
	}
	if motd.TargetPath() != "/etc/motd" {
		t.Errorf("TargetPath = %q", motd.TargetPath())
	}

	resolv := file.Artifacts[2]
	if resolv.TargetPath() != "/etc/resolv.conf" {
		t.Errorf("TargetPath = %q", resolv.TargetPath())
	}
	if resolv.Params["search"] != "example.com" {
		t.Errorf("params = %v", resolv.Params)
	}
}

func TestValidateErrors(t *testing.T) {
	_, err := loadString(t, `
artifacts:
  - name: bad-pkg
    kind: package
    source: rsync
    destination: /usr/local/rsync
    hosts: [h1]
  - name: bad-pkg
    source: /etc/dup
    hosts: [h1]
  - name: nohosts
    source: /etc/x
  - name: nohandler
    kind: custom
    hosts: [h1]
  - name: badkind
    kind: archive
    hosts: [h1]
`)
	if err == nil {
		t.Fatal("invalid declarations accepted")
	}
	for _, want := range []string{
		"must not set a destination",
		"duplicate artifact",
		"targets no hosts",
		"names no handler",
		"unknown kind",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestExpandHosts(t *testing.T) {
	configured := []string{"h1", "h2", "h3"}

	artifact := Artifact{Name: "a", Hosts: []string{"h2", "h1", "h2"}}
	hosts, err := artifact.ExpandHosts(configured)
	if err != nil {
		t.Fatalf("ExpandHosts: %v", err)
	}
	if !reflect.DeepEqual(hosts, []string{"h1", "h2"}) {
		t.Errorf("hosts = %v", hosts)
	}

	all := Artifact{Name: "b", Hosts: []string{AllHosts}}
	hosts, err = all.ExpandHosts(configured)
	if err != nil {
		t.Fatalf("ExpandHosts(ALL): %v", err)
	}
	if !reflect.DeepEqual(hosts, configured) {
		t.Errorf("ALL hosts = %v", hosts)
	}

	unknown := Artifact{Name: "c", Hosts: []string{"h9"}}
	if _, err := unknown.ExpandHosts(configured); err == nil {
		t.Error("unconfigured host accepted")
	}
}

func TestSelect(t *testing.T) {
	file := &File{Artifacts: []Artifact{
		{Name: "a"}, {Name: "b"}, {Name: "c"},
	}}

	all, err := file.Select(nil)
	if err != nil || len(all) != 3 {
		t.Fatalf("Select(nil) = %v, %v", all, err)
	}

	some, err := file.Select([]string{"c", "a"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(some) != 2 || some[0].Name != "a" || some[1].Name != "c" {
		t.Errorf("Select order = %v", some)
	}

	if _, err := file.Select([]string{"a", "zzz"}); err == nil {
		t.Error("unknown selection accepted")
	}
}
