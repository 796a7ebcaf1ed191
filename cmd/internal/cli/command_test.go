// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"errors"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestExecuteDispatchesSubcommand(t *testing.T) {
	var ran []string
	root := &Command{
		Name: "distribute",
		Subcommands: []*Command{
			{
				Name: "pool",
				Subcommands: []*Command{
					{
						Name: "latest",
						Run: func(args []string) error {
							ran = args
							return nil
						},
					},
				},
			},
		},
	}

	if err := root.Execute([]string{"pool", "latest", "rsync"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(ran) != 1 || ran[0] != "rsync" {
		t.Errorf("args = %v", ran)
	}
}

func TestExecuteSuggestsOnTypo(t *testing.T) {
	root := &Command{
		Name: "distribute",
		Subcommands: []*Command{
			{Name: "ship", Run: func([]string) error { return nil }},
			{Name: "verify", Run: func([]string) error { return nil }},
		},
	}

	err := root.Execute([]string{"shpi"})
	if err == nil {
		t.Fatal("typo accepted")
	}
	if !strings.Contains(err.Error(), `did you mean "ship"`) {
		t.Errorf("error = %v", err)
	}
}

func TestExecuteParsesFlags(t *testing.T) {
	var verbose bool
	var got []string
	cmd := &Command{
		Name: "verify",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("verify", pflag.ContinueOnError)
			flagSet.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
			return flagSet
		},
		Run: func(args []string) error {
			got = args
			return nil
		},
	}

	if err := cmd.Execute([]string{"--verbose", "file.tgz"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !verbose {
		t.Error("flag not parsed")
	}
	if len(got) != 1 || got[0] != "file.tgz" {
		t.Errorf("args = %v", got)
	}
}

func TestExecuteUnknownFlagSuggestion(t *testing.T) {
	cmd := &Command{
		Name: "ship",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("ship", pflag.ContinueOnError)
			flagSet.Bool("force", false, "force unlock")
			return flagSet
		},
		Run: func([]string) error { return nil },
	}

	err := cmd.Execute([]string{"--forse"})
	if err == nil {
		t.Fatal("unknown flag accepted")
	}
	if !strings.Contains(err.Error(), "--force") {
		t.Errorf("error = %v", err)
	}
}

func TestExecuteSubcommandRequired(t *testing.T) {
	root := &Command{
		Name:        "distribute",
		Subcommands: []*Command{{Name: "ship"}},
	}
	if err := root.Execute(nil); err == nil {
		t.Error("missing subcommand accepted")
	}
}

func TestCmdErrorExitCodes(t *testing.T) {
	tests := []struct {
		err  *CmdError
		code int
	}{
		{Validation("bad input"), 2},
		{NotFound("no such package"), 3},
		{Verification("bad signature"), 4},
		{Conflict("already installed"), 5},
		{Internal("broken"), 1},
	}
	for _, tt := range tests {
		if got := tt.err.ExitCode(); got != tt.code {
			t.Errorf("%s exit code = %d, want %d", tt.err.Category, got, tt.code)
		}
	}
}

func TestCmdErrorUnwrap(t *testing.T) {
	inner := errors.New("inner")
	wrapped := &CmdError{Category: CategoryInternal, Err: inner}
	if !errors.Is(wrapped, inner) {
		t.Error("errors.Is does not reach the inner error")
	}
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"ship", "ship", 0},
		{"shpi", "ship", 2},
		{"instal", "install", 1},
		{"xyz", "ship", 4},
	}
	for _, tt := range tests {
		if got := levenshtein(tt.a, tt.b); got != tt.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
