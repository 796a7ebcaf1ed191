// Copyright 2026 The Distribute Authors
// SPDX-License-Identifier: Apache-2.0

// Package pkgver parses and orders package version strings.
//
// Four version forms are recognized, tried in order against the whole
// string: dotted numeric (1.2.3), short numeric with an optional
// tier letter (2.4a), compact date (20250101), and hybrid dotted-date
// (1.2.20250101). Each form allows a trailing pN revision, and all but
// the short form allow a trailing vN epoch. A string that matches no
// form is a parse error — callers must never treat two unparsable
// strings as equal, because silent misordering could let a downgrade
// through.
//
// Comparison is defined only between versions of the same form. The
// field order is major, minor, patch/date, then the letter+epoch pair,
// then revision. Letter+epoch and revision compare as plain strings,
// matching the conventions of the package tools this system feeds.
package pkgver

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Form identifies which version grammar a string matched. Versions of
// different forms are not comparable.
type Form int

const (
	// FormDotted is maj.min.patch with optional revision and epoch
	// (1.2.3, 1.2.3p1, 9.20.8p0v3). The patch component is capped at
	// seven digits; eight digits is taken as a date and parsed as
	// FormHybrid instead.
	FormDotted Form = iota + 1

	// FormShort is maj.min with an optional tier letter and revision
	// (2.4, 5.9a, 2.4p3).
	FormShort

	// FormDate is a compact yyyymmdd date with optional letter,
	// revision, and epoch (20250101, 20250101a, 20250101p1v2).
	FormDate

	// FormHybrid is maj.min.yyyymmdd with optional revision and epoch
	// (1.2.20250101p1).
	FormHybrid
)

// String returns the form name for error messages.
func (f Form) String() string {
	switch f {
	case FormDotted:
		return "dotted"
	case FormShort:
		return "short"
	case FormDate:
		return "date"
	case FormHybrid:
		return "hybrid-date"
	default:
		return fmt.Sprintf("unknown(%d)", int(f))
	}
}

// Version is a parsed package version. The zero Version is invalid;
// obtain one through Parse.
type Version struct {
	form Form

	major int64
	minor int64
	patch int64 // patch number or yyyymmdd date, depending on form

	letter   string // tier letter ("a"), empty when absent
	revision string // digits after "p", empty when absent
	epoch    string // digits after "v", empty when absent

	raw string
}

// Form returns the grammar the version was parsed under.
func (v Version) Form() Form { return v.form }

// String returns the original input string.
func (v Version) String() string { return v.raw }

// ErrMixedForms is returned by Compare when the two versions were
// parsed under different grammars. Ordering across forms is undefined;
// refusing is safer than guessing.
var ErrMixedForms = errors.New("pkgver: versions have different forms")

// The four accepted forms. Anchored: a version must match a whole
// pattern, partial matches are rejected.
var (
	dottedPattern = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d{1,7})(?:p(\d+))?(?:v(\d+))?$`)
	shortPattern  = regexp.MustCompile(`^(\d+)\.(\d+)([a-z])?(?:p(\d+))?$`)
	datePattern   = regexp.MustCompile(`^(\d{8})([a-z])?(?:p(\d+))?(?:v(\d+))?$`)
	hybridPattern = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d{8})(?:p(\d+))?(?:v(\d+))?$`)
)

// Parse parses s under the first matching form. An empty or
// unrecognized string is an error, never a silently-comparable zero
// value.
func Parse(s string) (Version, error) {
	if s == "" {
		return Version{}, fmt.Errorf("pkgver: empty version string")
	}

	if m := dottedPattern.FindStringSubmatch(s); m != nil {
		return build(FormDotted, s, m[1], m[2], m[3], "", m[4], m[5])
	}
	if m := shortPattern.FindStringSubmatch(s); m != nil {
		return build(FormShort, s, m[1], m[2], "", m[3], m[4], "")
	}
	if m := datePattern.FindStringSubmatch(s); m != nil {
		return build(FormDate, s, "", "", m[1], m[2], m[3], m[4])
	}
	if m := hybridPattern.FindStringSubmatch(s); m != nil {
		return build(FormHybrid, s, m[1], m[2], m[3], "", m[4], m[5])
	}

	return Version{}, fmt.Errorf("pkgver: unparsable version %q", s)
}

// build assembles a Version from submatch strings. Empty numeric
// components (absent major/minor in the date form) stay zero, which
// compares equal across all members of that form.
func build(form Form, raw, major, minor, patch, letter, revision, epoch string) (Version, error) {
	v := Version{
		form:     form,
		letter:   letter,
		revision: revision,
		epoch:    epoch,
		raw:      raw,
	}

	var err error
	if major != "" {
		if v.major, err = strconv.ParseInt(major, 10, 64); err != nil {
			return Version{}, fmt.Errorf("pkgver: major component of %q: %w", raw, err)
		}
	}
	if minor != "" {
		if v.minor, err = strconv.ParseInt(minor, 10, 64); err != nil {
			return Version{}, fmt.Errorf("pkgver: minor component of %q: %w", raw, err)
		}
	}
	if patch != "" {
		if v.patch, err = strconv.ParseInt(patch, 10, 64); err != nil {
			return Version{}, fmt.Errorf("pkgver: patch component of %q: %w", raw, err)
		}
	}

	return v, nil
}

// Compare orders two versions of the same form. Returns -1 when a is
// older than b, 0 when equal, +1 when newer. Versions of different
// forms return ErrMixedForms.
//
// Fields compare in order: major, minor, patch/date numerically, then
// the concatenated letter+epoch as a string, then revision as a
// string. The string compares are deliberate: they reproduce the
// ordering of the package ecosystem whose archives this system
// installs, where a tier letter sorts ahead of a numeric revision.
func Compare(a, b Version) (int, error) {
	if a.form == 0 || b.form == 0 {
		return 0, fmt.Errorf("pkgver: comparing unparsed version")
	}
	if a.form != b.form {
		return 0, fmt.Errorf("%w: %q is %s, %q is %s",
			ErrMixedForms, a.raw, a.form, b.raw, b.form)
	}

	if c := compareInt64(a.major, b.major); c != 0 {
		return c, nil
	}
	if c := compareInt64(a.minor, b.minor); c != 0 {
		return c, nil
	}
	if c := compareInt64(a.patch, b.patch); c != 0 {
		return c, nil
	}
	if c := strings.Compare(a.letter+a.epoch, b.letter+b.epoch); c != 0 {
		return c, nil
	}
	return strings.Compare(a.revision, b.revision), nil
}

// Newer reports whether version string a orders strictly after b.
// Either string failing to parse, or the two parsing under different
// forms, is an error.
func Newer(a, b string) (bool, error) {
	parsedA, err := Parse(a)
	if err != nil {
		return false, err
	}
	parsedB, err := Parse(b)
	if err != nil {
		return false, err
	}
	c, err := Compare(parsedA, parsedB)
	if err != nil {
		return false, err
	}
	return c > 0, nil
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
