// internal/config/group.go
//
// All-or-nothing feature groups.
//
/*
Context
--------
Some features need several settings that only make sense together.  The
OpenID Connect block, for example, needs a client id, a client secret, and
four endpoint URLs; a client id without a token endpoint is worse than no
OIDC at all.

Atomic runs a build function against a Group accumulator.  The Group
records every key the build function asks for.  The feature is enabled
only when every lookup succeeded, the build function returned no error,
and the built value passes struct validation.  Otherwise the Feature is
disabled, carries the zero value, and keeps the joined failure reasons for
diagnostics.  The process keeps running either way.

Usage
-----

	oidc := Atomic(src, "oidc", func(g *Group) (OIDC, error) {
		return OIDC{
			ClientID: g.Require("OIDC_RP_CLIENT_ID"),
			// ...
		}, nil
	})
	if v, ok := oidc.Get(); ok { ... }
*/
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// GroupError wraps the reasons a feature group was disabled.
type GroupError struct {
	Group string
	Err   error
}

func (e *GroupError) Error() string {
	return fmt.Sprintf("feature %q disabled: %v", e.Group, e.Err)
}

func (e *GroupError) Unwrap() error { return e.Err }

// Group accumulates lookups for one feature.  It is only valid inside the
// build function passed to Atomic.
type Group struct {
	src  *Source
	keys []string
	errs []error
}

// Require returns key and records a failure when it is missing.  Lookups
// continue after a failure so the diagnostics list every missing key.
func (g *Group) Require(key string) string {
	g.keys = append(g.keys, normalizeKey(key))
	v, err := g.src.Require(key)
	if err != nil {
		g.errs = append(g.errs, err)
	}
	return v
}

// Optional returns key or def.  Optional keys never disable the group.
func (g *Group) Optional(key, def string) string {
	g.keys = append(g.keys, normalizeKey(key))
	return g.src.String(key, def)
}

// Fail records an arbitrary failure, e.g. a value that did not parse.
func (g *Group) Fail(err error) {
	if err != nil {
		g.errs = append(g.errs, err)
	}
}

// Feature is the committed or rolled-back result of a group.
type Feature[T any] struct {
	Name    string
	Enabled bool
	Keys    []string // every key consulted, in lookup order
	Err     error    `json:"-"`

	value T
}

// Get returns the value and whether the feature is enabled.  Disabled
// features always return the zero value.
func (f Feature[T]) Get() (T, bool) { return f.value, f.Enabled }

// Reason returns the failure reason, or "" when enabled.
func (f Feature[T]) Reason() string {
	if f.Err == nil {
		return ""
	}
	return f.Err.Error()
}

// Atomic evaluates build as one unit.  See the file header for semantics.
func Atomic[T any](src *Source, name string, build func(g *Group) (T, error)) Feature[T] {
	g := &Group{src: src}
	v, err := build(g)
	g.Fail(err)

	if len(g.errs) == 0 {
		if verr := validateValue(v); verr != nil {
			g.Fail(verr)
		}
	}

	if len(g.errs) > 0 {
		return Feature[T]{
			Name: name,
			Keys: g.keys,
			Err:  &GroupError{Group: name, Err: errors.Join(g.errs...)},
		}
	}
	return Feature[T]{Name: name, Enabled: true, Keys: g.keys, value: v}
}

// validateValue runs struct validation on v.  Non-struct values pass.
func validateValue(v any) error {
	err := validate.Struct(v)
	var inv *validator.InvalidValidationError
	if err == nil || errors.As(err, &inv) {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()))
		}
		return errors.New(strings.Join(msgs, "; "))
	}
	return err
}
