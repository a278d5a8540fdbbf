// Package schema validates events before a dispatch admits them. The default
// check is the name grammar; per-event rules for payload and metadata shape
// are added on top, keyed by the same exact-or-trailing-asterisk patterns the
// listener registry uses.
package schema

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/runeforged/runebus/internal/bus/errs"
)

// nameRE is the event name grammar: dot separated segments of letters,
// digits, underscores and hyphens.
var nameRE = regexp.MustCompile(`^[A-Za-z0-9_-]+(\.[A-Za-z0-9_-]+)*$`)

// ValidName reports whether name matches the event name grammar.
func ValidName(name string) bool {
	return nameRE.MatchString(name)
}

// RuleFunc checks one aspect of an event's shape. A non-nil error fails
// validation; the error text becomes the validation reason.
type RuleFunc func(name string, payload, metadata map[string]any) error

type rule struct {
	pattern  string
	wildcard bool
	prefix   string
	fn       RuleFunc
}

func (r rule) matches(name string) bool {
	if r.wildcard {
		return strings.HasPrefix(name, r.prefix)
	}
	return r.pattern == name
}

// Validator checks the name grammar and every rule whose pattern matches the
// event name. Safe for concurrent use; rules are append-only.
type Validator struct {
	mu    sync.RWMutex
	rules []rule
}

// NewValidator returns a validator with the name grammar as its only check.
func NewValidator() *Validator {
	return &Validator{}
}

// AddRule registers fn for every event whose name matches pattern. Empty
// patterns and nil rules are ignored.
func (v *Validator) AddRule(pattern string, fn RuleFunc) {
	if pattern == "" || fn == nil {
		return
	}
	r := rule{pattern: pattern, fn: fn}
	if strings.HasSuffix(pattern, "*") {
		r.wildcard = true
		r.prefix = strings.TrimSuffix(pattern, "*")
	}
	v.mu.Lock()
	v.rules = append(v.rules, r)
	v.mu.Unlock()
}

// Validate checks name against the grammar, then runs the matching rules in
// registration order and stops at the first failure. The returned error is
// always a *errs.ValidationError.
func (v *Validator) Validate(name string, payload, metadata map[string]any) error {
	if name == "" {
		return &errs.ValidationError{Name: name, Reason: "name is empty"}
	}
	if !nameRE.MatchString(name) {
		return &errs.ValidationError{Name: name, Reason: "name does not match the segment(.segment)* grammar"}
	}

	v.mu.RLock()
	rules := v.rules
	v.mu.RUnlock()

	for _, r := range rules {
		if !r.matches(name) {
			continue
		}
		if err := r.fn(name, payload, metadata); err != nil {
			return &errs.ValidationError{Name: name, Reason: err.Error()}
		}
	}
	return nil
}

// Nop accepts every event.
type Nop struct{}

func (Nop) Validate(string, map[string]any, map[string]any) error { return nil }

// RequirePayloadKeys fails when any of the keys is absent from the payload.
func RequirePayloadKeys(keys ...string) RuleFunc {
	return func(_ string, payload, _ map[string]any) error {
		for _, key := range keys {
			if _, ok := payload[key]; !ok {
				return fmt.Errorf("payload key %q is required", key)
			}
		}
		return nil
	}
}

// RequireMetadataKeys fails when any of the keys is absent from the metadata.
func RequireMetadataKeys(keys ...string) RuleFunc {
	return func(_ string, _, metadata map[string]any) error {
		for _, key := range keys {
			if _, ok := metadata[key]; !ok {
				return fmt.Errorf("metadata key %q is required", key)
			}
		}
		return nil
	}
}

// PayloadType fails when the payload value under key is present but is not a
// T. Absent keys pass; combine with RequirePayloadKeys to make them fail.
func PayloadType[T any](key string) RuleFunc {
	return func(_ string, payload, _ map[string]any) error {
		value, ok := payload[key]
		if !ok {
			return nil
		}
		if _, ok := value.(T); !ok {
			var want T
			return fmt.Errorf("payload key %q must be %T, got %T", key, want, value)
		}
		return nil
	}
}
