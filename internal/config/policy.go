package config

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/outpost/internal/ir"
	"github.com/roach88/outpost/internal/reconcile"
)

//go:embed policy.cue
var policySchema string

// Policy is a decoded reconciliation policy file.
type Policy struct {
	Field                reconcile.Policy
	Confidence           reconcile.Confidence
	AutoResolveThreshold float64
}

// DefaultPolicy returns the built-in reconciliation settings.
func DefaultPolicy() Policy {
	return Policy{
		Field:                reconcile.DefaultPolicy(),
		Confidence:           reconcile.DefaultConfidence(),
		AutoResolveThreshold: reconcile.DefaultAutoResolveThreshold,
	}
}

// ReconcilerOptions returns the options that apply p to a reconciler.
func (p Policy) ReconcilerOptions() []reconcile.Option {
	return []reconcile.Option{
		reconcile.WithPolicy(p.Field),
		reconcile.WithConfidence(p.Confidence),
		reconcile.WithAutoResolveThreshold(p.AutoResolveThreshold),
	}
}

// policyDoc mirrors #Policy in policy.cue.
type policyDoc struct {
	Fields               map[string]string    `json:"fields"`
	Default              string               `json:"default"`
	Semantic             []string             `json:"semantic"`
	TimestampField       string               `json:"timestamp_field"`
	AutoResolveThreshold float64              `json:"auto_resolve_threshold"`
	Confidence           reconcile.Confidence `json:"confidence"`
}

// PolicyError reports a policy file that does not satisfy the schema.
type PolicyError struct {
	File string
	Err  error
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("policy %s: %s", e.File, cueerrors.Details(e.Err, nil))
}

func (e *PolicyError) Unwrap() error {
	return e.Err
}

// LoadPolicy reads a CUE policy file. An empty path returns DefaultPolicy.
//
// A policy file is a plain CUE struct, for example:
//
//	fields: {
//		severity:  "highest_severity"
//		diagnosis: "manual_review"
//		location:  "manual_review"
//	}
//	default: "merge_payloads"
//	auto_resolve_threshold: 0.75
//
// Omitted settings take their built-in values. When fields is omitted the
// built-in field table applies; when present it replaces the table entirely.
func LoadPolicy(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy: %w", err)
	}
	return ParsePolicy(path, data)
}

// ParsePolicy validates data against the policy schema and decodes it.
func ParsePolicy(filename string, data []byte) (Policy, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(policySchema, cue.Filename("policy.cue"))
	if err := schema.Err(); err != nil {
		return Policy{}, fmt.Errorf("policy schema: %w", err)
	}

	doc := ctx.CompileBytes(data, cue.Filename(filename))
	if err := doc.Err(); err != nil {
		return Policy{}, &PolicyError{File: filename, Err: err}
	}

	value := schema.LookupPath(cue.ParsePath("#Policy")).Unify(doc)
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return Policy{}, &PolicyError{File: filename, Err: err}
	}

	var decoded policyDoc
	if err := value.Decode(&decoded); err != nil {
		return Policy{}, &PolicyError{File: filename, Err: err}
	}

	p := Policy{
		Field: reconcile.Policy{
			Default:        ir.Strategy(decoded.Default),
			Semantic:       decoded.Semantic,
			TimestampField: decoded.TimestampField,
		},
		Confidence:           decoded.Confidence,
		AutoResolveThreshold: decoded.AutoResolveThreshold,
	}
	if value.LookupPath(cue.ParsePath("fields")).Exists() {
		p.Field.Fields = make(map[string]ir.Strategy, len(decoded.Fields))
		for field, strategy := range decoded.Fields {
			p.Field.Fields[field] = ir.Strategy(strategy)
		}
	} else {
		p.Field.Fields = reconcile.DefaultPolicy().Fields
	}

	if err := p.Field.Validate(); err != nil {
		return Policy{}, fmt.Errorf("policy %s: %w", filename, err)
	}
	return p, nil
}
