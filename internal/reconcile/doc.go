// Package reconcile decides what to do with two versions of the same record,
// one local and one held by the remote authority.
//
// Causality settles most pairs: if one version's clock happened-before the
// other's, the later version wins outright. Only concurrent versions go through
// the Detect, SelectStrategy, Resolve pipeline, which classifies the conflict,
// consults a per-field policy, and produces either a merged payload or a review
// request.
//
// Everything here is a pure computation over its inputs. Wall time and report
// IDs are injected so results are reproducible.
package reconcile
