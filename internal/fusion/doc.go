// Package fusion scores agreement between independently sourced signals about
// the same subject and resolves them into one verified record.
//
// The engine is a pure computation. It performs no I/O and keeps no state
// between calls; callers that want a history of fused records own a History.
package fusion
