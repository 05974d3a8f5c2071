// Package errors provides the structured error types used throughout jawa.
//
// Errors carry a Kind describing the failure class and, where available, a
// Source describing the provenance of the failure: a block, an edge, an
// instruction within a block, or nothing.
//
// Analysis code does not stop at the first failure. Errors accumulate into a
// Verifier and callers inspect the collected list, or call Raise to turn a
// non-empty list into a single composite error.
package errors
