// Package reduction folds a log into its materialized profile state.
//
// Reduce is pure and deterministic: replaying the same log always yields the
// same State, which is what makes a persisted reduction disposable. The
// recognized body types are follow, unfollow, announce and avatar; every
// other type only advances latestIndex and latestDate.
package reduction
