// Package workflow coordinates the conversion pipeline: submissions go
// through optional normalization into the request tracker and down to
// the worker, worker stdout lines are correlated back to pending
// requests, and a periodic reaper evicts requests the worker never
// answered.
package workflow
