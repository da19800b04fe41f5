// Package basicpitch supervises the long-running basic-pitch worker
// subprocess: launch, readiness detection, graceful stop with force-kill
// fallback, restart with new arguments, and decoding of the worker's
// line-oriented stdout protocol.
package basicpitch
