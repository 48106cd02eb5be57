// Package scheduler periodically checks registered repositories for drift
// between the local mirror and the remote branch and, when enabled, updates
// the mirrors.
//
// Each tick processes a snapshot of the registry sequentially. A failure of
// one repository is recorded in its Result and never stops the tick.
package scheduler
