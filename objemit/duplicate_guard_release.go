//go:build !objemit_debug

package objemit

// duplicateGuard is a no-op in release builds: the duplicate-node-name
// check (§5, §7 kind 5) costs a map lookup per node that release builds
// don't pay for.
type duplicateGuard struct{}

func newDuplicateGuard() *duplicateGuard { return &duplicateGuard{} }

func (*duplicateGuard) check(name string) error { return nil }
