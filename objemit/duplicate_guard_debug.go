//go:build objemit_debug

package objemit

import "fmt"

// duplicateGuard catches a dependency-graph bug that produces two nodes
// with the same name in one emission call (§5, §7 kind 5). Only built with
// -tags objemit_debug.
type duplicateGuard struct {
	seen map[string]bool
}

func newDuplicateGuard() *duplicateGuard {
	return &duplicateGuard{seen: make(map[string]bool)}
}

func (g *duplicateGuard) check(name string) error {
	if g.seen[name] {
		return fmt.Errorf("duplicate node name %q", name)
	}
	g.seen[name] = true
	return nil
}
