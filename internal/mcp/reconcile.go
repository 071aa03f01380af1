package mcp

import (
	"context"
	"reflect"
	"sort"
)

// ReconcileResult reports what Reconcile changed.
type ReconcileResult struct {
	Added   []string
	Removed []string
	// Failed maps server IDs to the error from adding them.
	Failed map[string]error
}

// Reconcile moves from the previous set of configured servers to desired.
// Servers that disappeared are removed, new ones are added, and changed
// ones are removed and added again since a session's transport cannot
// change. Servers added through other means are left alone.
func (o *Orchestrator) Reconcile(ctx context.Context, previous, desired []ServerDescriptor) ReconcileResult {
	result := ReconcileResult{Failed: map[string]error{}}

	prev := indexDescriptors(previous)
	next := indexDescriptors(desired)

	for _, id := range sortedKeys(prev) {
		want, keep := next[id]
		if keep && sameDescriptor(prev[id], want) {
			continue
		}
		o.registry.Remove(ctx, id)
		result.Removed = append(result.Removed, id)
	}

	for _, id := range sortedKeys(next) {
		if had, ok := prev[id]; ok && sameDescriptor(had, next[id]) {
			if _, registered := o.registry.Get(id); registered {
				continue
			}
		}
		if _, err := o.registry.Add(ctx, next[id]); err != nil {
			o.logger.Warn("configured server not added", "server_id", id, "error", err)
			result.Failed[id] = err
			continue
		}
		result.Added = append(result.Added, id)
	}

	o.RefreshTools(ctx)
	return result
}

func indexDescriptors(descs []ServerDescriptor) map[string]ServerDescriptor {
	out := make(map[string]ServerDescriptor, len(descs))
	for _, d := range descs {
		out[d.ID] = d
	}
	return out
}

func sortedKeys(m map[string]ServerDescriptor) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sameDescriptor(a, b ServerDescriptor) bool {
	a.IsConnected, b.IsConnected = false, false
	return reflect.DeepEqual(a, b)
}
