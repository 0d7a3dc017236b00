package broker

import (
	"sort"

	"github.com/stratawm/strata/internal/proto"
)

func layoutsEqual(a, b map[string]proto.LogicalOutput) bool {
	if len(a) != len(b) {
		return false
	}
	for name, lo := range a {
		if other, ok := b[name]; !ok || other != lo {
			return false
		}
	}
	return true
}

func sortedOutputs(layout map[string]proto.LogicalOutput) []proto.LogicalOutput {
	outputs := make([]proto.LogicalOutput, 0, len(layout))
	for _, lo := range layout {
		outputs = append(outputs, lo)
	}
	sort.Slice(outputs, func(i, j int) bool { return outputs[i].Output < outputs[j].Output })
	return outputs
}

func diffWindows(before, after []proto.Window) proto.WindowsDiff {
	old := make(map[uint64]proto.Window, len(before))
	for _, w := range before {
		old[w.ID] = w
	}

	var diff proto.WindowsDiff
	seen := make(map[uint64]struct{}, len(after))
	for _, w := range after {
		seen[w.ID] = struct{}{}
		prev, ok := old[w.ID]
		switch {
		case !ok:
			diff.Added = append(diff.Added, w)
		case prev != w:
			diff.Changed = append(diff.Changed, w)
		}
	}
	for _, w := range before {
		if _, ok := seen[w.ID]; !ok {
			diff.Removed = append(diff.Removed, w.ID)
		}
	}
	return diff
}

func diffWorkspaces(before, after []proto.Workspace) proto.WorkspacesDiff {
	old := make(map[uint64]proto.Workspace, len(before))
	for _, w := range before {
		old[w.ID] = w
	}

	var diff proto.WorkspacesDiff
	seen := make(map[uint64]struct{}, len(after))
	for _, w := range after {
		seen[w.ID] = struct{}{}
		prev, ok := old[w.ID]
		switch {
		case !ok:
			diff.Added = append(diff.Added, w)
		case prev != w:
			diff.Changed = append(diff.Changed, w)
		}
	}
	for _, w := range before {
		if _, ok := seen[w.ID]; !ok {
			diff.Removed = append(diff.Removed, w.ID)
		}
	}
	return diff
}

func diffLayers(before, after []proto.LayerSurface) proto.LayersDiff {
	old := make(map[string]proto.LayerSurface, len(before))
	for _, l := range before {
		old[l.Namespace] = l
	}

	var diff proto.LayersDiff
	seen := make(map[string]struct{}, len(after))
	for _, l := range after {
		seen[l.Namespace] = struct{}{}
		prev, ok := old[l.Namespace]
		switch {
		case !ok:
			diff.Added = append(diff.Added, l)
		case prev != l:
			diff.Changed = append(diff.Changed, l)
		}
	}
	for _, l := range before {
		if _, ok := seen[l.Namespace]; !ok {
			diff.Removed = append(diff.Removed, l.Namespace)
		}
	}
	return diff
}
