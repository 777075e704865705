package stream

// nodeWeights implements §4.6's weighted progress formula: a run's
// percentage is the sum of weights for every distinct node it has
// visited, capped at 100. Nodes not listed (select_next_task,
// error_handler) contribute no weight — they are routing/recovery
// nodes, not units of forward progress.
var nodeWeights = map[string]int{
	"context_analyzer":     5,
	"objective_decomposer": 10,
	"task_analyzer":        15,
	"research":             30,
	"quality_evaluator":    10,
	"processing":           20,
	"synthesis":            10,
}

// Progress computes the 0-100 completion percentage for a set of visited
// node IDs. Duplicate visits (loops back into the same node) do not
// double-count: weight is earned once per distinct node.
func Progress(visited []string) int {
	seen := make(map[string]bool, len(visited))
	total := 0
	for _, n := range visited {
		if seen[n] {
			continue
		}
		seen[n] = true
		total += nodeWeights[n]
	}
	if total > 100 {
		total = 100
	}
	return total
}
