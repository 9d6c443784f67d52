package dispatcher

import "github.com/agentic-qe/fleet/types"

// queueItem is one task awaiting dispatch. Its retries field is not
// updated; retries are counted per run in execute and reported in
// TaskResult.RetriesConsumed.
type queueItem struct {
	task    types.Task
	retries int
}

// priorityQueue orders items by (priority desc, submission_time asc), the
// ordering required by spec §4.6. It implements container/heap.Interface
// but batch formation reads a fully sorted snapshot rather than relying on
// heap order alone, since eligibility (prerequisites met) can skip over
// higher-priority items.
type priorityQueue []*queueItem

func (q priorityQueue) Len() int { return len(q) }

func (q priorityQueue) Less(i, j int) bool {
	if q[i].task.Priority != q[j].task.Priority {
		return q[i].task.Priority > q[j].task.Priority
	}
	return q[i].task.SubmittedAt.Before(q[j].task.SubmittedAt)
}

func (q priorityQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *priorityQueue) Push(x any) { *q = append(*q, x.(*queueItem)) }

func (q *priorityQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}
