// Package agenthandoff bridges conversations to human operators: fair
// per-operator FIFO queues, the forwarding flow, and the reserved
// operator commands. Queues are memory only; a restart rebuilds them
// empty and waiting contacts simply re-request.
package agenthandoff

import "sync"

// Queues holds one FIFO of waiting contact identities per operator.
// A contact belongs to at most one queue at a time; a repeated enqueue
// reports the existing position instead of creating a duplicate entry.
type Queues struct {
	mu      sync.Mutex
	byAgent map[string][]string
}

func NewQueues() *Queues {
	return &Queues{byAgent: map[string][]string{}}
}

// Enqueue appends identity to the operator's queue and returns its
// 1-based position. If the contact already waits in any queue, the
// existing membership wins and already is true.
func (q *Queues) Enqueue(agent, identity string) (pos int, already bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, queue := range q.byAgent {
		for i, id := range queue {
			if id == identity {
				return i + 1, true
			}
		}
	}
	q.byAgent[agent] = append(q.byAgent[agent], identity)
	return len(q.byAgent[agent]), false
}

// Dequeue pops the front of the operator's queue.
func (q *Queues) Dequeue(agent string) (identity string, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	queue := q.byAgent[agent]
	if len(queue) == 0 {
		return "", false
	}
	identity = queue[0]
	q.byAgent[agent] = queue[1:]
	if len(q.byAgent[agent]) == 0 {
		delete(q.byAgent, agent)
	}
	return identity, true
}

// Front returns the identity currently being served by the operator.
func (q *Queues) Front(agent string) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	queue := q.byAgent[agent]
	if len(queue) == 0 {
		return "", false
	}
	return queue[0], true
}

// Remove drops an identity from whichever queue holds it.
func (q *Queues) Remove(identity string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for agent, queue := range q.byAgent {
		for i, id := range queue {
			if id != identity {
				continue
			}
			q.byAgent[agent] = append(queue[:i:i], queue[i+1:]...)
			if len(q.byAgent[agent]) == 0 {
				delete(q.byAgent, agent)
			}
			return true
		}
	}
	return false
}

// Waiting returns, per operator, the identities at positions 2..N.
// Position 1 is being served and gets no position updates.
func (q *Queues) Waiting() map[string][]string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := map[string][]string{}
	for agent, queue := range q.byAgent {
		if len(queue) > 1 {
			out[agent] = append([]string(nil), queue[1:]...)
		}
	}
	return out
}

// Len returns the total number of queued identities.
func (q *Queues) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, queue := range q.byAgent {
		n += len(queue)
	}
	return n
}
