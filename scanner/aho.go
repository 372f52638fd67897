package scanner

// acNode internal automaton node
type acNode struct {
	next map[byte]*acNode
	fail *acNode
	out  []int // pattern ids ending here, including those inherited via fail links
}

// AhoAutomaton encapsulates compiled multi-pattern matcher.
// Read-only after construction, so safe for concurrent scans.
type AhoAutomaton struct {
	root *acNode
}

// BuildAho builds an automaton; pattern i is reported as id i.
func BuildAho(patterns [][]byte) *AhoAutomaton {
	root := &acNode{next: make(map[byte]*acNode)}
	for id, p := range patterns {
		cur := root
		for _, b := range p {
			nxt, ok := cur.next[b]
			if !ok {
				nxt = &acNode{next: make(map[byte]*acNode)}
				cur.next[b] = nxt
			}
			cur = nxt
		}
		cur.out = append(cur.out, id)
	}
	// BFS failure links
	queue := make([]*acNode, 0, len(root.next))
	for _, n := range root.next {
		n.fail = root
		queue = append(queue, n)
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for b, nxt := range n.next {
			f := n.fail
			for f != nil && f.next[b] == nil {
				f = f.fail
			}
			if f == nil {
				nxt.fail = root
			} else {
				nxt.fail = f.next[b]
			}
			if len(nxt.fail.out) > 0 {
				nxt.out = append(nxt.out, nxt.fail.out...)
			}
			queue = append(queue, nxt)
		}
	}
	return &AhoAutomaton{root: root}
}

// step advances from n over b.
func (a *AhoAutomaton) step(n *acNode, b byte) *acNode {
	for n != a.root && n.next[b] == nil {
		n = n.fail
	}
	if nxt, ok := n.next[b]; ok {
		return nxt
	}
	return a.root
}

// Scan reports the ids of every pattern occurring in data.
func (a *AhoAutomaton) Scan(data []byte) map[int]struct{} {
	found := make(map[int]struct{})
	c := a.cursor()
	c.feed(data, found)
	return found
}

// cursor keeps automaton state across chunk boundaries.
type cursor struct {
	a    *AhoAutomaton
	node *acNode
}

func (a *AhoAutomaton) cursor() *cursor {
	return &cursor{a: a, node: a.root}
}

func (c *cursor) feed(chunk []byte, found map[int]struct{}) {
	n := c.node
	for _, b := range chunk {
		n = c.a.step(n, b)
		for _, id := range n.out {
			found[id] = struct{}{}
		}
	}
	c.node = n
}
