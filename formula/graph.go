package formula

import (
	"sort"

	"github.com/moustaphacheikh/paie/payroll"
)

// =============================================================================
// DEPENDENCY GRAPH - Rubrique references, checked before evaluation
// =============================================================================

// Graph maps each rubrique to the rubriques its Base and Quantity
// formulas reference.
type Graph struct {
	deps map[payroll.RubriqueID][]payroll.RubriqueID
}

// BuildGraph collects references of every formula. Rubriques without
// formulas still appear as nodes when referenced.
func BuildGraph(formulas map[payroll.RubriqueID]payroll.Formula) *Graph {
	g := &Graph{deps: map[payroll.RubriqueID][]payroll.RubriqueID{}}
	for id, f := range formulas {
		refs := References(append(append([]payroll.Token{}, f.Base...), f.Quantity...))
		g.deps[id] = refs
		for _, r := range refs {
			if _, ok := g.deps[r]; !ok {
				g.deps[r] = nil
			}
		}
	}
	return g
}

// Dependencies returns the direct references of id.
func (g *Graph) Dependencies(id payroll.RubriqueID) []payroll.RubriqueID {
	return g.deps[id]
}

func (g *Graph) nodes() []payroll.RubriqueID {
	ids := make([]payroll.RubriqueID, 0, len(g.deps))
	for id := range g.deps {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Order returns the rubriques sorted so that every rubrique comes after
// the ones it references, plus the cycles found. Rubriques on a cycle
// (a strongly connected component with more than one member, or a
// self-reference) are left out of the order; each is mapped to a cycle
// path through it, closed on its first element: A -> B -> A.
func (g *Graph) Order() ([]payroll.RubriqueID, map[payroll.RubriqueID][]payroll.RubriqueID) {
	t := &tarjan{
		g:       g,
		index:   map[payroll.RubriqueID]int{},
		low:     map[payroll.RubriqueID]int{},
		onStack: map[payroll.RubriqueID]bool{},
		cycles:  map[payroll.RubriqueID][]payroll.RubriqueID{},
	}
	for _, id := range g.nodes() {
		if _, seen := t.index[id]; !seen {
			t.strongConnect(id)
		}
	}
	return t.order, t.cycles
}

// Cycles returns only the cycle map of Order.
func (g *Graph) Cycles() map[payroll.RubriqueID][]payroll.RubriqueID {
	_, cycles := g.Order()
	return cycles
}

// tarjan emits components dependencies-first because edges point from a
// rubrique to what it references.
type tarjan struct {
	g       *Graph
	next    int
	index   map[payroll.RubriqueID]int
	low     map[payroll.RubriqueID]int
	onStack map[payroll.RubriqueID]bool
	stack   []payroll.RubriqueID
	order   []payroll.RubriqueID
	cycles  map[payroll.RubriqueID][]payroll.RubriqueID
}

func (t *tarjan) strongConnect(id payroll.RubriqueID) {
	t.index[id] = t.next
	t.low[id] = t.next
	t.next++
	t.stack = append(t.stack, id)
	t.onStack[id] = true

	for _, dep := range t.g.deps[id] {
		if _, seen := t.index[dep]; !seen {
			t.strongConnect(dep)
			t.low[id] = min(t.low[id], t.low[dep])
		} else if t.onStack[dep] {
			t.low[id] = min(t.low[id], t.index[dep])
		}
	}

	if t.low[id] != t.index[id] {
		return
	}
	var component []payroll.RubriqueID
	for {
		top := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]
		t.onStack[top] = false
		component = append(component, top)
		if top == id {
			break
		}
	}
	if len(component) == 1 && !t.g.selfLoop(id) {
		t.order = append(t.order, id)
		return
	}
	members := map[payroll.RubriqueID]bool{}
	for _, m := range component {
		members[m] = true
	}
	for _, m := range component {
		t.cycles[m] = t.g.cycleThrough(m, members)
	}
}

func (g *Graph) selfLoop(id payroll.RubriqueID) bool {
	for _, d := range g.deps[id] {
		if d == id {
			return true
		}
	}
	return false
}

// cycleThrough finds the shortest path from start back to itself that
// stays inside the component.
func (g *Graph) cycleThrough(start payroll.RubriqueID, members map[payroll.RubriqueID]bool) []payroll.RubriqueID {
	prev := map[payroll.RubriqueID]payroll.RubriqueID{}
	visited := map[payroll.RubriqueID]bool{}
	queue := []payroll.RubriqueID{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, dep := range g.deps[cur] {
			if !members[dep] {
				continue
			}
			if dep == start {
				path := []payroll.RubriqueID{start}
				for n := cur; n != start; n = prev[n] {
					path = append(path, n)
				}
				// path is start, then the chain back from cur; reverse the chain.
				for i, j := 1, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				return append(path, start)
			}
			if !visited[dep] {
				visited[dep] = true
				prev[dep] = cur
				queue = append(queue, dep)
			}
		}
	}
	return []payroll.RubriqueID{start, start}
}
