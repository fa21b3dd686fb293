package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNoPath is returned when a required table cannot be reached from the
// anchor through foreign-key edges. Callers treat this as a regenerable
// diagnostic, not a fatal condition: it usually means table matching picked
// a wrong table.
var ErrNoPath = errors.New("no join path between required tables")

type JoinType string

const (
	JoinInner JoinType = "INNER JOIN"
	JoinLeft  JoinType = "LEFT JOIN"
)

// JoinStep is one edge of a synthesized join path. Left is always a table
// that is already part of the joined set, Right is the table the step adds.
type JoinStep struct {
	Left      string   `json:"left"`
	Right     string   `json:"right"`
	Type      JoinType `json:"type"`
	Condition string   `json:"condition"`
}

type graphEdge struct {
	neighbor string // canonical table name on the other side

	// Foreign-key orientation, independent of traversal direction.
	fkTable   string
	fkColumn  string
	refTable  string
	refColumn string
	nullable  bool
}

// Graph is the undirected table-relationship graph derived from the catalog's
// foreign keys. It is recomputed on catalog reload and immutable afterwards.
type Graph struct {
	adj map[string][]graphEdge // canonical (original-case) table name -> edges
}

// BuildGraph derives the join graph from every foreign key in the catalog,
// not only the tables a particular question needs. Adjacency lists are sorted
// by neighbor name so traversal order is deterministic.
func BuildGraph(c *Catalog) *Graph {
	g := &Graph{adj: map[string][]graphEdge{}}
	if c == nil {
		return g
	}
	for _, t := range c.Tables {
		if _, ok := g.adj[t.Name]; !ok {
			g.adj[t.Name] = nil
		}
	}
	for _, t := range c.Tables {
		for _, fk := range t.ForeignKeys {
			ref := c.Table(fk.RefTable)
			if ref == nil {
				continue
			}
			edge := graphEdge{
				fkTable:   t.Name,
				fkColumn:  fk.Column,
				refTable:  ref.Name,
				refColumn: fk.RefColumn,
				nullable:  fk.Nullable,
			}
			out := edge
			out.neighbor = ref.Name
			in := edge
			in.neighbor = t.Name
			g.adj[t.Name] = append(g.adj[t.Name], out)
			g.adj[ref.Name] = append(g.adj[ref.Name], in)
		}
	}
	for name := range g.adj {
		edges := g.adj[name]
		sort.Slice(edges, func(i, j int) bool {
			if edges[i].neighbor != edges[j].neighbor {
				return edges[i].neighbor < edges[j].neighbor
			}
			return edges[i].fkColumn < edges[j].fkColumn
		})
	}
	return g
}

func (e graphEdge) joinType() JoinType {
	if e.nullable {
		return JoinLeft
	}
	return JoinInner
}

func (e graphEdge) condition() string {
	return fmt.Sprintf("%s.%s = %s.%s", e.fkTable, e.fkColumn, e.refTable, e.refColumn)
}

func (e graphEdge) key() string {
	return e.fkTable + "." + e.fkColumn + ">" + e.refTable + "." + e.refColumn
}

// JoinPath connects every table in required (|required| >= 2) through
// foreign-key edges and returns the ordered join steps.
//
// The algorithm is fully deterministic:
//  1. the anchor is the lexicographically first required table,
//  2. BFS from the anchor visits neighbors in lexicographic order,
//  3. the shortest anchor->member paths are unioned into a connecting
//     subgraph (non-required tables may appear as waypoints),
//  4. steps are emitted by walking the union subgraph from the anchor,
//     again in lexicographic neighbor order.
//
// Any unreachable member yields ErrNoPath; a partial join is never returned.
func (g *Graph) JoinPath(required []string) ([]JoinStep, error) {
	if g == nil {
		return nil, errors.New("nil graph")
	}
	members := make([]string, 0, len(required))
	seen := map[string]bool{}
	for _, raw := range required {
		name, ok := g.canonical(raw)
		if !ok {
			return nil, fmt.Errorf("%w: unknown table %q", ErrNoPath, raw)
		}
		if !seen[name] {
			seen[name] = true
			members = append(members, name)
		}
	}
	if len(members) < 2 {
		return nil, errors.New("join path requires at least two tables")
	}
	sort.Strings(members)
	anchor := members[0]

	parent := g.bfs(anchor)

	// Union the anchor->member shortest-path edges.
	union := map[string][]graphEdge{}
	addEdge := func(from string, e graphEdge) {
		for _, existing := range union[from] {
			if existing.key() == e.key() {
				return
			}
		}
		union[from] = append(union[from], e)
	}
	for _, member := range members[1:] {
		if _, ok := parent[member]; !ok {
			return nil, fmt.Errorf("%w: %s is unreachable from %s", ErrNoPath, member, anchor)
		}
		for at := member; at != anchor; {
			step := parent[at]
			addEdge(step.from, step.edge)
			at = step.from
		}
	}

	// Emit steps by BFS over the union subgraph.
	var steps []JoinStep
	joined := map[string]bool{anchor: true}
	queue := []string{anchor}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		edges := union[cur]
		sort.Slice(edges, func(i, j int) bool { return edges[i].neighbor < edges[j].neighbor })
		for _, e := range edges {
			if joined[e.neighbor] {
				continue
			}
			joined[e.neighbor] = true
			steps = append(steps, JoinStep{
				Left:      cur,
				Right:     e.neighbor,
				Type:      e.joinType(),
				Condition: e.condition(),
			})
			queue = append(queue, e.neighbor)
		}
	}
	return steps, nil
}

type bfsStep struct {
	from string
	edge graphEdge
}

// bfs computes parent pointers for every table reachable from start, visiting
// queue entries FIFO and neighbors in the pre-sorted adjacency order.
func (g *Graph) bfs(start string) map[string]bfsStep {
	parent := map[string]bfsStep{}
	visited := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.adj[cur] {
			if visited[e.neighbor] {
				continue
			}
			visited[e.neighbor] = true
			parent[e.neighbor] = bfsStep{from: cur, edge: e}
			queue = append(queue, e.neighbor)
		}
	}
	return parent
}

func (g *Graph) canonical(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if _, ok := g.adj[name]; ok {
		return name, true
	}
	lower := strings.ToLower(name)
	for existing := range g.adj {
		if strings.ToLower(existing) == lower {
			return existing, true
		}
	}
	return "", false
}

// FormatJoinHint renders a join path as a prompt hint block for the SQL
// generation call. Returns "" when no hint applies.
func FormatJoinHint(steps []JoinStep) string {
	if len(steps) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Join path (derived from foreign keys, follow it exactly):\n")
	for i, s := range steps {
		fmt.Fprintf(&b, "  %d. %s %s ON %s\n", i+1, s.Type, s.Right, s.Condition)
	}
	return b.String()
}

// JoinTables returns every table that participates in the steps, starting
// from the anchor side, in first-appearance order.
func JoinTables(steps []JoinStep) []string {
	var out []string
	seen := map[string]bool{}
	for _, s := range steps {
		for _, name := range []string{s.Left, s.Right} {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}
