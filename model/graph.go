// Package model - dependency graph types produced by the resolver and persisted as edges.
package model

import (
	"strings"
	"time"
)

// DependencyRef is one declared dependency as a registry reports it.
type DependencyRef struct {
	Identity PackageIdentity `json:"identity" yaml:"identity"`
	Spec     VersionSpec     `json:"spec,omitempty" yaml:"spec,omitempty"`
}

// ResolvedEdge is one row of resolved_edges: Package depends on DependsOn, first seen at Depth.
type ResolvedEdge struct {
	Package   PackageIdentity `json:"package"`
	DependsOn PackageIdentity `json:"depends_on"`
	Spec      VersionSpec     `json:"spec,omitempty"`
	Depth     int             `json:"depth"`
}

// EdgeSet is the persisted direct-dependency list of one package. An empty Edges slice is a
// resolved package with no dependencies, which is different from a missing EdgeSet.
type EdgeSet struct {
	Package    PackageIdentity `json:"package"`
	Edges      []ResolvedEdge  `json:"edges"`
	ResolvedAt time.Time       `json:"resolved_at"`
}

// Refs converts the stored edges back to dependency refs.
func (s EdgeSet) Refs() []DependencyRef {
	refs := make([]DependencyRef, 0, len(s.Edges))
	for _, e := range s.Edges {
		refs = append(refs, DependencyRef{Identity: e.DependsOn, Spec: e.Spec})
	}
	return refs
}

// DependencyNode is one position of a package in a resolution tree. Diamond dependencies produce
// several nodes with the same identity.
type DependencyNode struct {
	Identity     PackageIdentity   `json:"identity"`
	VersionSpec  VersionSpec       `json:"version_spec,omitempty"`
	ExactVersion ExactVersion      `json:"exact_version"`
	Depth        int               `json:"depth"`
	Children     []*DependencyNode `json:"children,omitempty"`

	FromCache  bool   `json:"from_cache,omitempty"`
	Truncated  bool   `json:"truncated,omitempty"`
	Cycle      bool   `json:"cycle,omitempty"`
	Incomplete bool   `json:"incomplete,omitempty"`
	Cancelled  bool   `json:"cancelled,omitempty"`
	ParseError bool   `json:"parse_error,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Walk visits the node and its descendants depth first, passing the path of identities from the
// root. Returning false from fn skips the node's children.
func (n *DependencyNode) Walk(fn func(node *DependencyNode, path []PackageIdentity) bool) {
	var walk func(node *DependencyNode, path []PackageIdentity)
	walk = func(node *DependencyNode, path []PackageIdentity) {
		if node == nil {
			return
		}
		path = append(path[:len(path):len(path)], node.Identity)
		if !fn(node, path) {
			return
		}
		for _, child := range node.Children {
			walk(child, path)
		}
	}
	walk(n, nil)
}

// Clone deep-copies the subtree.
func (n *DependencyNode) Clone() *DependencyNode {
	if n == nil {
		return nil
	}
	c := *n
	if n.Children != nil {
		c.Children = make([]*DependencyNode, len(n.Children))
		for i, child := range n.Children {
			c.Children[i] = child.Clone()
		}
	}
	return &c
}

// Partial reports whether the subtree is not a complete expansion: it was cut by the depth
// limit, by cancellation, or stops at a cycle whose meaning depends on the ancestors.
func (n *DependencyNode) Partial() bool {
	partial := false
	n.Walk(func(node *DependencyNode, _ []PackageIdentity) bool {
		if node.Truncated || node.Cancelled || node.Cycle {
			partial = true
		}
		return !partial
	})
	return partial
}

// TruncationPoints lists the path of every node cut by the depth limit, in walk order.
func (n *DependencyNode) TruncationPoints() []string {
	var points []string
	n.Walk(func(node *DependencyNode, path []PackageIdentity) bool {
		if node.Truncated {
			points = append(points, pathString(path))
		}
		return true
	})
	return points
}

// IncompleteNodes lists nodes whose dependencies could not be fully determined, with the reason.
func (n *DependencyNode) IncompleteNodes() []IncompleteNode {
	var out []IncompleteNode
	n.Walk(func(node *DependencyNode, path []PackageIdentity) bool {
		switch {
		case node.Cancelled:
			out = append(out, IncompleteNode{Identity: node.Identity, Path: pathString(path), Reason: "cancelled"})
		case node.Truncated:
			out = append(out, IncompleteNode{Identity: node.Identity, Path: pathString(path), Reason: "depth limit"})
		case node.Incomplete:
			out = append(out, IncompleteNode{Identity: node.Identity, Path: pathString(path), Reason: node.Error})
		}
		return true
	})
	return out
}

// IncompleteNode is one entry of a report's manifest of what is missing.
type IncompleteNode struct {
	Identity PackageIdentity `json:"identity"`
	Path     string          `json:"path"`
	Reason   string          `json:"reason"`
}

func pathString(path []PackageIdentity) string {
	keys := make([]string, len(path))
	for i, id := range path {
		keys[i] = id.Key()
	}
	return strings.Join(keys, " > ")
}

// PathString renders a dependency path as "a > b > c".
func PathString(path []PackageIdentity) string {
	return pathString(path)
}

// Flatten lists every unique (identity, version or spec) of the tree once, at its shallowest
// position, breadth first. Cycle markers repeat an ancestor and are skipped.
func (n *DependencyNode) Flatten(tier TierName) []ResolvedPackage {
	if n == nil {
		return nil
	}
	type item struct {
		node *DependencyNode
		path []PackageIdentity
	}
	var out []ResolvedPackage
	seen := map[string]bool{}
	queue := []item{{node: n, path: []PackageIdentity{n.Identity}}}
	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]
		node := it.node
		if node.Cycle {
			continue
		}
		key := node.Identity.Key() + "@" + node.ExactVersion.Display(node.VersionSpec)
		if !seen[key] {
			seen[key] = true
			out = append(out, ResolvedPackage{
				Identity: node.Identity,
				Spec:     node.VersionSpec,
				Version:  node.ExactVersion,
				Depth:    node.Depth,
				Direct:   node.Depth == 1,
				Path:     it.path,
				Tier:     tier,
			})
		}
		for _, child := range node.Children {
			path := append(it.path[:len(it.path):len(it.path)], child.Identity)
			queue = append(queue, item{node: child, path: path})
		}
	}
	return out
}
