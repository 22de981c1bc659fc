package hierarchy

import (
	"fmt"
	"sort"
)

// BuildTree links a flat slice of entities into a tree rooted at rootID and
// returns the root. Rows whose parent is outside the slice are ignored unless
// they are the root itself. Children are sorted by name then ID so traversal
// order is deterministic for a fixed tree.
func BuildTree(rootID string, entities []*Entity) (*Entity, error) {
	byID := make(map[string]*Entity, len(entities))
	for _, e := range entities {
		if _, dup := byID[e.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate entity id %s", ErrCorruptHierarchy, e.ID)
		}
		e.Children = nil
		byID[e.ID] = e
	}

	root, ok := byID[rootID]
	if !ok {
		return nil, ErrNotFound
	}

	for _, e := range entities {
		if e.ID == rootID || e.ParentID == nil {
			continue
		}
		if parent, ok := byID[*e.ParentID]; ok {
			parent.Children = append(parent.Children, e)
		}
	}

	for _, e := range byID {
		sortChildren(e.Children)
	}

	// A well-formed subtree reaches every node exactly once from the root.
	reached := 0
	if err := Walk(root, func(*Entity) error {
		reached++
		return nil
	}); err != nil {
		return nil, err
	}
	if reached != len(entities) {
		return nil, fmt.Errorf("%w: %d of %d nodes unreachable from %s",
			ErrCorruptHierarchy, len(entities)-reached, len(entities), rootID)
	}

	return root, nil
}

// Walk visits every node of the subtree rooted at root exactly once,
// depth-first, children in deterministic order. It uses an explicit stack and
// visited set so a cycle in externally supplied data surfaces as
// ErrCorruptHierarchy instead of infinite recursion.
func Walk(root *Entity, fn func(*Entity) error) error {
	if root == nil {
		return ErrNotFound
	}

	visited := make(map[string]bool)
	stack := []*Entity{root}

	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if visited[node.ID] {
			return fmt.Errorf("%w: revisited entity %s", ErrCorruptHierarchy, node.ID)
		}
		visited[node.ID] = true

		if err := fn(node); err != nil {
			return err
		}

		// Push in reverse so children pop in sorted order.
		for i := len(node.Children) - 1; i >= 0; i-- {
			stack = append(stack, node.Children[i])
		}
	}

	return nil
}

// CountByType visits every node of the subtree exactly once and tallies
// nodes per entity type.
func CountByType(root *Entity) (TypeCounts, error) {
	counts := make(TypeCounts)
	err := Walk(root, func(e *Entity) error {
		counts[e.Type]++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// Flatten returns the subtree as a slice in deterministic depth-first order.
func Flatten(root *Entity) ([]*Entity, error) {
	var out []*Entity
	err := Walk(root, func(e *Entity) error {
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// childPath returns the hierarchy path of a child of parent:
// parent.Path + parent.ID.
func childPath(parent *Entity) []string {
	path := make([]string, 0, len(parent.Path)+1)
	path = append(path, parent.Path...)
	path = append(path, parent.ID)
	return path
}

func sortChildren(children []*Entity) {
	sort.Slice(children, func(i, j int) bool {
		if children[i].Name != children[j].Name {
			return children[i].Name < children[j].Name
		}
		return children[i].ID < children[j].ID
	})
}
