package store

import (
	"fmt"
	"slices"
)

// ValidateGraph checks the structural invariants of a chunk forest
// before it is persisted:
//
//   - every parent reference resolves, points to a strictly coarser
//     scale, and is mirrored by the parent's child list
//   - the graph is acyclic with at most one parent per node
//   - hierarchyPath equals the transitive parent chain, root-first
//   - siblings share the same parent
//
// Violations are programming errors in the chunker, so the first one
// found is returned.
func ValidateGraph(chunks []*ChunkNode) error {
	byID := make(map[string]*ChunkNode, len(chunks))
	for _, c := range chunks {
		if c.ID == "" {
			return fmt.Errorf("chunk with empty ID (source %s)", c.SourceID)
		}
		if _, dup := byID[c.ID]; dup {
			return fmt.Errorf("duplicate chunk ID %s", c.ID)
		}
		if !c.Scale.Valid() {
			return fmt.Errorf("chunk %s has unknown scale %q", c.ID, c.Scale)
		}
		byID[c.ID] = c
	}

	for _, c := range chunks {
		if c.ParentID != "" {
			parent, ok := byID[c.ParentID]
			if !ok {
				return fmt.Errorf("chunk %s references missing parent %s", c.ID, c.ParentID)
			}
			if parent.SourceID != c.SourceID || parent.Version != c.Version {
				return fmt.Errorf("chunk %s parent %s belongs to a different source version", c.ID, c.ParentID)
			}
			if !parent.Scale.Coarser(c.Scale) {
				return fmt.Errorf("chunk %s (scale %s) has parent %s of non-coarser scale %s",
					c.ID, c.Scale, parent.ID, parent.Scale)
			}
			if !slices.Contains(parent.ChildIDs, c.ID) {
				return fmt.Errorf("chunk %s missing from parent %s child list", c.ID, c.ParentID)
			}
		}

		for _, childID := range c.ChildIDs {
			child, ok := byID[childID]
			if !ok {
				return fmt.Errorf("chunk %s references missing child %s", c.ID, childID)
			}
			if child.ParentID != c.ID {
				return fmt.Errorf("chunk %s lists child %s whose parent is %q", c.ID, childID, child.ParentID)
			}
		}

		for _, sibID := range c.SiblingIDs {
			sib, ok := byID[sibID]
			if !ok {
				return fmt.Errorf("chunk %s references missing sibling %s", c.ID, sibID)
			}
			if sib.ParentID != c.ParentID {
				return fmt.Errorf("chunk %s sibling %s has a different parent", c.ID, sibID)
			}
		}

		if err := checkHierarchyPath(c, byID); err != nil {
			return err
		}
	}

	return checkAcyclic(chunks, byID)
}

// checkHierarchyPath verifies hierarchyPath equals the parent chain.
func checkHierarchyPath(c *ChunkNode, byID map[string]*ChunkNode) error {
	var chain []string
	seen := make(map[string]bool)
	cur := c.ParentID
	for cur != "" {
		if seen[cur] {
			return fmt.Errorf("cycle through chunk %s", cur)
		}
		seen[cur] = true
		chain = append(chain, cur)
		parent, ok := byID[cur]
		if !ok {
			break
		}
		cur = parent.ParentID
	}
	slices.Reverse(chain)

	if !slices.Equal(chain, c.HierarchyPath) {
		return fmt.Errorf("chunk %s hierarchyPath %v does not match parent chain %v",
			c.ID, c.HierarchyPath, chain)
	}
	return nil
}

// checkAcyclic walks parent edges from every node.
func checkAcyclic(chunks []*ChunkNode, byID map[string]*ChunkNode) error {
	for _, c := range chunks {
		seen := map[string]bool{c.ID: true}
		cur := c.ParentID
		for cur != "" {
			if seen[cur] {
				return fmt.Errorf("parent cycle involving chunk %s", cur)
			}
			seen[cur] = true
			parent, ok := byID[cur]
			if !ok {
				break
			}
			cur = parent.ParentID
		}
	}
	return nil
}
