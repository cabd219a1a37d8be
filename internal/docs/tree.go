package docs

import (
	"path"
	"sort"
	"strings"
)

// Walk calls fn for every node below root in pre-order. Children are
// visited in their stored order.
func Walk(root FileNode, fn func(FileNode)) {
	for _, child := range root.Children {
		fn(child)
		Walk(child, fn)
	}
}

// FindByPath resolves a path in the tree.
func FindByPath(root FileNode, p string) (FileNode, bool) {
	if root.Path == p {
		return root, true
	}
	for _, child := range root.Children {
		if child.Path != p && !strings.HasPrefix(p, child.Path+"/") {
			continue
		}
		if found, ok := FindByPath(child, p); ok {
			return found, true
		}
	}
	return FileNode{}, false
}

// Flatten returns every node below root keyed by path.
func Flatten(root FileNode) map[string]FileNode {
	result := make(map[string]FileNode)
	Walk(root, func(node FileNode) {
		result[node.Path] = node
	})
	return result
}

// CountNodes counts all nodes in a tree, root included.
func CountNodes(root FileNode) int {
	count := 1
	for _, child := range root.Children {
		count += CountNodes(child)
	}
	return count
}

var markdownExtensions = map[string]struct{}{
	".md":       {},
	".markdown": {},
	".mdx":      {},
}

func IsMarkdown(name string) bool {
	_, ok := markdownExtensions[strings.ToLower(path.Ext(name))]
	return ok
}

// SortChildren orders every children list of the tree, directories first
// and then by name.
func SortChildren(node *FileNode) {
	sort.SliceStable(node.Children, func(i, j int) bool {
		a, b := node.Children[i], node.Children[j]
		if a.IsDir() != b.IsDir() {
			return a.IsDir()
		}
		return a.Name < b.Name
	})
	for i := range node.Children {
		SortChildren(&node.Children[i])
	}
}

// Leaf is a file reported by a flat listing.
type Leaf struct {
	Path string
	SHA  string
}

// BuildTree nests a flat file listing, creating intermediate directories.
// Empty and duplicate paths are ignored.
func BuildTree(leaves []Leaf) FileNode {
	root := &FileNode{Type: NodeDir}
	for _, leaf := range leaves {
		clean := CleanPath(leaf.Path)
		if clean == "" {
			continue
		}
		parts := strings.Split(clean, "/")
		parent := root
		for i, part := range parts {
			childPath := strings.Join(parts[:i+1], "/")
			last := i == len(parts)-1
			idx := -1
			for j := range parent.Children {
				if parent.Children[j].Name == part {
					idx = j
					break
				}
			}
			if idx < 0 {
				node := FileNode{Name: part, Path: childPath, Type: NodeDir}
				if last {
					node.Type = NodeFile
					node.SHA = leaf.SHA
				}
				parent.Children = append(parent.Children, node)
				idx = len(parent.Children) - 1
			}
			parent = &parent.Children[idx]
		}
	}
	SortChildren(root)
	return *root
}

// CleanPath trims slashes and whitespace from a docs path and collapses
// it to slash form. It returns "" for paths that escape the root.
func CleanPath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return ""
	}
	return cleaned
}
