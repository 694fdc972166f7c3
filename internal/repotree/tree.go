// Package repotree serves cached file-tree listings of registered
// repositories and detects their project kind.
package repotree

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/antigravity-dev/gravity/pkg/models"
)

// maxTreeDepth bounds recursion on pathological layouts.
const maxTreeDepth = 16

// skipDirs are never listed. Hidden directories below the root are skipped
// too, matching what the search tool shows agents.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	"target":       true,
	"__pycache__":  true,
}

// Cache keeps one built tree per repository. Trees rebuild on demand after
// invalidation; the watcher invalidates on filesystem changes.
type Cache struct {
	trees *lru.Cache[string, *models.FileNode]
}

// NewCache creates a tree cache holding at most size repositories.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = 64
	}
	trees, err := lru.New[string, *models.FileNode](size)
	if err != nil {
		return nil, fmt.Errorf("create tree cache: %w", err)
	}
	return &Cache{trees: trees}, nil
}

// Tree returns the repository's file tree, building and caching it on miss.
func (c *Cache) Tree(repo *models.Repository) (*models.FileNode, error) {
	if node, ok := c.trees.Get(repo.ID); ok {
		return node, nil
	}
	node, err := buildTree(repo.Path)
	if err != nil {
		return nil, err
	}
	node.Name = repo.Name
	c.trees.Add(repo.ID, node)
	return node, nil
}

// Invalidate drops the cached tree so the next read rebuilds it.
func (c *Cache) Invalidate(repoID string) {
	c.trees.Remove(repoID)
}

// buildTree walks the repository root into a nested FileNode.
func buildTree(root string) (*models.FileNode, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat repository root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("repository root %s is not a directory", root)
	}
	node := &models.FileNode{Name: filepath.Base(root), Path: ".", Dir: true}
	if err := fillChildren(root, "", node, 0); err != nil {
		return nil, err
	}
	return node, nil
}

func fillChildren(root, rel string, node *models.FileNode, depth int) error {
	if depth >= maxTreeDepth {
		return nil
	}
	entries, err := os.ReadDir(filepath.Join(root, rel))
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Join(root, rel), err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		childRel := name
		if rel != "" {
			childRel = rel + "/" + name
		}
		if entry.IsDir() {
			if skipDirs[name] || name[0] == '.' {
				continue
			}
			child := &models.FileNode{Name: name, Path: childRel, Dir: true}
			if err := fillChildren(root, childRel, child, depth+1); err != nil {
				return err
			}
			node.Children = append(node.Children, child)
			continue
		}
		child := &models.FileNode{Name: name, Path: childRel}
		if info, err := entry.Info(); err == nil {
			child.SizeBytes = info.Size()
		}
		node.Children = append(node.Children, child)
	}
	return nil
}
