// Package graph provides a dependency graph for plan step scheduling.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/antigravity-dev/gravity/pkg/models"
)

// ErrCycleDetected indicates a circular dependency was found between plan steps.
var ErrCycleDetected = errors.New("circular dependency detected")

// StepGraph represents a directed acyclic graph of plan step dependencies.
// Steps are nodes keyed by their order number, and edges represent
// "blocked by" relationships.
type StepGraph struct {
	mu sync.RWMutex
	// steps maps step order to the step itself.
	steps map[int]*models.PlanStep
	// edges maps step order to the orders it depends on (is blocked by).
	edges map[int][]int
	// done tracks which steps have been marked complete.
	done map[int]bool
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// New creates a new empty step graph.
func New() *StepGraph {
	return &StepGraph{
		steps:    make(map[int]*models.PlanStep),
		edges:    make(map[int][]int),
		done:     make(map[int]bool),
		debugLog: func(format string, args ...interface{}) {},
	}
}

// FromPlan builds a step graph from a plan's steps.
// Returns ErrCycleDetected if the steps contain a circular dependency.
func FromPlan(plan *models.Plan) (*StepGraph, error) {
	if plan == nil {
		return nil, fmt.Errorf("plan is nil")
	}
	g := New()
	if err := g.Build(plan.Steps); err != nil {
		return nil, err
	}
	return g, nil
}

// SetDebugLog sets the debug logging function.
func (g *StepGraph) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// Build constructs the dependency graph from a slice of plan steps.
// Returns an error if a cycle is detected or a dependency references an
// unknown step order.
func (g *StepGraph) Build(steps []models.PlanStep) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.debugLog("[graph] building graph from %d steps", len(steps))

	// First pass: register all steps as nodes.
	for i := range steps {
		step := &steps[i]
		g.steps[step.Order] = step
		g.edges[step.Order] = nil
	}

	// Second pass: build edges from the declared dependencies.
	for i := range steps {
		step := &steps[i]
		for _, dep := range step.Dependencies {
			if _, exists := g.steps[dep]; !exists {
				return fmt.Errorf("step %d depends on unknown step %d", step.Order, dep)
			}
			g.edges[step.Order] = append(g.edges[step.Order], dep)
		}
	}

	// Check for cycles (use internal method since we hold the lock).
	if g.hasCycleLocked() {
		return ErrCycleDetected
	}

	g.debugLog("[graph] graph built with %d nodes", len(g.steps))
	return nil
}

// HasCycle returns true if the graph contains a circular dependency.
// Uses depth-first search with coloring to detect back edges.
func (g *StepGraph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hasCycleLocked()
}

// hasCycleLocked is the internal implementation that assumes the lock is held.
func (g *StepGraph) hasCycleLocked() bool {
	// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
	colors := make(map[int]int)
	for order := range g.steps {
		colors[order] = 0
	}

	var visit func(order int) bool
	visit = func(order int) bool {
		colors[order] = 1

		for _, dep := range g.edges[order] {
			switch colors[dep] {
			case 1:
				// Found a back edge, so there is a cycle.
				return true
			case 0:
				if visit(dep) {
					return true
				}
			}
			// color == 2 means already processed, skip.
		}

		colors[order] = 2
		return false
	}

	for order := range g.steps {
		if colors[order] == 0 {
			if visit(order) {
				return true
			}
		}
	}

	return false
}

// TopologicalOrder returns step orders arranged so that every dependency
// comes before the steps that depend on it. Ties break on the lower step
// order, so the result is deterministic for a given set of steps.
// Returns ErrCycleDetected if the graph contains a cycle.
func (g *StepGraph) TopologicalOrder() ([]int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.hasCycleLocked() {
		return nil, ErrCycleDetected
	}

	// Visit nodes in ascending order so the output is stable.
	orders := g.sortedOrdersLocked()

	visited := make(map[int]bool)
	var result []int

	var visit func(order int)
	visit = func(order int) {
		if visited[order] {
			return
		}
		visited[order] = true

		deps := append([]int(nil), g.edges[order]...)
		sort.Ints(deps)
		for _, dep := range deps {
			visit(dep)
		}

		result = append(result, order)
	}

	for _, order := range orders {
		visit(order)
	}

	return result, nil
}

// Ready returns the orders of steps whose dependencies are all complete and
// that are not themselves complete, sorted ascending. These steps can be
// executed in parallel.
func (g *StepGraph) Ready() []int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []int
	for _, order := range g.sortedOrdersLocked() {
		if g.done[order] {
			continue
		}

		blocked := false
		for _, dep := range g.edges[order] {
			if !g.done[dep] {
				blocked = true
				break
			}
		}
		if !blocked {
			ready = append(ready, order)
		}
	}

	g.debugLog("[graph] %d steps ready: %v", len(ready), ready)
	return ready
}

// MarkDone marks a step as completed in the graph.
// This affects subsequent calls to Ready and AllDone.
func (g *StepGraph) MarkDone(order int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.done[order] = true
}

// AllDone returns true once every step in the graph has been marked done.
func (g *StepGraph) AllDone() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for order := range g.steps {
		if !g.done[order] {
			return false
		}
	}
	return true
}

// Step returns the step for a given order, or nil if not found.
func (g *StepGraph) Step(order int) *models.PlanStep {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.steps[order]
}

// Size returns the number of steps in the graph.
func (g *StepGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.steps)
}

// Dependencies returns the orders of steps that the given step depends on.
func (g *StepGraph) Dependencies(order int) []int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edges[order]
}

// Dependents returns the orders of steps that depend on the given step.
func (g *StepGraph) Dependents(order int) []int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var dependents []int
	for order2, deps := range g.edges {
		for _, dep := range deps {
			if dep == order {
				dependents = append(dependents, order2)
				break
			}
		}
	}
	sort.Ints(dependents)
	return dependents
}

// sortedOrdersLocked returns all step orders ascending. Assumes the lock is held.
func (g *StepGraph) sortedOrdersLocked() []int {
	orders := make([]int, 0, len(g.steps))
	for order := range g.steps {
		orders = append(orders, order)
	}
	sort.Ints(orders)
	return orders
}
