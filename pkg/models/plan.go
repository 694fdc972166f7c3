package models

import "fmt"

// PlanStep is a single unit of a plan, executed by one specialist agent.
type PlanStep struct {
	// Order is the 1-indexed position of the step within the plan.
	Order int `json:"order"`
	// Description is what the step should accomplish.
	Description string `json:"description"`
	// Persona is the agent role assigned to the step.
	Persona AgentRole `json:"agent_persona"`
	// Dependencies lists the orders of steps that must complete first.
	Dependencies []int `json:"dependencies"`
	// FilesAffected lists repository-relative paths the step expects to touch.
	FilesAffected []string `json:"files_affected"`
}

// Plan is the planner agent's decomposition of a task into ordered,
// dependency-linked steps.
type Plan struct {
	// Summary is a one-paragraph description of the overall approach.
	Summary string `json:"summary"`
	// Steps are the ordered units of work.
	Steps []PlanStep `json:"steps"`
	// EstimatedComplexity scores the task from 1 (trivial) to 10 (major).
	EstimatedComplexity int `json:"estimated_complexity"`
	// AffectedFiles is the union of paths the plan expects to touch.
	AffectedFiles []string `json:"affected_files"`
	// Risks lists concerns the planner flagged for the operator.
	Risks []string `json:"risks"`
}

// Validate checks the structural contract of a plan: at least one step,
// unique positive orders, known personas, and dependencies that reference
// existing steps other than the step itself. Cycle detection is the
// dependency graph's job, not the plan's.
func (p *Plan) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan has no steps")
	}
	if p.EstimatedComplexity < 1 || p.EstimatedComplexity > 10 {
		return fmt.Errorf("estimated_complexity %d out of range [1,10]", p.EstimatedComplexity)
	}
	orders := make(map[int]bool, len(p.Steps))
	for _, s := range p.Steps {
		if s.Order < 1 {
			return fmt.Errorf("step order %d must be positive", s.Order)
		}
		if orders[s.Order] {
			return fmt.Errorf("duplicate step order %d", s.Order)
		}
		orders[s.Order] = true
	}
	for _, s := range p.Steps {
		if !s.Persona.Valid() || s.Persona == RolePlanner || s.Persona == RoleSystem {
			return fmt.Errorf("step %d has invalid persona %q", s.Order, s.Persona)
		}
		if s.Description == "" {
			return fmt.Errorf("step %d has empty description", s.Order)
		}
		for _, dep := range s.Dependencies {
			if dep == s.Order {
				return fmt.Errorf("step %d depends on itself", s.Order)
			}
			if !orders[dep] {
				return fmt.Errorf("step %d depends on unknown step %d", s.Order, dep)
			}
		}
	}
	return nil
}

// Step returns the step with the given order, or nil.
func (p *Plan) Step(order int) *PlanStep {
	for i := range p.Steps {
		if p.Steps[i].Order == order {
			return &p.Steps[i]
		}
	}
	return nil
}
