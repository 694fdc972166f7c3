package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/antigravity-dev/gravity/internal/config"
	"github.com/antigravity-dev/gravity/internal/state"
	"github.com/antigravity-dev/gravity/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show registered repositories and recent tasks",
	Long: `Display the current state of the Gravity database.

Shows:
  - Registered repositories and their active task counts
  - Recent root tasks with status, phase, and token usage`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dbPath, err := cfg.DatabasePath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No database yet. Run 'gravity serve' and register a repository.")
		return nil
	}

	db, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	if err := displayRepositories(db); err != nil {
		return err
	}
	fmt.Println()
	return displayRecentTasks(db)
}

func displayRepositories(db *state.DB) error {
	repos, err := db.ListRepositories()
	if err != nil {
		return fmt.Errorf("list repositories: %w", err)
	}

	if len(repos) == 0 {
		fmt.Println("Repositories: none registered")
		return nil
	}

	fmt.Printf("Repositories: %d\n", len(repos))
	for _, r := range repos {
		active, err := db.CountActiveTasksByRepo(r.ID)
		if err != nil {
			return fmt.Errorf("count active tasks: %w", err)
		}
		activeStr := ""
		if active > 0 {
			activeStr = fmt.Sprintf("  %d active", active)
		}
		fmt.Printf("  %s  %-10s %s%s\n", r.Name, r.Kind, r.Path, activeStr)
	}
	return nil
}

func displayRecentTasks(db *state.DB) error {
	tasks, err := db.ListRootTasks()
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	if len(tasks) == 0 {
		fmt.Println("Tasks: none")
		return nil
	}

	// ListRootTasks returns newest first.
	if len(tasks) > 10 {
		tasks = tasks[:10]
	}

	fmt.Println("Recent Tasks:")
	for _, t := range tasks {
		fmt.Printf("  %s %s  %-12s %s  (%s ago)\n",
			statusGlyph(t.Status),
			t.ID[:8],
			t.Status,
			taskLabel(&t),
			formatDuration(time.Since(t.UpdatedAt)))
		if detail := taskDetailLine(&t); detail != "" {
			fmt.Printf("             %s\n", detail)
		}
	}
	return nil
}

// statusGlyph returns a colored one-character marker for a task status.
func statusGlyph(s models.TaskStatus) string {
	switch s {
	case models.TaskStatusCompleted:
		return color.New(color.FgGreen).Sprint("✓")
	case models.TaskStatusFailed:
		return color.New(color.FgRed).Sprint("✗")
	case models.TaskStatusPaused:
		return color.New(color.FgYellow).Sprint("‖")
	case models.TaskStatusPlanReview:
		return color.New(color.FgYellow).Sprint("?")
	case models.TaskStatusPending:
		return color.New(color.FgWhite).Sprint("·")
	default:
		return color.New(color.FgCyan).Sprint("●")
	}
}

func taskLabel(t *models.Task) string {
	label := t.Title
	if label == "" {
		label = t.UserRequest
	}
	return fmt.Sprintf("%q", truncate(label, 60))
}

// taskDetailLine returns a second line of context for tasks that have some:
// the executing step, the failure reason, or the review prompt.
func taskDetailLine(t *models.Task) string {
	switch t.Status {
	case models.TaskStatusExecuting:
		if t.Plan != nil && t.CurrentStep > 0 {
			return fmt.Sprintf("step %d/%d (%s)", t.CurrentStep, len(t.Plan.Steps), t.CurrentRole)
		}
	case models.TaskStatusFailed:
		if t.ErrorMessage != "" {
			return fmt.Sprintf("%s: %s", t.ErrorKind, truncate(t.ErrorMessage, 70))
		}
	case models.TaskStatusPlanReview:
		return "awaiting plan approval"
	case models.TaskStatusCompleted:
		if t.TokensIn+t.TokensOut > 0 {
			return fmt.Sprintf("%d tokens in, %d out", t.TokensIn, t.TokensOut)
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dd", int(d.Hours())/24)
}
