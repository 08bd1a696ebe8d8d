package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/moonward/moonward/internal/queue"
)

type submitFlags struct {
	Repository     string
	Instructions   string
	SkillID        string
	RuntimeMode    string
	StartingBranch string
	NewBranch      string
	PublishMode    string
	PRTitle        string
	PRBody         string
	Priority       int
	QueueName      string
}

// MakeSubmitCommand returns the `submit` command, which enqueues a new task
// job the way boskosctl's `acquire` verb makes a single synchronous API
// call and prints the resulting record.
func MakeSubmitCommand() *cobra.Command {
	flags := &submitFlags{}
	c := &cobra.Command{
		Use:   "submit",
		Short: "Submit a new task job.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd, flags)
		},
	}
	fs := c.Flags()
	fs.StringVar(&flags.Repository, "repository", "", "repository the task operates on (required)")
	fs.StringVar(&flags.Instructions, "instructions", "", "natural-language task instructions (required)")
	fs.StringVar(&flags.SkillID, "skill", "", "skill id to activate for this task")
	fs.StringVar(&flags.RuntimeMode, "runtime", "codex", "agent runtime mode (codex, claude)")
	fs.StringVar(&flags.StartingBranch, "starting-branch", "", "branch to check out before running")
	fs.StringVar(&flags.NewBranch, "new-branch", "", "branch name to push results to")
	fs.StringVar(&flags.PublishMode, "publish", "none", "publish mode: none, branch, pr")
	fs.StringVar(&flags.PRTitle, "pr-title", "", "pull request title, when --publish=pr")
	fs.StringVar(&flags.PRBody, "pr-body", "", "pull request body, when --publish=pr")
	fs.IntVar(&flags.Priority, "priority", 0, "scheduling priority, higher runs first")
	fs.StringVar(&flags.QueueName, "queue", "", "named queue lane to submit to")
	return c
}

func runSubmit(cmd *cobra.Command, flags *submitFlags) error {
	if flags.Repository == "" || flags.Instructions == "" {
		return fmt.Errorf("--repository and --instructions are required")
	}
	client, err := clientFromFlags(cmd)
	if err != nil {
		return err
	}

	opts := queue.SubmitOptions{
		Type:     queue.TypeTask,
		Priority: flags.Priority,
		QueueName: flags.QueueName,
		Task: &queue.TaskPayload{
			Repository:   flags.Repository,
			Instructions: flags.Instructions,
			Skill:        queue.TaskSkill{ID: flags.SkillID},
			Runtime:      queue.TaskRuntime{Mode: queue.RuntimeMode(flags.RuntimeMode)},
			Git: queue.TaskGit{
				StartingBranch: flags.StartingBranch,
				NewBranch:      flags.NewBranch,
			},
			Publish: queue.TaskPublish{
				Mode:    queue.PublishMode(flags.PublishMode),
				PRTitle: flags.PRTitle,
				PRBody:  flags.PRBody,
			},
		},
	}

	job, err := client.SubmitJob(context.Background(), opts)
	if err != nil {
		return err
	}
	return printJSON(job)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
