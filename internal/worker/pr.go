package worker

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ExecPRClient shells out to the GitHub CLI (gh). It must be
// pre-authenticated by the worker's external environment; this client
// never reads or injects a token itself.
type ExecPRClient struct {
	Binary string
}

func (p ExecPRClient) binary() string {
	if p.Binary != "" {
		return p.Binary
	}
	return "gh"
}

func (p ExecPRClient) OpenPR(ctx context.Context, dir, base, head, title, body string) (string, error) {
	args := []string{"pr", "create", "--base", base, "--head", head, "--title", title, "--body", body}
	cmd := exec.CommandContext(ctx, p.binary(), args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("gh pr create: %w: %s", err, out.String())
	}
	return strings.TrimSpace(out.String()), nil
}
