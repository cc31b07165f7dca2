package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/BaSui01/agentrewind/config"
	"github.com/BaSui01/agentrewind/controller"
	"github.com/BaSui01/agentrewind/persistence"
	"github.com/BaSui01/agentrewind/runtime/groupchat"
	"github.com/BaSui01/agentrewind/types"
)

// =============================================================================
// 🎬 demo 命令
// =============================================================================

func runDemo(args []string) {
	fs := flag.NewFlagSet("demo", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	task := fs.String("task", "Draft a release plan", "Task that opens the conversation")
	branchTask := fs.String("branch-task", "Focus on the rollback plan instead", "Task that resumes the forked branch")
	save := fs.Bool("save", false, "Save the resulting branches to the configured snapshot store")
	_ = fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loadConfig(loader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	logCfg := cfg.Log
	logCfg.Format = "console"
	if logCfg.Level == "info" {
		logCfg.Level = "warn"
	}
	logger, _ := initLogger(logCfg)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var repo persistence.Repository
	if *save {
		repo, err = persistence.NewRepository(ctx, cfg.PersistenceConfig(), logger, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open snapshot store: %v\n", err)
			os.Exit(1)
		}
		defer repo.Close()
	}

	if err := demo(ctx, os.Stdout, cfg, *task, *branchTask, repo, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Demo failed: %v\n", err)
		os.Exit(1)
	}
}

// demo runs a conversation to its end, reverts it halfway, forks a branch
// from the same point and resumes the branch with a different task.
func demo(ctx context.Context, out io.Writer, cfg *config.Config, task, branchTask string, repo persistence.Repository, logger *zap.Logger) error {
	factory, err := groupchat.NewFactory(cfg.GroupChatConfig(), groupchat.EchoResponder{}, logger)
	if err != nil {
		return err
	}
	manager, err := controller.NewManager(factory,
		controller.WithLogger(logger),
		controller.WithCaptureConcurrency(cfg.Capture.MaxConcurrency),
	)
	if err != nil {
		return err
	}
	defer func() { _ = manager.Shutdown(context.WithoutCancel(ctx)) }()

	root, err := manager.Run(ctx, task)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	if err := printTranscript(out, manager, root, "Initial run"); err != nil {
		return err
	}

	last, err := manager.CurrentSequence(root)
	if err != nil {
		return err
	}
	mid := last / 2
	if mid == 0 {
		mid = 1
	}

	child, err := manager.Branch(ctx, root, mid, "alternative")
	if err != nil {
		return fmt.Errorf("branch at %d: %w", mid, err)
	}
	if err := manager.Resume(ctx, child, &branchTask); err != nil {
		return fmt.Errorf("resume branch %s: %w", child, err)
	}
	if err := manager.Wait(ctx, child); err != nil {
		return fmt.Errorf("wait branch %s: %w", child, err)
	}

	if err := manager.Revert(ctx, root, mid); err != nil {
		return fmt.Errorf("revert to %d: %w", mid, err)
	}
	if err := printTranscript(out, manager, root, fmt.Sprintf("Main after revert to %d", mid)); err != nil {
		return err
	}
	if err := printTranscript(out, manager, child, fmt.Sprintf("Branch %s forked at %d", child, mid)); err != nil {
		return err
	}

	fmt.Fprintln(out, "== Tree")
	for _, node := range manager.Tree().Nodes {
		parent := "-"
		if node.Parent != nil {
			parent = node.Parent.String()
		}
		fmt.Fprintf(out, "  branch %s  parent %s  fork %d  label %q\n", node.ID, parent, node.ForkSequence, node.Label)
	}

	if repo != nil {
		if err := manager.Save(ctx, repo); err != nil {
			return fmt.Errorf("save: %w", err)
		}
		fmt.Fprintf(out, "Saved %d branches\n", len(manager.Branches()))
	}
	return nil
}

func printTranscript(out io.Writer, manager *controller.Manager, id types.BranchID, title string) error {
	entries, err := manager.Transcript(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "== %s\n", title)
	for _, e := range entries {
		fmt.Fprintf(out, "  %3d %-10s %s\n", e.Sequence, e.Name, e.Content)
	}
	return nil
}
