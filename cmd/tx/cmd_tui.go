package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"tx/internal/config"
	"tx/internal/logging"
	"tx/internal/pipeline"
	"tx/internal/prompts"
	"tx/internal/session"
	"tx/internal/ui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Pick a provider, profile, prompt or session interactively",
	Args:  cobra.NoArgs,
	RunE:  runTUI,
}

func runTUI(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cache := newPromptCache(cfg)

	model := ui.New(ctx, cfg, ui.Loaders{
		Sessions: func(ctx context.Context) ([]session.Snapshot, error) {
			store, err := session.Open(cfg.SessionStore())
			if err != nil {
				return nil, err
			}
			defer store.Close()
			return store.List(ctx, session.ListOptions{Limit: 200})
		},
		Prompts: func(ctx context.Context, force bool) (prompts.Snapshot, prompts.Status, error) {
			load := cache.Snapshot
			if force {
				load = cache.Refresh
			}
			snap, err := load(ctx)
			return snap, cache.Status(), err
		},
	})
	p := ui.NewProgram(ctx, model)

	var mu sync.Mutex
	latest := cfg
	stop := watchConfig(ctx, cfg.Dir(), func(c *config.Config, err error) {
		if err == nil {
			mu.Lock()
			latest = c
			mu.Unlock()
		}
		p.Send(ui.ConfigReloadedMsg{Config: c, Err: err})
	})

	sel, err := ui.Run(p)
	stop()
	if err != nil {
		return err
	}
	mu.Lock()
	cfg = latest
	mu.Unlock()
	return launchSelection(cmd, sel)
}

// watchConfig starts a config watcher on dir and returns its stop function.
// A watcher that cannot start only costs live reloads.
func watchConfig(ctx context.Context, dir string, onChange func(*config.Config, error)) func() {
	if dir == "" {
		return func() {}
	}
	w, err := config.NewWatcher(dir, onChange)
	if err != nil {
		logging.ConfigWarn("config watcher unavailable: %v", err)
		return func() {}
	}
	if err := w.Start(ctx); err != nil {
		logging.ConfigWarn("config watcher unavailable: %v", err)
	}
	return w.Stop
}

// launchSelection compiles and runs what the picker returned.
func launchSelection(cmd *cobra.Command, sel ui.Selection) error {
	if sel.Empty() {
		return nil
	}
	var provider string
	switch sel.Kind {
	case ui.KindProvider:
		provider = sel.Name
	case ui.KindProfile:
		launchFlags.profile = sel.Name
	case ui.KindPrompt:
		launchFlags.prompt = sel.Name
	case ui.KindSession:
		return runResume(cmd, []string{sel.Name})
	default:
		return fmt.Errorf("unknown selection %v", sel.Kind)
	}
	logging.UI("selected %s %s", sel.Kind, sel.Name)

	req, err := launchFlags.request(provider, nil)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	req.Session = pipeline.SessionContext{ID: uuid.NewString()}
	plan, err := compileAsking(cmd, promptCatalog(ctx, cfg, req), req)
	if err != nil {
		return err
	}
	recordSession(ctx, req.Session, plan)
	return runPlan(cmd, plan, req.Session.ID)
}
