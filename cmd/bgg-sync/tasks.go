package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// task is one entry of the task table.
type task struct {
	name string
	unit string
	run  func(ctx context.Context, a *app) (int, error)
}

var tasks = map[string]task{
	"update_game_ids": {
		name: "update_game_ids",
		unit: "identifiers inserted",
		run: func(ctx context.Context, a *app) (int, error) {
			return a.orchestrator.RefreshIdentifiers(ctx, a.config.TopN)
		},
	},
	"update_new_games": {
		name: "update_new_games",
		unit: "records saved",
		run: func(ctx context.Context, a *app) (int, error) {
			return a.orchestrator.RefreshDetails(ctx, true)
		},
	},
	"update_all_games": {
		name: "update_all_games",
		unit: "records saved",
		run: func(ctx context.Context, a *app) (int, error) {
			return a.orchestrator.RefreshDetails(ctx, false)
		},
	},
}

func lookupTask(name string) (task, error) {
	t, ok := tasks[name]
	if !ok {
		return task{}, fmt.Errorf("unknown task %q (valid tasks: %s)", name, taskNames())
	}
	return t, nil
}

func taskNames() string {
	names := make([]string, 0, len(tasks))
	for name := range tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
