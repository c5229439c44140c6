package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/NicolasHurtado/taskctl/internal/config"
	"github.com/NicolasHurtado/taskctl/internal/credstore"
	"github.com/NicolasHurtado/taskctl/internal/logging"
	"github.com/NicolasHurtado/taskctl/internal/session"
	"github.com/NicolasHurtado/taskctl/internal/taskapi"
)

var Version = "dev"

const usage = `taskctl - task manager CLI

Usage:
  taskctl login <email>          sign in (password read from stdin)
  taskctl register <name> <email>  create an account
  taskctl tasks                  list tasks
  taskctl add <title> [description]  create a task
  taskctl done <id>              mark a task completed
  taskctl rm <id>                delete a task
  taskctl whoami                 show the signed-in profile
  taskctl logout                 sign out
  taskctl delete-account         delete the account permanently
`

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	args := os.Args[1:]
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("no command given")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)
	logger.Debug("taskctl starting",
		slog.String("version", Version),
		slog.String("api_url", cfg.APIURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := credstore.OpenAt(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("opening credential store: %w", err)
	}
	defer store.Close()

	var sessionLost atomic.Bool

	teardown := session.NewTeardown(store, func() { sessionLost.Store(true) }, logger)

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	refresher, err := session.NewHTTPRefresher(cfg.RefreshURL(), httpClient, cfg.RefreshTimeout, logger)
	if err != nil {
		return fmt.Errorf("creating refresher: %w", err)
	}

	coord := session.NewCoordinator(session.CoordinatorConfig{
		Store:     store,
		Refresher: refresher,
		Teardown:  teardown,
		Logger:    logger,
		WaitMax:   cfg.RefreshWaitMax,
	})

	apiClient := session.NewClient(session.ClientConfig{
		BaseURL:     cfg.APIURL,
		Transport:   httpClient,
		Store:       store,
		Coordinator: coord,
		Teardown:    teardown,
		Logger:      logger,
	})

	client := taskapi.New(apiClient, store, teardown, logger)

	err = dispatch(ctx, client, args)

	if sessionLost.Load() {
		fmt.Fprintln(os.Stderr, "session expired: run `taskctl login <email>` to sign in again")
	}

	return err
}

func dispatch(ctx context.Context, client *taskapi.Client, args []string) error {
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "login":
		if len(rest) != 1 {
			return fmt.Errorf("usage: taskctl login <email>")
		}

		password, err := readPassword()
		if err != nil {
			return err
		}

		return client.Login(ctx, rest[0], password)

	case "register":
		if len(rest) != 2 {
			return fmt.Errorf("usage: taskctl register <name> <email>")
		}

		password, err := readPassword()
		if err != nil {
			return err
		}

		return client.Register(ctx, rest[0], rest[1], password)

	case "tasks":
		return printTasks(ctx, client)

	case "add":
		if len(rest) < 1 {
			return fmt.Errorf("usage: taskctl add <title> [description]")
		}

		task, err := client.CreateTask(ctx, rest[0], strings.Join(rest[1:], " "))
		if err != nil {
			return err
		}

		fmt.Printf("created %s: %s\n", task.ID, task.Title)

		return nil

	case "done":
		if len(rest) != 1 {
			return fmt.Errorf("usage: taskctl done <id>")
		}

		task, err := client.CompleteTask(ctx, rest[0])
		if err != nil {
			return err
		}

		fmt.Printf("completed %s: %s\n", task.ID, task.Title)

		return nil

	case "rm":
		if len(rest) != 1 {
			return fmt.Errorf("usage: taskctl rm <id>")
		}

		return client.DeleteTask(ctx, rest[0])

	case "whoami":
		profile, err := client.Profile(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("%s <%s>\n", profile.Name, profile.Email)

		return nil

	case "logout":
		return client.Logout(ctx)

	case "delete-account":
		return client.DeleteAccount(ctx)

	default:
		fmt.Fprint(os.Stderr, usage)

		return fmt.Errorf("unknown command %q", cmd)
	}
}

// printTasks fetches the profile and task list concurrently and renders
// them.
func printTasks(ctx context.Context, client *taskapi.Client) error {
	var (
		profile *taskapi.Profile
		tasks   []taskapi.Task
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		profile, err = client.Profile(gctx)

		return err
	})

	g.Go(func() error {
		var err error
		tasks, err = client.Tasks(gctx)

		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Printf("tasks for %s:\n", profile.Name)

	if len(tasks) == 0 {
		fmt.Println("  (none)")
		return nil
	}

	for _, task := range tasks {
		mark := " "
		if task.Completed {
			mark = "x"
		}

		fmt.Printf("  [%s] %s  %s", mark, task.ID, task.Title)

		if task.Description != "" {
			fmt.Printf(" - %s", task.Description)
		}

		fmt.Println()
	}

	return nil
}

func readPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")

	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return "", fmt.Errorf("no password given")
	}

	password := strings.TrimSpace(scanner.Text())
	if password == "" {
		return "", fmt.Errorf("empty password")
	}

	return password, nil
}
