package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	redis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"novel-client/internal/client"
	"novel-client/internal/config"
	"novel-client/internal/logger"
	"novel-client/internal/orchestrator"
	"novel-client/internal/resume"
)

func newGenerateCmd() *cobra.Command {
	var doResume bool

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Run the generation wizard for a project",
		Long: `Runs the full generation sequence (world, careers, characters, outline)
for a project. With --resume, continues from the last completed step,
re-validated against the server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(doResume)
		},
	}

	cmd.Flags().StringVar(&projectID, "project", "", "project ID to generate (required)")
	cmd.Flags().BoolVar(&doResume, "resume", false, "continue from the last completed step")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func runGenerate(doResume bool) error {
	cfg, err := config.Load(dotenvPath)
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Encoding: cfg.LogEncoding})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	store := resume.NewRedisStore(redisClient, log)

	tokens, err := client.NewTokenProvider(cfg.AuthURL, cfg.RequestTimeout, cfg.AccessToken, cfg.RefreshToken, log)
	if err != nil {
		return err
	}
	streamer, err := client.NewStreamClient(cfg.BackendURL, log, tokens)
	if err != nil {
		return err
	}
	api, err := client.NewProjectAPIClient(cfg.BackendURL, cfg.RequestTimeout, log, tokens)
	if err != nil {
		return err
	}

	orch, err := orchestrator.New(streamer, api, store, log,
		orchestrator.WithObserver(printProgress),
	)
	if err != nil {
		return err
	}

	var run *orchestrator.Run
	if doResume {
		run, err = orch.Resume(ctx, projectID)
	} else {
		run, err = orch.Start(ctx, projectID)
	}

	// Прогон может приостанавливаться на подтверждениях и падать с retry —
	// крутимся, пока не завершится или пользователь не откажется.
	for err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("generation cancelled")
		}

		var pending *orchestrator.ConfirmationRequired
		if errors.As(err, &pending) {
			fmt.Printf("\nStep %q awaits your confirmation:\n%s\n", pending.Step, string(pending.Payload))
			if !askYesNo("Accept and continue?") {
				return fmt.Errorf("generation stopped: confirmation declined")
			}
			err = orch.Confirm(ctx, run, map[string]interface{}{"approved": true})
			continue
		}

		fmt.Printf("\nGeneration failed: %v\n", err)
		if !askYesNo("Retry the failed step?") {
			return err
		}
		if run == nil {
			// Прогон еще не стартовал: Resume упал на сверке с сервером
			// или хранилищем маркеров. Повторяем запуск целиком.
			if doResume {
				run, err = orch.Resume(ctx, projectID)
			} else {
				run, err = orch.Start(ctx, projectID)
			}
			continue
		}
		err = orch.Retry(ctx, run)
	}

	fmt.Printf("\nGeneration for project %s completed.\n", projectID)
	return nil
}

// printProgress печатает ход прогона в терминал.
func printProgress(ev orchestrator.ProgressEvent) {
	switch ev.State {
	case orchestrator.StateProcessing:
		if ev.Message != "" {
			fmt.Printf("  [%s] %3d%% %s\n", ev.Step, ev.Percent, ev.Message)
		} else {
			fmt.Printf("> step %d/%d: %s\n", ev.StepIndex+1, orchestrator.StepCount(), ev.Step)
		}
	case orchestrator.StateCompleted:
		fmt.Printf("  [%s] done\n", ev.Step)
	case orchestrator.StateError:
		fmt.Printf("  [%s] error: %s\n", ev.Step, ev.Message)
	}
}

func askYesNo(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
