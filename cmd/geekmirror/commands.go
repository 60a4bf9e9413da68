package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/geekmirror/internal/crawler"
	"github.com/MarcoPoloResearchLab/geekmirror/internal/forum"
	"github.com/MarcoPoloResearchLab/geekmirror/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	shutdownTimeout = 10 * time.Second
	categoryAll     = "all"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the read API and run scheduled syncs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func newSyncCommand() *cobra.Command {
	var limit int
	var withComments bool
	cmd := &cobra.Command{
		Use:       "sync [ic|gb|all]",
		Short:     "Walk listing pages until a known thread is reached",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"ic", "gb", categoryAll},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := categoryAll
			if len(args) == 1 {
				target = args[0]
			}
			return runSync(cmd.Context(), target, crawler.Options{Limit: limit, WithComments: withComments})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum threads to process per category (0 for no cap)")
	cmd.Flags().BoolVar(&withComments, "comments", false, "Also sync comments of new and updated threads")
	return cmd
}

func newSyncCommentsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-comments <topic_id>",
		Short: "Fetch comments of one thread newer than the stored watermark",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid topic id %q", args[0])
			}
			topicID, err := forum.NewTopicID(value)
			if err != nil {
				return err
			}
			return runSyncComments(cmd.Context(), topicID)
		},
	}
}

func runServer(ctx context.Context) error {
	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApplication(signalCtx, viper.GetViper())
	if err != nil {
		return err
	}
	defer app.Close()
	logger := app.logger

	if app.config.SyncSchedule != "" {
		scheduler, err := crawler.NewScheduler(crawler.SchedulerConfig{
			Walker:   app.walker,
			Schedule: app.config.SyncSchedule,
			Logger:   logger,
		})
		if err != nil {
			return fmt.Errorf("sync.schedule: %w", err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		ForumService:   app.forumService,
		Syncer:         app.walker,
		Cache:          app.cache,
		AllowedOrigins: app.config.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    app.config.HTTPAddress,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", app.config.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runSync(ctx context.Context, target string, opts crawler.Options) error {
	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApplication(signalCtx, viper.GetViper())
	if err != nil {
		return err
	}
	defer app.Close()

	if strings.EqualFold(strings.TrimSpace(target), categoryAll) {
		summaries, err := app.walker.SyncAll(signalCtx, opts)
		if err != nil {
			return err
		}
		return printJSON(summaries)
	}

	category, err := forum.ParseCategory(target)
	if err != nil {
		return err
	}
	summary, err := app.walker.SyncCategory(signalCtx, category, opts)
	if err != nil {
		return err
	}
	return printJSON(summary)
}

func runSyncComments(ctx context.Context, topicID forum.TopicID) error {
	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApplication(signalCtx, viper.GetViper())
	if err != nil {
		return err
	}
	defer app.Close()

	result, err := app.walker.SyncComments(signalCtx, topicID)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func printJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
