/*
 * Authen Gateway
 * Copyright (C) 2026  Authen Authors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Command gateway runs the unified API gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gravitational/trace"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	gateway "github.com/Johnie198946/Authen-sub000"
	"github.com/Johnie198946/Authen-sub000/lib/cache"
	"github.com/Johnie198946/Authen-sub000/lib/config"
	"github.com/Johnie198946/Authen-sub000/lib/events"
	gwjwt "github.com/Johnie198946/Authen-sub000/lib/jwt"
	"github.com/Johnie198946/Authen-sub000/lib/limiter"
	"github.com/Johnie198946/Authen-sub000/lib/provision"
	"github.com/Johnie198946/Authen-sub000/lib/proxy"
	"github.com/Johnie198946/Authen-sub000/lib/storage"
	"github.com/Johnie198946/Authen-sub000/lib/web"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", trace.UserMessage(err))
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "gateway",
		Short:        "Unified API gateway for the identity service constellation",
		SilenceUsage: true,
	}

	var configPath string
	start := &cobra.Command{
		Use:   "start",
		Short: "Start the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return trace.Wrap(run(cmd.Context(), configPath))
		},
	}
	start.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML configuration file")

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the gateway version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), gateway.Version)
		},
	}

	root.AddCommand(start, version)
	return root
}

func run(ctx context.Context, configPath string) error {
	fc, err := loadConfig(configPath)
	if err != nil {
		return trace.Wrap(err)
	}
	level, err := fc.SlogLevel()
	if err != nil {
		return trace.Wrap(err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewPostgres(ctx, storage.PostgresConfig{ConnString: fc.Database.URL})
	if err != nil {
		return trace.Wrap(err)
	}
	defer store.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     fc.Redis.Addr,
		Password: fc.Redis.Password,
		DB:       fc.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return trace.Wrap(err, "connecting to redis at %v", fc.Redis.Addr)
	}

	oauthKey, err := fc.OAuthKey()
	if err != nil {
		return trace.Wrap(err)
	}
	appCache, err := cache.New(cache.Config{Client: redisClient, Store: store, Key: oauthKey})
	if err != nil {
		return trace.Wrap(err)
	}
	admission, err := limiter.New(limiter.Config{Client: redisClient})
	if err != nil {
		return trace.Wrap(err)
	}
	tokens, err := gwjwt.New(gwjwt.Config{
		SigningKey: []byte(fc.Auth.SigningKey),
		Issuer:     fc.Auth.Issuer,
		AccessTTL:  fc.Auth.AccessTokenTTL,
		RefreshTTL: fc.Auth.RefreshTokenTTL,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	router, err := proxy.NewRouter(proxy.Config{Services: fc.Services})
	if err != nil {
		return trace.Wrap(err)
	}

	auditLog, err := events.NewLog(events.Config{Store: store, QueueSize: fc.Audit.QueueSize})
	if err != nil {
		return trace.Wrap(err)
	}
	defer auditLog.Close()

	provisioner, err := provision.NewProvisioner(provision.Config{
		Store:   store,
		Rules:   store,
		Emitter: auditLog,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	defer provisioner.Wait()

	handler, err := web.NewHandler(web.Config{
		Cache:       appCache,
		Limiter:     admission,
		Tokens:      tokens,
		Router:      router,
		Provisioner: provisioner,
		Store:       store,
		Audit:       auditLog,
		Redis:       redisClient,
		Logger:      logger,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	server := &http.Server{
		Addr:              fc.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errC := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "gateway listening", "addr", fc.ListenAddr, "version", gateway.Version)
		errC <- server.ListenAndServe()
	}()

	select {
	case err := <-errC:
		return trace.Wrap(err)
	case <-ctx.Done():
	}

	logger.InfoContext(ctx, "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return trace.Wrap(err)
	}
	return nil
}

func loadConfig(path string) (*config.FileConfig, error) {
	var fc *config.FileConfig
	if path != "" {
		loaded, err := config.ReadFromFile(path)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		fc = loaded
	} else {
		fc = config.FromEnv()
	}
	if err := fc.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return fc, nil
}
