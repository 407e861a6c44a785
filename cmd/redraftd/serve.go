package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/oraraka-deko/redraft/internal/profile"
	"github.com/oraraka-deko/redraft/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the assist endpoint over HTTP",
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := profile.Load(viper.GetViper())
		if err != nil {
			return err
		}
		if err := p.Validate(); err != nil {
			return err
		}
		log, err := p.Logger()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, p, log, true)
		if err != nil {
			return err
		}
		defer a.Close()

		opts := []server.Option{server.WithLogger(log), server.WithMetrics(a.metrics.Handler())}
		if a.db != nil {
			opts = append(opts, server.WithHistory(a.db, viper.GetInt("history-limit")))
		}
		if a.follower != nil {
			opts = append(opts, server.WithRunFollower(a.follower))
		}
		srv := server.New(a.orch, opts...)

		errc := make(chan error, 1)
		go func() { errc <- srv.Start(p.Addr) }()
		log.Info().Str("addr", p.Addr).Msg("redraftd listening")

		select {
		case err := <-errc:
			return err
		case <-ctx.Done():
		}
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "listen address")
	serveCmd.Flags().Int("history-limit", 20, "stored turns loaded when a request carries no history")
	for _, name := range []string{"addr", "history-limit"} {
		if err := viper.BindPFlag(name, serveCmd.Flags().Lookup(name)); err != nil {
			panic(err)
		}
	}
}
