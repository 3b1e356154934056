package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/leapstack-labs/datalens/internal/api"
	"github.com/spf13/cobra"
)

// NewServeCommand creates the serve command.
func NewServeCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the DataLens HTTP API.

Clients upload a file to create a session, then ask questions about it:

  POST   /api/upload                 multipart "file" field
  GET    /api/profile/{id}
  POST   /api/query                  {"session_id", "query", "include_code"}
  GET    /api/session/{id}/history
  DELETE /api/session/{id}
  GET    /api/health
  GET    /metrics`,
		Example: `  datalens serve
  datalens serve --addr :9000 --upload-dir /tmp/uploads`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if cc.Cfg.LLM.APIKey == "" {
				cc.Logger.Warn("no API key configured; questions will fail until ANTHROPIC_API_KEY is set")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := api.NewServer(cc.Service, api.Config{
				Addr:            cc.Cfg.Server.Addr,
				UploadDir:       cc.Cfg.Server.UploadDir,
				MaxUploadBytes:  cc.Cfg.Server.MaxUploadBytes(),
				CORSOrigins:     cc.Cfg.Server.CORSOrigins,
				ShutdownTimeout: cc.Cfg.Server.ShutdownTimeout,
				Version:         version,
				Metrics:         cc.Service.Metrics().Gatherer(),
				Logger:          cc.Logger,
			})
			return srv.Serve(ctx)
		},
	}

	cmd.Flags().String("addr", "", "Listen address (default :8000)")
	cmd.Flags().String("upload-dir", "", "Directory for in-flight uploads")

	return cmd
}
