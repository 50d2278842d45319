// Command orchestra runs the multi-agent orchestration platform: the
// registration API, the session/orchestrator API, and a small set of
// offline operator tools.
//
// Usage:
//
//	orchestra serve --config orchestra.yaml
//	orchestra registry migrate --from legacy-agents.yaml
//	orchestra explain "show my open tickets"
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/orchestra/internal/config"
)

// CLI defines orchestra's command-line interface.
type CLI struct {
	Serve ServeCmd `cmd:"" help:"Run the HTTP server."`
	Registry RegistryCmd `cmd:"" help:"Offline registry operator tools."`
	Explain ExplainCmd `cmd:"" help:"Explain how a query would be routed, without dispatching."`

	Config string `short:"c" help:"Path to config YAML file." type:"path"`
}

func withCancelOnSignal(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("orchestra: load config: %w", err)
	}
	return cfg, nil
}

func main() {
	cli := CLI{}
	kctx := kong.Parse(&cli,
		kong.Name("orchestra"),
		kong.Description("Multi-agent orchestration platform"),
		kong.UsageOnError(),
	)

	err := kctx.Run(&cli)
	kctx.FatalIfErrorf(err)
}
