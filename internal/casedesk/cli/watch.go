package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/casedesk/internal/casedesk/app"
	"github.com/aussiebroadwan/casedesk/internal/casedesk/domain"
	"github.com/aussiebroadwan/casedesk/internal/casedesk/service"
)

// console serialises writes from timer callbacks and the input loop.
type console struct {
	mu  sync.Mutex
	out io.Writer
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func newWatchCommand(root *rootOptions) *cobra.Command {
	var (
		autoExtend  bool
		metricsAddr string
		quiet       bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Count down the session and offer to extend it before it expires",
		Long: `watch follows the shared session until it ends. It warns when the
credential is about to expire; press Enter to extend the session. It exits
when the session expires or another casedesk process logs out.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			con := &console{out: cmd.OutOrStdout()}

			var (
				endMu sync.Mutex
				ended domain.Route
				done  bool
			)
			nav := service.NavigatorFunc(func(r domain.Route) {
				endMu.Lock()
				ended, done = r, true
				endMu.Unlock()
				cancel()
			})

			var a *app.Application
			extend := func() {
				if err := a.Monitor().Extend(ctx); err != nil {
					switch {
					case errors.Is(err, service.ErrExtensionInFlight), errors.Is(err, service.ErrNotMonitoring):
					default:
						con.printf("\nCould not extend the session: %v\n", describe(err))
					}
					return
				}
				con.printf("\nSession extended, expires in %s\n", service.FormatRemaining(a.Monitor().Remaining()))
			}

			hooks := service.Hooks{
				OnWarning: func(remaining time.Duration) {
					if autoExtend {
						con.printf("\nSession expires in %s, extending\n", service.FormatRemaining(remaining))
						go extend()
						return
					}
					con.printf("\nSession expires in %s. Press Enter to stay logged in.\n", service.FormatRemaining(remaining))
				},
				OnExpired: func() {
					con.printf("\nSession expired\n")
				},
			}
			if !quiet {
				hooks.OnTick = func(remaining time.Duration) {
					con.printf("\rSession expires in %s ", service.FormatRemaining(remaining))
				}
			}

			cfg, err := root.config()
			if err != nil {
				return err
			}
			if metricsAddr != "" {
				cfg.MetricsAddr = metricsAddr
			}
			a, err = openConfig(cmd, cfg, app.WithNavigator(nav), app.WithHooks(hooks))
			if err != nil {
				return err
			}
			if !a.Session().IsAuthenticated() {
				_ = a.Shutdown()
				return errors.New("not logged in")
			}

			go func() {
				scanner := bufio.NewScanner(cmd.InOrStdin())
				for scanner.Scan() {
					if ctx.Err() != nil {
						return
					}
					extend()
				}
			}()

			if err := a.Run(ctx); err != nil {
				return err
			}

			endMu.Lock()
			defer endMu.Unlock()
			switch {
			case !done:
			case ended.Expired():
				con.printf("Log in again with \"casedesk login\"\n")
			default:
				con.printf("\nLogged out by another casedesk process\n")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&autoExtend, "auto-extend", false, "Extend the session automatically when the warning opens")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print the countdown every second")
	return cmd
}
