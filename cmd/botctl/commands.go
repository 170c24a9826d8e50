package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/edvin/botplane/internal/botctl"
)

var (
	configPath string
	apiURL     string
	token      string
	deployment string

	client *botctl.Client
	cfg    *botctl.Config

	rootCmd = &cobra.Command{
		Use:           "botctl",
		Short:         "Operate the trading bot control plane",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				p, err := botctl.ConfigPath()
				if err != nil {
					return err
				}
				configPath = p
			}
			loaded, err := botctl.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if apiURL != "" {
				loaded.APIURL = apiURL
			}
			if token != "" {
				loaded.Token = token
			}
			cfg = loaded
			client = botctl.NewClient(cfg.APIURL, cfg.Token)
			return nil
		},
	}

	loginCmd = &cobra.Command{
		Use:   "login [password]",
		Short: "Log in and save the session token",
		Args:  cobra.ExactArgs(1),
		RunE:  runLogin,
	}

	startCmd = &cobra.Command{
		Use:   "start",
		Short: "Authorize the bot to trade on the active deployment",
		RunE:  lifecycleRun("start"),
	}
	stopCmd = &cobra.Command{
		Use:   "stop",
		Short: "Withdraw the start signal and stop the bot",
		RunE:  lifecycleRun("stop"),
	}
	restartCmd = &cobra.Command{
		Use:   "restart",
		Short: "Stop and start the bot",
		RunE:  lifecycleRun("restart"),
	}
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the bot status",
		RunE:  lifecycleRun("status"),
	}

	healthCmd = &cobra.Command{
		Use:   "health [ip]",
		Short: "Probe a host, the active deployment by default",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{}
			if len(args) == 1 {
				body["ipAddress"] = args[0]
			}
			return call(cmd.Context(), http.MethodPost, "/check-vps-health", body, botctl.CheckHealth)
		},
	}

	preflightCmd = &cobra.Command{
		Use:   "preflight",
		Short: "Run the trade preflight checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd.Context(), http.MethodPost, "/trade-preflight", map[string]any{}, botctl.CheckPreflight)
		},
	}

	migrateFrom string
	migrateTo   string
	migrateCmd  = &cobra.Command{
		Use:       "migrate prepare|execute|rollback",
		Short:     "Move the primary deployment to another host",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"prepare", "execute", "rollback"},
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"action": args[0], "fromDeploymentId": migrateFrom, "toDeploymentId": migrateTo}
			return call(cmd.Context(), http.MethodPost, "/migrate-vps", body, botctl.CheckSuccess(botctl.ExitHostUnreachable))
		},
	}

	whitelistCmd = &cobra.Command{
		Use:   "whitelist [ip]",
		Short: "Register the host IP with every connected exchange",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{}
			if len(args) == 1 {
				body["vps_ip"] = args[0]
			}
			return call(cmd.Context(), http.MethodPost, "/sync-ip-whitelist", body, nil)
		},
	}

	provisionProvider string
	provisionExchange string
	provisionIP       string
	provisionRegion   string
	provisionPlan     string
	provisionCmd      = &cobra.Command{
		Use:   "provision",
		Short: "Create a bot host, or adopt an existing one with --ip",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{
				"provider":       provisionProvider,
				"targetExchange": provisionExchange,
				"ipAddress":      provisionIP,
				"region":         provisionRegion,
				"plan":           provisionPlan,
			}
			return call(cmd.Context(), http.MethodPost, "/provision-vps", body, botctl.CheckSuccess(botctl.ExitProviderError))
		},
	}

	instanceCmd = &cobra.Command{
		Use:       "instance start|halt|destroy",
		Short:     "Power a deployment's instance on or off, or destroy it",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"start", "halt", "destroy"},
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{"action": args[0], "deploymentId": deployment}
			return call(cmd.Context(), http.MethodPost, "/vps-instance", body, botctl.CheckSuccess(botctl.ExitProviderError))
		},
	}

	verifyCmd = &cobra.Command{
		Use:   "verify [ip]",
		Short: "Check which port the host agent answers on",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{}
			if len(args) == 1 {
				body["ipAddress"] = args[0]
			}
			return call(cmd.Context(), http.MethodPost, "/deploy-vps-api", body, botctl.CheckSuccess(botctl.ExitHostUnreachable))
		},
	}

	updateCmd = &cobra.Command{
		Use:   "update-bot <file>",
		Short: "Push new bot source to the active host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			body := map[string]string{"code": string(code)}
			return call(cmd.Context(), http.MethodPost, "/update-bot", body, botctl.CheckSuccess(botctl.ExitHostUnreachable))
		},
	}

	pingCmd = &cobra.Command{
		Use:   "ping",
		Short: "Measure exchange latency from the active host",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd.Context(), http.MethodGet, "/ping-exchanges", nil, botctl.CheckSuccess(botctl.ExitHostUnreachable))
		},
	}

	progressionCmd = &cobra.Command{
		Use:   "progression",
		Short: "Show the simulation, paper and live unlock state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd.Context(), http.MethodGet, "/progression", nil, nil)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $XDG_CONFIG_HOME/botctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "", "control API base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "session token")

	for _, c := range []*cobra.Command{startCmd, stopCmd, restartCmd, statusCmd} {
		c.Flags().StringVar(&deployment, "deployment", "", "deployment ID (default: the active deployment)")
	}

	migrateCmd.Flags().StringVar(&migrateFrom, "from", "", "source deployment ID")
	migrateCmd.Flags().StringVar(&migrateTo, "to", "", "target deployment ID")
	migrateCmd.MarkFlagRequired("from")
	migrateCmd.MarkFlagRequired("to")

	provisionCmd.Flags().StringVar(&provisionProvider, "provider", "", "vultr, digitalocean, contabo, aws or gcp")
	provisionCmd.Flags().StringVar(&provisionExchange, "exchange", "", "exchange to place the host near")
	provisionCmd.Flags().StringVar(&provisionIP, "ip", "", "adopt the existing instance at this address")
	provisionCmd.Flags().StringVar(&provisionRegion, "region", "", "override the selected region")
	provisionCmd.Flags().StringVar(&provisionPlan, "plan", "", "override the selected plan")
	provisionCmd.MarkFlagRequired("provider")

	instanceCmd.Flags().StringVar(&deployment, "deployment", "", "deployment ID")
	instanceCmd.MarkFlagRequired("deployment")

	rootCmd.AddCommand(loginCmd, startCmd, stopCmd, restartCmd, statusCmd, healthCmd, preflightCmd,
		migrateCmd, whitelistCmd, provisionCmd, instanceCmd, verifyCmd, updateCmd, pingCmd, progressionCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	t, err := client.Login(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	cfg.Token = t
	if err := cfg.Save(configPath); err != nil {
		return err
	}
	fmt.Printf("Logged in. Token saved to %s\n", configPath)
	return nil
}

func lifecycleRun(action string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		body := map[string]string{"action": action, "deploymentId": deployment}
		return call(cmd.Context(), http.MethodPost, "/bot-lifecycle", body, botctl.CheckLifecycle)
	}
}

// call prints the response body and returns the command's outcome.
func call(ctx context.Context, method, path string, body any, check botctl.Check) error {
	out, err := client.Call(ctx, method, path, body, check)
	if len(out) > 0 {
		printJSON(out)
	}
	return err
}

func printJSON(raw json.RawMessage) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return
	}
	fmt.Println(buf.String())
}
