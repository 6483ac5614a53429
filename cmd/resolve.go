package cmd

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/sunbk201/clickrelay/internal/config"
	"github.com/sunbk201/clickrelay/internal/relay"
	"github.com/sunbk201/clickrelay/internal/server"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve [landing-url]",
	Short: "Resolve one synthetic visit against the tracker and print the verdict",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runResolve,
}

var (
	resolveUA      string
	resolveIP      string
	resolveReferer string
	resolveLang    string
	resolveShowLog bool
)

func init() {
	resolveCmd.Flags().StringVar(&resolveUA, "ua", "Mozilla/5.0", "Visitor User-Agent")
	resolveCmd.Flags().StringVar(&resolveIP, "ip", "", "Visitor IP")
	resolveCmd.Flags().StringVar(&resolveReferer, "referer", "", "Visitor Referer")
	resolveCmd.Flags().StringVar(&resolveLang, "lang", "en-US", "Visitor Accept-Language")
	resolveCmd.Flags().BoolVar(&resolveShowLog, "log", false, "Print the relay log")

	rootCmd.AddCommand(resolveCmd)
}

type resolveOutput struct {
	Source  relay.Source       `json:"source"`
	Params  relay.ParameterSet `json:"params"`
	Verdict *relay.Verdict     `json:"verdict"`
	Notice  string             `json:"notice,omitempty"`
	Log     []string           `json:"log,omitempty"`
}

func runResolve(cmd *cobra.Command, args []string) error {
	cfg, err := config.BuildConfigFromViper()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	target := "http://localhost/"
	if len(args) == 1 {
		target = args[0]
	}
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("landing url: %w", err)
	}
	req.Header.Set("User-Agent", resolveUA)
	req.Header.Set("Accept-Language", resolveLang)
	if resolveReferer != "" {
		req.Header.Set("Referer", resolveReferer)
	}

	transport := relay.NewHTTPTransport(relay.TransportOptions{
		InsecureSkipVerify: cfg.Tracker.InsecureSkipVerify,
	})
	c := relay.New(cfg.Tracker.URL, cfg.Tracker.CampaignToken, req,
		relay.WithTransport(transport),
		relay.WithIPResolver(relay.MustIPResolver(cfg.IP.MobileProxyMarker)),
	)
	c.DisableSessions()
	server.ApplyTracker(c, cfg.Tracker)
	if resolveIP != "" {
		c.IP(resolveIP)
	}
	out := resolveOutput{Params: c.Params()}
	out.Params[relay.ParamAPIKey] = "***"

	v, err := c.Resolve(context.Background())
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}
	out.Source = c.Source()
	out.Verdict = v
	out.Notice = c.Notice()
	if resolveShowLog {
		out.Log = c.Log()
	}

	data, err := sonic.ConfigStd.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal verdict: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
