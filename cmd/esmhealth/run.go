package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"

	"github.com/marcus-qen/esmhealth/internal/config"
	"github.com/marcus-qen/esmhealth/internal/devdir"
	"github.com/marcus-qen/esmhealth/internal/esm"
	"github.com/marcus-qen/esmhealth/internal/notify"
	"github.com/marcus-qen/esmhealth/internal/registry"
	"github.com/marcus-qen/esmhealth/internal/runner"
	"github.com/marcus-qen/esmhealth/internal/signing"
	"github.com/marcus-qen/esmhealth/internal/staleness"
)

func cmdRun(ctx context.Context, args []string) error {
	configPath, _ := parseConfigFlag(args)
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	run, err := executeRun(ctx, cfg, logger)
	if err != nil {
		return err
	}

	renderRun(run)
	sendNotifications(ctx, cfg, run, zapr.NewLogger(logger))

	for _, res := range run.Results {
		if res.Status == staleness.StatusAlert {
			os.Exit(2)
		}
	}
	return nil
}

// executeRun performs one full evaluation pass: ESM session, per-run device
// directory, source registry, reference clock, orchestrated evaluation.
func executeRun(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*runner.Run, error) {
	client := esm.NewClient(cfg.ServerURL, cfg.Username, resolvePassword(cfg), logger.Named("esm"))
	if cfg.InsecureSkipVerify {
		client.AllowInsecureTLS()
	}
	defer client.Logout(ctx)

	// Device directory is rebuilt each run; a failed fetch degrades name
	// resolution to raw datasource IDs instead of aborting the run.
	var dir *devdir.Directory
	if cfg.MonitorQueries && len(cfg.Queries) > 0 {
		devices, err := client.DeviceTree(ctx)
		if err != nil {
			logger.Warn("device tree unavailable, using raw datasource IDs", zap.Error(err))
		} else {
			dir = devdir.New(convertDevices(devices))
		}
	}

	sources, err := registry.Build(cfg, dir)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources configured: enable monitor_alarms or add queries")
	}

	clock, err := runner.ResolveClock(ctx, client)
	if err != nil {
		return nil, err
	}

	r := runner.New(client, zapr.NewLogger(logger).WithName("runner"))
	r.SetConcurrency(cfg.Concurrency)
	return r.RunOnce(ctx, sources, clock), nil
}

func convertDevices(devices []esm.Device) []devdir.Device {
	out := make([]devdir.Device, 0, len(devices))
	for _, d := range devices {
		out = append(out, devdir.Device{
			Name:         d.Name,
			DataSourceID: d.DataSourceID,
			TypeID:       d.TypeID,
		})
	}
	return out
}

func resolvePassword(cfg *config.Config) string {
	if cfg.Password != "" {
		return cfg.Password
	}
	return os.Getenv("ESMHEALTH_PASSWORD")
}

func renderRun(run *runner.Run) {
	fmt.Printf("ESM health check — reference time: %s\n\n", run.Clock.Now)

	headers := []string{"SOURCE", "KIND", "STATUS", "IDLE", "THRESHOLD", "LAST ACTIVITY"}
	var rows [][]string
	for _, res := range run.Results {
		idle := "-"
		last := "unknown"
		if res.LastActivity.Known() {
			idle = strconv.Itoa(res.IdleMinutes) + "m"
			last = res.LastActivity.Time().String()
		}
		rows = append(rows, []string{
			res.Source.DisplayName,
			string(res.Source.Kind),
			colorStatus(string(res.Status)),
			idle,
			strconv.Itoa(res.Source.ThresholdMinutes) + "m",
			last,
		})
	}
	RenderTable(os.Stdout, headers, rows)

	for _, res := range run.Results {
		if res.Status != staleness.StatusOK {
			fmt.Printf("\n%s\n", res.Message)
		}
	}
}

// sendNotifications routes every non-OK result through the configured
// channels. ALERT is critical, UNKNOWN is warning.
func sendNotifications(ctx context.Context, cfg *config.Config, run *runner.Run, log logr.Logger) {
	router := buildRouter(cfg.Notify, log.WithName("notify"))
	if router == nil {
		return
	}
	for _, res := range run.Results {
		if res.Status == staleness.StatusOK {
			continue
		}
		router.Notify(ctx, notify.FromResult(run.ID, res))
	}
}

func buildRouter(nc config.NotifyConfig, log logr.Logger) *notify.Router {
	var routes notify.SeverityRoute

	if nc.SlackWebhookURL != "" {
		routes.Critical = append(routes.Critical, notify.NewSlackChannel(nc.SlackWebhookURL, nc.SlackChannel))
	}
	if nc.Email != nil {
		routes.Critical = append(routes.Critical, notify.NewEmailChannel(
			nc.Email.Host, nc.Email.Port, nc.Email.From, nc.Email.To, nc.Email.Username, nc.Email.Password,
		))
	}
	if nc.WebhookURL != "" {
		var signer *signing.Signer
		if nc.WebhookSecret != "" {
			signer = signing.NewSigner([]byte(nc.WebhookSecret))
		}
		routes.Warning = append(routes.Warning, notify.NewWebhookChannel(nc.WebhookURL, nil, signer))
	}

	if len(routes.Critical) == 0 && len(routes.Warning) == 0 && len(routes.Info) == 0 {
		return nil
	}

	var limiter *notify.RateLimiter
	if nc.MaxPerHour > 0 {
		limiter = notify.NewRateLimiter(nc.MaxPerHour)
	}
	return notify.NewRouter(routes, limiter, log)
}
