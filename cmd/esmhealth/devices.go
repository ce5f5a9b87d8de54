package main

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/marcus-qen/esmhealth/internal/config"
	"github.com/marcus-qen/esmhealth/internal/esm"
)

// cmdDevices prints the datasource names and IDs from the ESM device tree.
// Useful when filling in the queries section of the config file.
func cmdDevices(ctx context.Context, args []string) error {
	configPath, _ := parseConfigFlag(args)
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	client := esm.NewClient(cfg.ServerURL, cfg.Username, resolvePassword(cfg), logger.Named("esm"))
	if cfg.InsecureSkipVerify {
		client.AllowInsecureTLS()
	}
	defer client.Logout(ctx)

	devices, err := client.DeviceTree(ctx)
	if err != nil {
		return err
	}

	headers := []string{"NAME", "DATASOURCE ID", "TYPE"}
	var rows [][]string
	for _, d := range devices {
		rows = append(rows, []string{d.Name, d.DataSourceID, d.TypeID})
	}
	RenderTable(os.Stdout, headers, rows)
	return nil
}
