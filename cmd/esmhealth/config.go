package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/marcus-qen/esmhealth/internal/config"
	"github.com/marcus-qen/esmhealth/internal/esm"
)

const receiverDefaultThreshold = 20

// cmdConfig writes a default config file. When ESM connection details are
// available (ESMHEALTH_SERVER / ESMHEALTH_USER / ESMHEALTH_PASSWORD), the
// device tree is fetched and one query entry seeded per receiver.
func cmdConfig(ctx context.Context, args []string) error {
	configPath, _ := parseConfigFlag(args)
	if configPath == "" {
		configPath = config.DefaultPath
	}

	cfg := config.Default()

	server := os.Getenv("ESMHEALTH_SERVER")
	user := os.Getenv("ESMHEALTH_USER")
	password := os.Getenv("ESMHEALTH_PASSWORD")
	if server != "" && user != "" {
		cfg.ServerURL = server
		cfg.Username = user

		logger, _ := zap.NewProduction()
		defer logger.Sync()

		client := esm.NewClient(server, user, password, logger.Named("esm"))
		defer client.Logout(ctx)

		devices, err := client.DeviceTree(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not fetch device tree, writing config without query entries: %v\n", err)
		} else {
			for _, d := range devices {
				if d.TypeID != "2" { // receivers only
					continue
				}
				cfg.Queries = append(cfg.Queries, config.QueryEntry{
					Name:             d.Name,
					DeviceID:         d.DataSourceID,
					ThresholdMinutes: receiverDefaultThreshold,
				})
			}
		}
	}

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("The file %s already exists. Overwrite? (y/n) ", configPath)
		reply, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(reply)), "y") {
			fmt.Println("Aborted.")
			return nil
		}
	}

	if err := cfg.Save(configPath); err != nil {
		return err
	}
	fmt.Printf("Config file written to: %s\n", configPath)
	return nil
}
