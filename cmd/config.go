package main

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/crowdpen/payd/config"
	"github.com/spf13/cobra"
)

const redacted = "********"

// redact masks every secret so the output is safe to paste.
func redact(cfg config.Configuration) config.Configuration {
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&cfg.Server.SecretKey)
	mask(&cfg.DataSource.Dns)
	mask(&cfg.Redis.Dns)
	mask(&cfg.Gateways.Paystack.SecretKey)
	mask(&cfg.Gateways.Startbutton.WebhookSecret)
	mask(&cfg.Mail.SendgridApiKey)
	mask(&cfg.Notification.PostHog.ApiKey)
	mask(&cfg.Notification.Slack.WebhookUrl)
	return cfg
}

func configCommands() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "config outputs your instance's computed configuration",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Fetch()
			if err != nil {
				log.Fatalf("Error getting config: %v\n", err)
			}

			data, err := json.MarshalIndent(redact(*cfg), "", "    ")
			if err != nil {
				log.Fatalf("Error printing config: %v\n", err)
			}

			fmt.Println(string(data))
		},
	}
	return cmd
}
