package main

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "meshwatch",
	Short: "Meshtastic mesh traffic monitor",
	Long: `meshwatch ingests Meshtastic packets from an MQTT broker (or a NATS
bridge), decrypts and decodes them, stores them in PostgreSQL and serves a
query API with a live websocket feed.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml, /etc/meshwatch/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(seedCmd)
}
