package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/meshwatch/meshwatch/internal/config"
	"github.com/meshwatch/meshwatch/internal/ingress"
	"github.com/meshwatch/meshwatch/internal/logging"
	"github.com/meshwatch/meshwatch/internal/seeder"
)

var (
	seedCount    int
	seedInterval time.Duration
	seedNodes    int
	seedChannel  string
	seedEncrypt  bool
	seedSeed     int64
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Publish synthetic mesh traffic to the configured broker",
	Long: `Generates ServiceEnvelope frames from a synthetic mesh and publishes
them to the configured MQTT broker. Useful for demos and for load-testing a
pipeline without radio hardware.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSeed()
	},
}

func init() {
	seedCmd.Flags().IntVar(&seedCount, "count", 100, "number of frames to publish")
	seedCmd.Flags().DurationVar(&seedInterval, "interval", 200*time.Millisecond, "delay between frames")
	seedCmd.Flags().IntVar(&seedNodes, "nodes", 8, "size of the synthetic mesh")
	seedCmd.Flags().StringVar(&seedChannel, "channel", "LongFast", "channel name for generated frames")
	seedCmd.Flags().BoolVar(&seedEncrypt, "encrypt", false, "seal payloads with the default channel key")
	seedCmd.Flags().Int64Var(&seedSeed, "seed", time.Now().UnixNano(), "random seed")
}

func runSeed() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := logging.New(logging.ParseLevel(cfg.Logging.Level), "text")

	gen, err := seeder.New(seedSeed, seedNodes, seedChannel, seedEncrypt)
	if err != nil {
		return err
	}

	pub, err := ingress.NewMQTTPublisher(logger, ingress.MQTTConfig{
		BrokerURL: cfg.Ingress.MQTTBroker,
		ClientID:  "meshwatch-seeder",
		Username:  cfg.Ingress.MQTTUsername,
		Password:  cfg.Ingress.MQTTPassword,
		QoS:       byte(cfg.Ingress.MQTTQoS),
	})
	if err != nil {
		return err
	}
	defer pub.Close()

	topic := gen.Topic()
	logger.Info("seeding mesh traffic",
		slog.String("broker", cfg.Ingress.MQTTBroker),
		slog.String("topic", topic),
		slog.Int("count", seedCount),
		slog.Bool("encrypt", seedEncrypt),
	)

	for i := 0; i < seedCount; i++ {
		frame, err := gen.Next()
		if err != nil {
			return fmt.Errorf("failed to generate frame: %w", err)
		}
		if err := pub.Publish(topic, frame); err != nil {
			return err
		}
		if seedInterval > 0 && i < seedCount-1 {
			time.Sleep(seedInterval)
		}
	}

	logger.Info("seeding complete", slog.Int("published", seedCount))
	return nil
}
