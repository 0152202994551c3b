// Command tracerbench-serve replays previously recorded HTTP responses
// to a browser over SOCKS5 -> TLS -> HTTP/2, for deterministic
// web-performance benchmarking.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/shiroyk/tracerbench-serve/internal/archive"
	"github.com/shiroyk/tracerbench-serve/internal/replay"
	"github.com/shiroyk/tracerbench-serve/internal/tlsconf"
)

type cli struct {
	CertPEM     string `arg:"" name:"cert-pem" type:"existingfile" help:"PEM file containing the server certificate chain."`
	KeyPEM      string `arg:"" name:"key-pem" type:"existingfile" help:"PEM file containing the server private key."`
	SetsArchive string `arg:"" name:"sets-archive" type:"existingfile" help:"CBOR-encoded recorded-response archive."`
	LogLevel    string `help:"Logging level (debug, info, warn, error)." env:"TRACERBENCH_LOG_LEVEL" default:"info"`
}

func main() {
	var c cli
	kong.Parse(&c,
		kong.Name("tracerbench-serve"),
		kong.Description("Replays recorded HTTP responses over SOCKS5/TLS/HTTP2 for deterministic benchmarking."),
	)

	logger, err := newLogger(c.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q: %v\n", c.LogLevel, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(c, logger); err != nil {
		logger.Error("fatal", zap.Error(err))
		os.Exit(1)
	}
}

func run(c cli, logger *zap.Logger) error {
	root, err := archive.Load(c.SetsArchive)
	if err != nil {
		return fmt.Errorf("loading archive: %w", err)
	}
	defer root.Close()

	if len(root.Sets) == 0 {
		return fmt.Errorf("archive %s defines no response sets", c.SetsArchive)
	}

	tlsConfig, spkiDigest, err := tlsconf.Build(c.CertPEM, c.KeyPEM)
	if err != nil {
		return fmt.Errorf("building tls config: %w", err)
	}

	logger.Info("spki digest for --ignore-certificate-errors-spki-list", zap.String("digest", spkiDigest))
	for _, set := range root.Sets {
		logger.Info("response set",
			zap.String("name", set.Name), zap.Uint16("socks_port", set.SocksPort),
			zap.String("entry_key", set.EntryKey), zap.Int("recorded_responses", len(set.Requests())))
	}

	launcher := replay.NewLauncher(root.Sets, tlsConfig, logger)
	return launcher.Start(context.Background())
}

func newLogger(level string) (*zap.Logger, error) {
	var zl zapcore.Level
	if err := zl.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}
