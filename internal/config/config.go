// Package config holds the validated settings of the stream command.
package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	OutputConsole  = "console"
	OutputFile     = "file"
	OutputKafka    = "kafka"
	OutputPostgres = "postgres"

	// MaxPageSize is the most headers the blockchain endpoint returns per call.
	MaxPageSize = 20
)

var validOutputs = []string{OutputConsole, OutputFile, OutputKafka, OutputPostgres}

type StreamConfig struct {
	RPCURL   string
	WSURL    string
	GRPCAddr string
	Insecure bool

	From         uint64
	To           uint64
	FromEarliest bool
	Resume       bool

	Headers         bool
	SkipEmpty       bool
	BlockEventTypes []string
	TxEventTypes    []string

	PageSize          uint64
	MaxConcurrency    uint
	MaxRetries        uint
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	CacheSize         int
	BufferSize        int

	PingInterval      time.Duration
	ReadTimeout       time.Duration
	ReconnectAttempts uint
	ReconnectDelay    time.Duration
	ReconnectMaxDelay time.Duration

	Outputs      []string
	Verbose      bool
	FileDir      string
	KafkaBrokers []string
	KafkaTopic   string
	PostgresDSN  string

	MetricsAddr string
}

// LoadStreamConfig reads the stream settings from viper, which merges flags, EVENTSTREAM_* variables and the config file.
func LoadStreamConfig() StreamConfig {
	return StreamConfig{
		RPCURL:   viper.GetString("rpc-url"),
		WSURL:    viper.GetString("ws-url"),
		GRPCAddr: viper.GetString("grpc-addr"),
		Insecure: viper.GetBool("insecure"),

		From:         viper.GetUint64("from"),
		To:           viper.GetUint64("to"),
		FromEarliest: viper.GetBool("from-earliest"),
		Resume:       viper.GetBool("resume"),

		Headers:         viper.GetBool("headers"),
		SkipEmpty:       viper.GetBool("skip-empty"),
		BlockEventTypes: splitList(viper.GetStringSlice("block-events")),
		TxEventTypes:    splitList(viper.GetStringSlice("tx-events")),

		PageSize:          viper.GetUint64("page-size"),
		MaxConcurrency:    viper.GetUint("max-concurrency"),
		MaxRetries:        viper.GetUint("max-retries"),
		RequestTimeout:    viper.GetDuration("request-timeout"),
		RequestsPerSecond: viper.GetFloat64("requests-per-second"),
		CacheSize:         viper.GetInt("cache-size"),
		BufferSize:        viper.GetInt("buffer-size"),

		PingInterval:      viper.GetDuration("ping-interval"),
		ReadTimeout:       viper.GetDuration("read-timeout"),
		ReconnectAttempts: viper.GetUint("reconnect-attempts"),
		ReconnectDelay:    viper.GetDuration("reconnect-delay"),
		ReconnectMaxDelay: viper.GetDuration("reconnect-max-delay"),

		Outputs:      splitList(viper.GetStringSlice("output")),
		Verbose:      viper.GetBool("verbose"),
		FileDir:      viper.GetString("file-dir"),
		KafkaBrokers: splitList(viper.GetStringSlice("kafka-brokers")),
		KafkaTopic:   viper.GetString("kafka-topic"),
		PostgresDSN:  viper.GetString("postgres-dsn"),

		MetricsAddr: viper.GetString("metrics-addr"),
	}
}

// splitList flattens comma separated entries, which is how environment variables carry lists.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (c StreamConfig) Validate() error {
	if err := validateURL("rpc-url", c.RPCURL, "http", "https"); err != nil {
		return err
	}
	if c.WSURL != "" {
		if err := validateURL("ws-url", c.WSURL, "ws", "wss", "http", "https"); err != nil {
			return err
		}
	}

	if c.To != 0 && c.From > c.To {
		return fmt.Errorf("from (%d) must be less than or equal to to (%d)", c.From, c.To)
	}
	if c.FromEarliest && c.From != 0 {
		return fmt.Errorf("from-earliest and from are mutually exclusive")
	}
	if c.FromEarliest && c.GRPCAddr == "" {
		return fmt.Errorf("from-earliest requires grpc-addr")
	}
	if c.Resume && c.From != 0 {
		return fmt.Errorf("resume and from are mutually exclusive")
	}

	if c.PageSize == 0 || c.PageSize > MaxPageSize {
		return fmt.Errorf("page-size must be between 1 and %d", MaxPageSize)
	}
	if c.MaxConcurrency == 0 {
		return fmt.Errorf("max-concurrency must be greater than 0")
	}
	if c.MaxRetries == 0 {
		return fmt.Errorf("max-retries must be greater than 0")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request-timeout must be greater than 0")
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests-per-second must not be negative")
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer-size must be greater than 0")
	}
	if c.PingInterval <= 0 || c.ReadTimeout <= c.PingInterval {
		return fmt.Errorf("read-timeout (%s) must be greater than ping-interval (%s)", c.ReadTimeout, c.PingInterval)
	}
	if c.ReconnectAttempts > 0 && (c.ReconnectDelay <= 0 || c.ReconnectMaxDelay < c.ReconnectDelay) {
		return fmt.Errorf("reconnect-delay must be positive and not above reconnect-max-delay")
	}

	if len(c.Outputs) == 0 {
		return fmt.Errorf("at least one output is required")
	}
	for _, o := range c.Outputs {
		if !slices.Contains(validOutputs, o) {
			return fmt.Errorf("invalid output %q: must be one of %s", o, strings.Join(validOutputs, ", "))
		}
	}
	if c.HasOutput(OutputFile) && c.FileDir == "" {
		return fmt.Errorf("file output requires file-dir")
	}
	if c.HasOutput(OutputKafka) && (len(c.KafkaBrokers) == 0 || c.KafkaTopic == "") {
		return fmt.Errorf("kafka output requires kafka-brokers and kafka-topic")
	}
	if c.HasOutput(OutputPostgres) && c.PostgresDSN == "" {
		return fmt.Errorf("postgres output requires postgres-dsn")
	}
	return nil
}

// HasOutput reports whether the named output is enabled.
func (c StreamConfig) HasOutput(name string) bool {
	return slices.Contains(c.Outputs, name)
}

// LiveURL returns the websocket base URL, derived from the RPC URL when unset.
func (c StreamConfig) LiveURL() string {
	if c.WSURL != "" {
		return c.WSURL
	}
	return c.RPCURL
}

func validateURL(name, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if !slices.Contains(schemes, u.Scheme) || u.Host == "" {
		return fmt.Errorf("invalid %s %q: expected %s URL", name, raw, strings.Join(schemes, "/"))
	}
	return nil
}
