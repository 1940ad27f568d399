package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"wsstress/internal/cli"
	"wsstress/internal/config"
	"wsstress/internal/echo"
)

var (
	cfgFile string

	// CLI flags
	host       string
	port       int
	protocol   string
	path       string
	start      int
	max        int
	increment  int
	duration   time.Duration
	delay      time.Duration
	timeout    time.Duration
	threshold  float64
	cumulative bool
	exhaustive bool
	insecure   bool
	verbose    bool
	outPrefix  string
	noHistory  bool
)

var rootCmd = &cobra.Command{
	Use:   "wsstress",
	Short: "wsstress - Progressive WebSocket Connection Stress Tester",
	Long: `
wsstress opens successively larger batches of simultaneous WebSocket
connections against an echo endpoint, holds each batch open while
exchanging probe traffic, and reports the largest connection count at
which the target stays above the stability threshold.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(cmd)
		if err != nil {
			return err
		}
		return cli.Start(cfg, cli.Options{OutPrefix: outPrefix, NoHistory: noHistory})
	},
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(echoCmd)
	rootCmd.AddCommand(historyCmd)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default config.yaml in . or $HOME)")

	rootCmd.Flags().StringVar(&host, "host", "", "WebSocket server hostname")
	rootCmd.Flags().IntVar(&port, "port", 0, "WebSocket server port")
	rootCmd.Flags().StringVar(&protocol, "protocol", "", "WebSocket protocol (ws or wss)")
	rootCmd.Flags().StringVar(&path, "path", "", "WebSocket endpoint path")
	rootCmd.Flags().IntVar(&start, "start", 0, "Starting number of connections")
	rootCmd.Flags().IntVar(&max, "max", 0, "Maximum number of connections to test")
	rootCmd.Flags().IntVar(&increment, "increment", 0, "Connections added per batch")
	rootCmd.Flags().DurationVarP(&duration, "duration", "d", 0, "How long to hold each batch open (e.g. 5s)")
	rootCmd.Flags().DurationVar(&delay, "delay", 0, "Delay between starting individual connections")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 0, "Dial and echo round-trip timeout")
	rootCmd.Flags().Float64Var(&threshold, "threshold", -1, "Stability threshold as a success-rate percentage")
	rootCmd.Flags().BoolVar(&cumulative, "cumulative", false, "Keep previous connections open when adding new ones")
	rootCmd.Flags().BoolVar(&exhaustive, "exhaustive", false, "Scan every count up to --max instead of stopping at the first unstable batch")
	rootCmd.Flags().BoolVarP(&insecure, "insecure", "k", false, "Skip TLS certificate verification for wss targets")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Per-connection logging")
	rootCmd.Flags().StringVarP(&outPrefix, "out", "o", "", "Output filename prefix for CSV/JSON reports")
	rootCmd.Flags().BoolVar(&noHistory, "no-history", false, "Do not persist this run to history")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}
	viper.SetEnvPrefix("wsstress")
	viper.AutomaticEnv()
	viper.ReadInConfig()
}

// resolveConfig layers defaults, the config file and explicit flags into
// one immutable RunConfig. Flags win over file values, file values over
// defaults.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()

	// Config file schema mirrors the original tool: a server block and a
	// test block with second-valued durations.
	if viper.IsSet("server.host") {
		cfg.Host = viper.GetString("server.host")
	}
	if viper.IsSet("server.port") {
		cfg.Port = viper.GetInt("server.port")
	}
	if viper.IsSet("server.protocol") {
		cfg.Protocol = viper.GetString("server.protocol")
	}
	if viper.IsSet("server.path") {
		cfg.Path = viper.GetString("server.path")
	}
	if viper.IsSet("test.start_connections") {
		cfg.StartCount = viper.GetInt("test.start_connections")
	}
	if viper.IsSet("test.max_connections") {
		cfg.MaxCount = viper.GetInt("test.max_connections")
	}
	if viper.IsSet("test.increment") {
		cfg.Increment = viper.GetInt("test.increment")
	}
	if viper.IsSet("test.batch_duration") {
		cfg.BatchDuration = secondsDuration(viper.GetFloat64("test.batch_duration"))
	}
	if viper.IsSet("test.connection_delay") {
		cfg.ConnectionDelay = secondsDuration(viper.GetFloat64("test.connection_delay"))
	}
	if viper.IsSet("test.timeout") {
		cfg.Timeout = secondsDuration(viper.GetFloat64("test.timeout"))
	}
	if viper.IsSet("test.stability_threshold") {
		cfg.StabilityThreshold = viper.GetFloat64("test.stability_threshold")
	}
	if viper.IsSet("test.cumulative_mode") {
		cfg.Cumulative = viper.GetBool("test.cumulative_mode")
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Host = host
	}
	if flags.Changed("port") {
		cfg.Port = port
	}
	if flags.Changed("protocol") {
		cfg.Protocol = protocol
	}
	if flags.Changed("path") {
		cfg.Path = path
	}
	if flags.Changed("start") {
		cfg.StartCount = start
	}
	if flags.Changed("max") {
		cfg.MaxCount = max
	}
	if flags.Changed("increment") {
		cfg.Increment = increment
	}
	if flags.Changed("duration") {
		cfg.BatchDuration = duration
	}
	if flags.Changed("delay") {
		cfg.ConnectionDelay = delay
	}
	if flags.Changed("timeout") {
		cfg.Timeout = timeout
	}
	if flags.Changed("threshold") {
		cfg.StabilityThreshold = threshold
	}
	if flags.Changed("cumulative") {
		cfg.Cumulative = cumulative
	}
	if flags.Changed("exhaustive") {
		cfg.Exhaustive = exhaustive
	}
	cfg.InsecureTLS = insecure
	cfg.Verbose = verbose

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func secondsDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}

var echoCmd = &cobra.Command{
	Use:   "echo",
	Short: "Run the local echo server fixture",
	RunE: func(cmd *cobra.Command, args []string) error {
		echoHost, _ := cmd.Flags().GetString("host")
		echoPort, _ := cmd.Flags().GetInt("port")
		srv := echo.New(echo.ServerConfig{
			Host:    echoHost,
			Port:    echoPort,
			Verbose: verbose,
		})
		return srv.Start()
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.History()
	},
}

func init() {
	echoCmd.Flags().String("host", "0.0.0.0", "Interface to listen on")
	echoCmd.Flags().IntP("port", "p", 7070, "Port to serve the echo endpoint on")
	echoCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Per-connection logging")
}
