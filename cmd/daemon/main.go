package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/timfallmk/nowplaying-matrix-daemon/internal/config"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/daemon"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/logging"
)

const (
	name = "nowplaying-matrix"
)

var (
	// These are set by the build system via -ldflags.
	version   = "dev"     // Set via -X main.version=...
	buildTime = "unknown" // Set via -X main.buildTime=...
)

var (
	configPath   = flag.String("config", "", "Path to configuration file")
	showVersion  = flag.Bool("version", false, "Show version information")
	showHelp     = flag.Bool("help", false, "Show help information")
	logLevel     = flag.String("log-level", "", "Set log level (debug, info, warn, error)")
	matrixPort   = flag.String("port", "", "Serial port for the LED matrix")
	brightness   = flag.Int("brightness", -1, "LED brightness cap (0-255)")
	providerKind = flag.String("provider", "", "Status provider (http, mqtt, hybrid, mpris, file)")
	sinkKind     = flag.String("sink", "", "Matrix sink (serial, ws281x, terminal, none)")
)

func main() {
	flag.Parse()

	if *showHelp {
		showUsage(os.Stdout)
		os.Exit(0)
	}

	if *showVersion {
		fmt.Printf("%s version %s\n", name, version)
		fmt.Printf("Build time: %s\n", buildTime)
		os.Exit(0)
	}

	if flag.NArg() < 1 {
		showUsage(os.Stdout)
		os.Exit(1)
	}

	cfg, path, err := loadConfiguration()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := applyCommandLineOverrides(cfg); err != nil {
		log.Fatalf("Invalid command line options: %v", err)
	}

	command := flag.Arg(0)
	if command == "config" {
		showConfiguration(os.Stdout, cfg, path)
		return
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	logging.SetGlobalLogger(logger)

	service, err := daemon.NewService(cfg, path, logger)
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runCommand(ctx, os.Stdout, service, command); err != nil {
		if errors.Is(err, errUnknownCommand) {
			fmt.Printf("Unknown command: %s\n\n", command)
			showUsage(os.Stdout)
			os.Exit(1)
		}

		log.Fatalf("%s failed: %v", command, err)
	}
}

var errUnknownCommand = errors.New("unknown command")

// serviceCommands is the part of daemon.Service the commands use.
type serviceCommands interface {
	Run(ctx context.Context) error
	Test(ctx context.Context) error
	Install() (string, error)
	Remove() (string, error)
	StartService() (string, error)
	StopService() (string, error)
	Status() (string, error)
}

func runCommand(ctx context.Context, out io.Writer, service serviceCommands, command string) error {
	var (
		status string
		err    error
	)

	switch command {
	case "run":
		return service.Run(ctx)
	case "test":
		if err := service.Test(ctx); err != nil {
			return err
		}

		fmt.Fprintln(out, "Test successful!")

		return nil
	case "install":
		status, err = service.Install()
	case "remove", "uninstall":
		status, err = service.Remove()
	case "start":
		status, err = service.StartService()
	case "stop":
		status, err = service.StopService()
	case "status":
		status, err = service.Status()
	default:
		return fmt.Errorf("%w: %s", errUnknownCommand, command)
	}

	if err != nil {
		return err
	}

	fmt.Fprintln(out, status)

	return nil
}

// loadConfiguration returns the configuration and the file it came from. The
// path is empty when no file was found and the defaults are used.
func loadConfiguration() (*config.Config, string, error) {
	if *configPath != "" {
		cfg, err := config.LoadConfig(*configPath)
		return cfg, *configPath, err
	}

	configFile, err := config.FindConfig()
	if err != nil {
		log.Printf("No configuration file found, using defaults")

		return config.DefaultConfig(), "", nil //nolint:nilerr
	}

	cfg, err := config.LoadConfig(configFile)

	return cfg, configFile, err
}

func applyCommandLineOverrides(cfg *config.Config) error {
	if *matrixPort != "" {
		cfg.Matrix.Serial.Port = *matrixPort
	}

	if *brightness >= 0 && *brightness <= 255 {
		cfg.Matrix.Brightness = byte(*brightness)
	}

	if *providerKind != "" {
		cfg.Provider.Kind = *providerKind
	}

	if *sinkKind != "" {
		cfg.Matrix.Sink = *sinkKind
	}

	if *logLevel != "" {
		cfg.Logging.Level = logging.LogLevel(*logLevel)
	}

	return cfg.Validate()
}

func showUsage(w io.Writer) {
	fmt.Fprintf(w, `%s - scrolls the currently playing track across an LED matrix

USAGE:
    %s [OPTIONS] <COMMAND>

COMMANDS:
    run                 Run the daemon in foreground mode
    install             Install the daemon as a system service
    remove, uninstall   Remove the daemon service
    start               Start the installed daemon service
    stop                Stop the running daemon service
    status              Show the daemon service status
    config              Show current configuration
    test                Fetch one status and light a test pattern

OPTIONS:
    -config string      Path to configuration file (yaml, or toml for .toml)
    -port string        Serial port for the LED matrix
    -brightness int     LED brightness cap (0-255)
    -provider string    Status provider (http, mqtt, hybrid, mpris, file)
    -sink string        Matrix sink (serial, ws281x, terminal, none)
    -log-level string   Set log level (debug, info, warn, error)
    -version            Show version information
    -help               Show this help message

EXAMPLES:
    %s run                                       # Run in foreground
    %s -config /etc/nowplaying.yaml run          # Run with custom config
    %s -port /dev/ttyACM0 -brightness 32 run     # Run with overrides
    %s -sink terminal -provider file run         # Preview in the terminal
    %s install                                   # Install as system service
    %s test                                      # Check provider and matrix

CONFIGURATION:
    The daemon looks for configuration files in the following order:
    1. Path specified by -config flag
    2. $XDG_CONFIG_HOME/%s/config.yaml
    3. $HOME/.config/%s/config.yaml
    4. /etc/%s/config.yaml
    5. ./configs/config.yaml

    Secrets may be given in the environment or a .env file next to the
    config file: %s, %s, %s, %s, %s.

    Send SIGHUP to reload the configuration without restarting.

`, name, name, name, name, name, name, name, name, name, name, name,
		config.EnvEndpoint, config.EnvToken, config.EnvMQTTBroker, config.EnvMQTTUsername, config.EnvMQTTPassword)
}

func showConfiguration(w io.Writer, cfg *config.Config, path string) {
	if path == "" {
		path = "(defaults)"
	}

	fmt.Fprintf(w, "Current Configuration: %s\n", path)
	fmt.Fprintf(w, "  Matrix:\n")
	fmt.Fprintf(w, "    Sink: %s\n", cfg.Matrix.Sink)

	if len(cfg.Matrix.Mirror) > 0 {
		fmt.Fprintf(w, "    Mirror: %s\n", strings.Join(cfg.Matrix.Mirror, ", "))
	}

	fmt.Fprintf(w, "    Size: %dx%d\n", cfg.Matrix.Width, cfg.Matrix.Height)
	fmt.Fprintf(w, "    Wiring: %s, %s, %s (chunk %d)\n", cfg.Matrix.Start, cfg.Matrix.Major, cfg.Matrix.Sequence, cfg.Matrix.ChunkWidth)
	fmt.Fprintf(w, "    Brightness: %d\n", cfg.Matrix.Brightness)

	if cfg.Matrix.Sink == "serial" {
		fmt.Fprintf(w, "    Serial Port: %s (auto discover: %t)\n", cfg.Matrix.Serial.Port, cfg.Matrix.Serial.AutoDiscover)
		fmt.Fprintf(w, "    Baud Rate: %d\n", cfg.Matrix.Serial.BaudRate)
	}

	fmt.Fprintf(w, "  Display:\n")
	fmt.Fprintf(w, "    Frame Interval: %s\n", cfg.Display.FrameInterval)
	fmt.Fprintf(w, "    Idle: %s\n", cfg.Display.Idle)
	fmt.Fprintf(w, "    Show Artist: %t\n", cfg.Display.ShowArtist)
	fmt.Fprintf(w, "    Progress Rows: %d\n", cfg.Display.ProgressRows)
	fmt.Fprintf(w, "  Provider:\n")
	fmt.Fprintf(w, "    Kind: %s\n", cfg.Provider.Kind)
	fmt.Fprintf(w, "    Poll Interval: %s (min %s)\n", cfg.Provider.PollInterval, cfg.Provider.MinPollInterval)

	switch cfg.Provider.Kind {
	case "http", "hybrid":
		fmt.Fprintf(w, "    Endpoint: %s\n", cfg.Provider.HTTP.Endpoint)
		fmt.Fprintf(w, "    Token: %s\n", mask(cfg.Provider.HTTP.Token))
	}

	switch cfg.Provider.Kind {
	case "mqtt", "hybrid":
		fmt.Fprintf(w, "    Broker: %s\n", cfg.Provider.MQTT.Broker)
		fmt.Fprintf(w, "    Topic: %s\n", cfg.Provider.MQTT.Topic)
		fmt.Fprintf(w, "    Password: %s\n", mask(cfg.Provider.MQTT.Password))
	case "mpris":
		fmt.Fprintf(w, "    Player: %s\n", cfg.Provider.MPRIS.Player)
	case "file":
		fmt.Fprintf(w, "    Path: %s\n", cfg.Provider.File.Path)
	}

	fmt.Fprintf(w, "  API:\n")
	fmt.Fprintf(w, "    Enabled: %t\n", cfg.API.Enabled)

	if cfg.API.Enabled {
		fmt.Fprintf(w, "    Listen: %s (stream frames: %t)\n", cfg.API.Listen, cfg.API.StreamFrames)
	}

	fmt.Fprintf(w, "  Logging: %s, %s, %s\n", cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
}

func mask(secret string) string {
	if secret == "" {
		return "(not set)"
	}

	return "********"
}
