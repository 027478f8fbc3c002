package repo

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/Itwoss/pulse/version"
	"github.com/jessevdk/go-flags"
	"github.com/natefinch/lumberjack"
	"github.com/op/go-logging"
)

const (
	defaultConfigFilename = "pulse.conf"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "pulse.log"

	defaultGatewayURL           = "ws://localhost:8585/v1/ws"
	defaultAPIURL               = "http://localhost:8585/v1"
	defaultPollInterval         = 30
	defaultPollTimeout          = 15
	defaultPageSize             = 20
	defaultReconnectBase        = 1
	defaultReconnectCeiling     = 30
	defaultMaxReconnectAttempts = 10
)

var (
	// DefaultHomeDir is the default data directory.
	DefaultHomeDir = AppDataDir("pulse", false)

	defaultConfigFile = filepath.Join(DefaultHomeDir, defaultConfigFilename)
	defaultLogDir     = filepath.Join(DefaultHomeDir, defaultLogDirname)

	fileLogFormat   = logging.MustStringFormatter(`%{time:2006-01-02T15:04:05} [%{level}] [%{module}] %{message}`)
	stdoutLogFormat = logging.MustStringFormatter(`%{color:reset}%{color}%{time:15:04:05.000} [%{level}] [%{module}] %{message}`)
)

// Config defines the configuration options for the pulse client.
//
// See LoadConfig for details on the configuration load process.
type Config struct {
	ShowVersion bool   `short:"v" long:"version" description:"Display version information and exit"`
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir     string `short:"d" long:"datadir" description:"Directory to store data"`
	LogDir      string `long:"logdir" description:"Directory to log output."`
	LogLevel    string `short:"l" long:"loglevel" description:"set the logging level [debug, info, notice, warning, error, critical]" default:"info"`

	GatewayURL string `long:"gatewayurl" description:"Websocket URL of the notification gateway"`
	APIURL     string `long:"apiurl" description:"Base URL of the notification REST API"`
	AuthToken  string `long:"authtoken" description:"Credential sent with the identity handshake and REST requests"`
	UserID     string `short:"u" long:"userid" description:"User ID to connect as"`
	Role       string `short:"r" long:"role" description:"Role of the user (user or admin)" default:"user"`

	PollInterval         uint `long:"pollinterval" description:"Seconds between fallback polls of the notification list" default:"30"`
	PollTimeout          uint `long:"polltimeout" description:"Seconds before an individual poll fetch is abandoned" default:"15"`
	PageSize             uint `long:"pagesize" description:"Maximum number of notifications fetched per poll" default:"20"`
	ReconnectBase        uint `long:"reconnectbase" description:"Base reconnect delay in seconds" default:"1"`
	ReconnectCeiling     uint `long:"reconnectceiling" description:"Maximum reconnect delay in seconds" default:"30"`
	MaxReconnectAttempts uint `long:"maxreconnectattempts" description:"Number of failed reconnect attempts before giving up" default:"10"`
}

// LoadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
// 	1) Start with a default config with sane settings
// 	2) Pre-parse the command line to check for an alternative config file
// 	3) Load configuration file overwriting defaults with any specified options
// 	4) Parse CLI options and overwrite/add any specified options
//
// The above results in the client functioning properly without any config
// settings while still allowing the user to override settings with config
// files and command line options. Command line options always take
// precedence.
func LoadConfig() (*Config, error) {
	// Default config.
	cfg := Config{
		DataDir:    DefaultHomeDir,
		ConfigFile: defaultConfigFile,
		LogDir:     defaultLogDir,
		GatewayURL: defaultGatewayURL,
		APIURL:     defaultAPIURL,

		PollInterval:         defaultPollInterval,
		PollTimeout:          defaultPollTimeout,
		PageSize:             defaultPageSize,
		ReconnectBase:        defaultReconnectBase,
		ReconnectCeiling:     defaultReconnectCeiling,
		MaxReconnectAttempts: defaultMaxReconnectAttempts,
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified. Any errors aside from the
	// help message error can be ignored here since they will be caught by
	// the final parse below.
	preCfg := cfg
	preParser := flags.NewParser(&cfg, flags.HelpFlag)
	_, err := preParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			return nil, err
		}
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version.String())
		os.Exit(0)
	}

	// Load additional config from file.
	var configFileError error
	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := os.Stat(preCfg.ConfigFile); os.IsNotExist(err) {
		err := createDefaultConfigFile(preCfg.ConfigFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating a "+
				"default config file: %v\n", err)
		}
	}

	err = flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			fmt.Fprintf(os.Stderr, "Error parsing config "+
				"file: %v\n", err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, err
		}
		configFileError = err
	}

	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)

	setupLogging(cfg.LogDir, cfg.LogLevel)

	// Warn about missing config file only after all other configuration is
	// done. This prevents the warning on help messages and invalid
	// options. Note this should go directly before the return.
	if configFileError != nil {
		log.Warningf("%v", configFileError)
	}
	return &cfg, nil
}

const sampleConfig = `; The directory to store data such as the notification cache.
; datadir=~/.pulse

; Websocket URL of the notification gateway.
; gatewayurl=ws://localhost:8585/v1/ws

; Base URL of the notification REST API.
; apiurl=http://localhost:8585/v1

; Credential sent with the identity handshake and REST requests.
; authtoken=

; Identity to connect as.
; userid=
; role=user

; Seconds between fallback polls of the notification list.
; pollinterval=30

; Seconds before an individual poll fetch is abandoned.
; polltimeout=15

; Maximum number of notifications fetched per poll.
; pagesize=20

; Reconnect backoff. The delay starts at reconnectbase, doubles per
; attempt, and never exceeds reconnectceiling. After
; maxreconnectattempts consecutive failures the client stops retrying.
; reconnectbase=1
; reconnectceiling=30
; maxreconnectattempts=10

; Debug logging level: {debug, info, notice, warning, error, critical}
; loglevel=info
`

// createDefaultConfigFile writes the sample config to the given
// destination path.
func createDefaultConfigFile(destinationPath string) error {
	// Create the destination directory if it does not exist.
	err := os.MkdirAll(filepath.Dir(destinationPath), 0700)
	if err != nil {
		return err
	}

	dest, err := os.OpenFile(destinationPath,
		os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer dest.Close()

	_, err = dest.WriteString(sampleConfig)
	return err
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(DefaultHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but they variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

func setupLogging(logDir, logLevel string) {
	backendStdout := logging.NewLogBackend(os.Stdout, "", 0)
	backendStdoutFormatter := logging.NewBackendFormatter(backendStdout, stdoutLogFormat)

	if logDir != "" {
		rotator := &lumberjack.Logger{
			Filename:   path.Join(logDir, defaultLogFilename),
			MaxSize:    10, // Megabytes
			MaxBackups: 3,
			MaxAge:     30, // Days
		}

		backendFile := logging.NewLogBackend(rotator, "", 0)
		backendFileFormatter := logging.NewBackendFormatter(backendFile, fileLogFormat)
		logging.SetBackend(backendStdoutFormatter, backendFileFormatter)
	} else {
		logging.SetBackend(backendStdoutFormatter)
	}

	var level logging.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = logging.DEBUG
	case "info":
		level = logging.INFO
	case "notice":
		level = logging.NOTICE
	case "warning":
		level = logging.WARNING
	case "error":
		level = logging.ERROR
	case "critical":
		level = logging.CRITICAL
	default:
		level = logging.INFO
	}
	logging.SetLevel(level, "")
}
