package main

import "github.com/urfave/cli/v3"

var (
	logLevel   string
	logFormat  string
	debug      bool
	configFile string
	cacheSize  int
	eager      bool
)

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml (default: ~/.config/loraspect/config.yaml)",
			Destination: &configFile,
		},
	}
}

// loadFlags control how adapter files are loaded.
func loadFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "cache-size",
			Usage:       "reconstructed weights kept in memory (0 disables the cache)",
			Value:       16,
			Destination: &cacheSize,
		},
		&cli.BoolFlag{
			Name:        "eager",
			Usage:       "decode every tensor up front instead of memory mapping the file",
			Destination: &eager,
		},
	}
}
