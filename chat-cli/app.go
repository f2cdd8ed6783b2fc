// Package chatcli provides the CLI boilerplate shared by the chat services:
// service identity, common flags, structured logging and CloudWatch metrics.
package chatcli

import (
	"fmt"
	"runtime/debug"

	"github.com/urfave/cli/v2"
)

func App(service Service, action cli.ActionFunc, flags ...cli.Flag) *cli.App {
	return &cli.App{
		Name:                 service.Name,
		Usage:                fmt.Sprintf("%v WebSocket service", service.Name),
		Version:              service.Version,
		EnableBashCompletion: true,
		Before:               InitCommonOpts,
		Action:               action,
		Flags:                flags,
	}
}

// InitCommonOpts validates CommonOpts after flag parsing. Console runs always
// need a port to listen on.
func InitCommonOpts(c *cli.Context) error {
	if _, err := ParseLevel(CommonOpts.LogLevel); err != nil {
		return err
	}
	if CommonOpts.Console && CommonOpts.Port <= 0 {
		return fmt.Errorf("console mode requires a positive --port, got %v", CommonOpts.Port)
	}
	return nil
}

func CommitHash() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				return setting.Value
			}
		}
		return info.Main.Version
	}
	return "unknown"
}
