package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/chatrelay/linedify/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and environment health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("linedify doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults + env)")
	} else {
		fmt.Println(" (OK)")
	}

	// Load validates; keep going on failure so the checks below still print.
	cfg, err := config.Load(cfgPath)
	if cfg == nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Credentials:")
	printCheck("LINE channel secret", cfg.Line.ChannelSecret != "")
	printCheck("LINE channel token", cfg.Line.ChannelToken != "")
	printCheck("Dify API key", cfg.Dify.APIKey != "")

	fmt.Println()
	fmt.Println("  Relay:")
	fmt.Printf("    %-22s %s\n", "Delivery mode:", cfg.Relay.Mode)
	fmt.Printf("    %-22s %ds idle / %ds overall\n", "Deadlines:", cfg.Relay.IdleTimeoutSec, cfg.Relay.OverallTimeoutSec)
	fmt.Printf("    %-22s %d chars\n", "Outbound limit:", cfg.Relay.MaxTextChars)

	if cfg.Filter.File != "" {
		fmt.Println()
		fmt.Printf("  Filter file: %s", cfg.Filter.File)
		if _, err := config.LoadFilterFile(cfg.Filter.File, cfg.Filter); err != nil {
			fmt.Printf(" (ERROR: %s)\n", err)
		} else {
			fmt.Println(" (OK)")
		}
	}

	if cfg.Monitor.Enabled {
		fmt.Println()
		fmt.Println("  Monitor sidecar:")
		fmt.Printf("    %-22s %s\n", "Listen:", cfg.Monitor.Listen)
		printCheck("Upstream URL", cfg.Monitor.UpstreamURL != "")
	}

	fmt.Println()
	if err != nil {
		fmt.Printf("  Validation: FAILED (%s)\n", err)
		return
	}
	fmt.Println("  Validation: OK")
}

func printCheck(label string, ok bool) {
	status := "MISSING"
	if ok {
		status = "OK"
	}
	fmt.Printf("    %-22s %s\n", label+":", status)
}
