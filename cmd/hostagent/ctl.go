package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/siegeup/hostagent/pkg/client"
	"github.com/siegeup/hostagent/pkg/config"
)

// Operator subcommands talk to a running agent over its control API.

func init() {
	serverCmd.PersistentFlags().String("addr", fmt.Sprintf("127.0.0.1:%d", config.DefaultAPIPort), "agent API address")
	serverLogsCmd.Flags().Int("index", 0, "0 = newest log, 1 = previous, ...")

	serverCmd.AddCommand(serverStatusCmd)
	serverCmd.AddCommand(serverRestartCmd)
	serverCmd.AddCommand(serverLogsCmd)
	serverCmd.AddCommand(serverUploadCmd)
	serverCmd.AddCommand(serverPurgeCmd)
	serverCmd.AddCommand(serverUpdateCmd)
	rootCmd.AddCommand(serverCmd)
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Inspect and control a running agent",
}

func agentClient(cmd *cobra.Command) *client.Client {
	addr, _ := cmd.Flags().GetString("addr")
	return client.NewClient(addr)
}

var serverStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show host and server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := agentClient(cmd).Status(context.Background())
		if err != nil {
			return err
		}

		fmt.Printf("Host: %s (%s)\n", report.Hostname, report.Platform)
		fmt.Printf("Memory: %d/%d MB  CPU: %.1f%%\n", report.UsedMemMB, report.TotalMemMB, report.CPUUsage)
		fmt.Printf("Builds: %v\n", report.Archives)
		fmt.Println()

		if len(report.Servers) == 0 {
			fmt.Println("No servers configured.")
			return nil
		}
		for _, srv := range report.Servers {
			state := "stopped"
			if srv.Running {
				state = fmt.Sprintf("running pid=%d mem=%.0fMB", srv.PID, srv.MemoryMB)
			}
			fmt.Printf("  %-20s port=%d version=%s %s\n", srv.Name, srv.Port, srv.Version, state)
			if srv.LaunchError != "" {
				fmt.Printf("    error: %s\n", srv.LaunchError)
			}
		}
		return nil
	},
}

var serverRestartCmd = &cobra.Command{
	Use:   "restart <port>",
	Short: "Restart the server on a port",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var port int
		if _, err := fmt.Sscanf(args[0], "%d", &port); err != nil {
			return fmt.Errorf("invalid port %q", args[0])
		}
		if err := agentClient(cmd).Restart(context.Background(), port); err != nil {
			return err
		}
		fmt.Printf("Server on port %d restarting\n", port)
		return nil
	},
}

var serverLogsCmd = &cobra.Command{
	Use:   "logs <port>",
	Short: "Print the tail of a server's latest log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var port int
		if _, err := fmt.Sscanf(args[0], "%d", &port); err != nil {
			return fmt.Errorf("invalid port %q", args[0])
		}
		index, _ := cmd.Flags().GetInt("index")

		tail, err := agentClient(cmd).Logs(context.Background(), port, index)
		if err != nil {
			return err
		}
		fmt.Printf("== %s (%d bytes)\n", tail.Name, tail.Size)
		fmt.Print(tail.Content)
		return nil
	},
}

var serverUploadCmd = &cobra.Command{
	Use:   "upload <archive.zip>",
	Short: "Upload a build archive to the agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := agentClient(cmd).Upload(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Uploaded %s\n", args[0])
		return nil
	},
}

var serverPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete build versions no running server uses",
	RunE: func(cmd *cobra.Command, args []string) error {
		purged, err := agentClient(cmd).Purge(context.Background())
		if err != nil {
			return err
		}
		if len(purged) == 0 {
			fmt.Println("Nothing to purge.")
			return nil
		}
		for _, version := range purged {
			fmt.Printf("Purged %s\n", version)
		}
		return nil
	},
}

var serverUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Ask the agent to exit for a binary update",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := agentClient(cmd).Update(context.Background()); err != nil {
			return err
		}
		fmt.Println("Agent is shutting down for update.")
		return nil
	},
}
