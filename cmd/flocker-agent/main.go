// Command flocker-agent runs the Convergence Agent (C6) on a single
// node: it dials the control service, converges local containers and
// volumes against the desired Deployment, and reports observed state
// back. Structured as a cobra command tree mirroring cmd/warren/main.go's
// worker subcommand shape (workerCmd -> workerStartCmd), plus a "join"
// step that finalizes the node certificate an operator copied in via
// 'flocker-control control issue-node-cert'.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/flocker-cluster/flocker/pkg/agent"
	"github.com/flocker-cluster/flocker/pkg/blockdevice"
	"github.com/flocker-cluster/flocker/pkg/config"
	"github.com/flocker-cluster/flocker/pkg/engine"
	"github.com/flocker-cluster/flocker/pkg/logging"
	"github.com/flocker-cluster/flocker/pkg/metrics"
	"github.com/flocker-cluster/flocker/pkg/security"
	"github.com/flocker-cluster/flocker/pkg/snapshot"
	"github.com/flocker-cluster/flocker/pkg/wire"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "flocker-agent",
	Short: "Flocker convergence agent",
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Convergence agent lifecycle commands",
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	rootCmd.AddCommand(agentCmd)
	agentCmd.AddCommand(agentJoinCmd)
	agentCmd.AddCommand(agentStartCmd)

	agentJoinCmd.Flags().String("cert-src", "", "Directory holding node.crt/node.key/ca.crt issued by the control service (required)")
	agentJoinCmd.Flags().String("cert-dir", "", "Destination certificate directory (defaults to <data-dir>/certs)")
}

func initLogging(cmd *cobra.Command) {
	level, _ := cmd.Flags().GetString("log-level")
	jsonOutput, _ := cmd.Flags().GetBool("log-json")
	logging.Init(logging.Config{Level: logging.Level(level), JSONOutput: jsonOutput})
}

func certDirFor(cfg config.Agent, override string) string {
	if override != "" {
		return override
	}
	return filepath.Join(cfg.DataDir, "certs")
}

var agentJoinCmd = &cobra.Command{
	Use:   "join",
	Short: "Finalize this node's certificate material ahead of 'agent start'",
	Long: `Validates the node.crt/node.key/ca.crt written by
'flocker-control control issue-node-cert' and installs them into this
node's certificate directory. The root CA's private key never crosses
the network: only the already-issued node certificate and the public CA
certificate are copied.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		initLogging(cmd)
		log := logging.WithComponent("agent")

		cfg, err := config.LoadAgent()
		if err != nil {
			return err
		}
		certSrc, _ := cmd.Flags().GetString("cert-src")
		if certSrc == "" {
			return fmt.Errorf("--cert-src is required")
		}
		override, _ := cmd.Flags().GetString("cert-dir")
		certDir := certDirFor(cfg, override)

		cert, err := security.LoadCertFromFile(certSrc)
		if err != nil {
			return fmt.Errorf("load issued certificate from %s: %w", certSrc, err)
		}
		caCert, err := security.LoadCACertFromFile(certSrc)
		if err != nil {
			return fmt.Errorf("load CA certificate from %s: %w", certSrc, err)
		}

		if err := security.SaveCertToFile(cert, certDir); err != nil {
			return fmt.Errorf("install node certificate: %w", err)
		}
		if err := security.SaveCACertToFile(caCert.Raw, certDir); err != nil {
			return fmt.Errorf("install CA certificate: %w", err)
		}

		log.Info().Str("node_uuid", cfg.NodeUUID).Str("cert_dir", certDir).Msg("node certificate installed")
		return nil
	},
}

var agentStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the convergence loop against the control service",
	RunE: func(cmd *cobra.Command, args []string) error {
		initLogging(cmd)
		log := logging.WithComponent("agent")
		metrics.SetVersion("0.1.0")

		cfg, err := config.LoadAgent()
		if err != nil {
			return err
		}
		certDir := certDirFor(cfg, "")
		if !security.CertExists(certDir) {
			return fmt.Errorf("no certificate material in %s; run 'flocker-agent agent join' first", certDir)
		}

		nodeCert, err := security.LoadCertFromFile(certDir)
		if err != nil {
			return fmt.Errorf("load node certificate: %w", err)
		}
		caCert, err := security.LoadCACertFromFile(certDir)
		if err != nil {
			return fmt.Errorf("load CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		pool.AddCert(caCert)
		tlsConfig := &tls.Config{
			Certificates: []tls.Certificate{*nodeCert},
			RootCAs:      pool,
			MinVersion:   tls.VersionTLS12,
		}

		eng, err := engine.New(cfg.ContainerdSocket)
		if err != nil {
			return fmt.Errorf("connect to containerd at %s: %w", cfg.ContainerdSocket, err)
		}
		defer eng.Close()

		volumeDir := filepath.Join(cfg.DataDir, "volumes")
		volumes, err := blockdevice.NewLoopbackDriver(volumeDir, cfg.ClusterID)
		if err != nil {
			return fmt.Errorf("create loopback volume driver: %w", err)
		}

		snapshots := snapshot.NewFilesystemStore(cfg.SnapshotPool)

		instanceID, err := volumes.ComputeInstanceID(context.Background())
		if err != nil {
			return fmt.Errorf("determine instance id: %w", err)
		}

		dialer := wire.NewDialer(cfg.ControlAddr, tlsConfig)
		ag := agent.New(cfg.NodeUUID, dialer, eng, volumes, snapshots, instanceID)
		ag.SetTickInterval(cfg.TickInterval)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		metrics.SetCriticalComponents("engine", "wire")
		metrics.RegisterComponent("engine", true, "ready")
		metrics.RegisterComponent("wire", true, "ready")

		metricsAddr := "127.0.0.1:9091"
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			mux.Handle("/health", metrics.HealthHandler())
			mux.Handle("/ready", metrics.ReadyHandler())
			mux.Handle("/live", metrics.LivenessHandler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil && err != http.ErrServerClosed {
				log.Warn().Err(err).Msg("metrics server error")
			}
		}()
		log.Info().Str("addr", metricsAddr).Msg("metrics/health endpoints listening")

		go ag.Run(ctx)

		log.Info().
			Str("node_uuid", cfg.NodeUUID).
			Str("control_addr", cfg.ControlAddr).
			Str("instance_id", instanceID).
			Msg("convergence agent started")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		log.Info().Msg("shutting down")

		cancel()
		time.Sleep(200 * time.Millisecond) // let the convergence loop observe ctx.Done and return

		log.Info().Msg("shutdown complete")
		return nil
	},
}
