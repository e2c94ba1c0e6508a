// Command flocker-control runs the Control Service (C5) and its REST API
// (C7), and provides the operator subcommands that bootstrap the
// cluster's certificate authority and enroll new agent nodes. Structured
// as a cobra command tree following cmd/warren/main.go's shape: a root
// command with shared logging flags, one subcommand per lifecycle
// action, each RunE doing its own full bootstrap/shutdown.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/flocker-cluster/flocker/pkg/clusterstate"
	"github.com/flocker-cluster/flocker/pkg/config"
	"github.com/flocker-cluster/flocker/pkg/configstore"
	"github.com/flocker-cluster/flocker/pkg/control"
	"github.com/flocker-cluster/flocker/pkg/logging"
	"github.com/flocker-cluster/flocker/pkg/metrics"
	"github.com/flocker-cluster/flocker/pkg/restapi"
	"github.com/flocker-cluster/flocker/pkg/security"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "flocker-control",
	Short: "Flocker cluster control service",
}

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Cluster-wide, one-time setup commands",
}

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Control service lifecycle commands",
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	rootCmd.AddCommand(clusterCmd)
	clusterCmd.AddCommand(clusterInitCACmd)

	rootCmd.AddCommand(controlCmd)
	controlCmd.AddCommand(controlStartCmd)
	controlCmd.AddCommand(controlIssueNodeCertCmd)

	controlIssueNodeCertCmd.Flags().String("node-uuid", "", "Node UUID to issue a certificate for (required)")
	controlIssueNodeCertCmd.Flags().String("out", "", "Directory to write node.crt/node.key/ca.crt into (required)")
	controlIssueNodeCertCmd.Flags().StringSlice("dns", nil, "DNS names the certificate should be valid for")
}

func initLogging(cmd *cobra.Command) {
	level, _ := cmd.Flags().GetString("log-level")
	jsonOutput, _ := cmd.Flags().GetBool("log-json")
	logging.Init(logging.Config{Level: logging.Level(level), JSONOutput: jsonOutput})
}

// openCAStore creates cfg.CADir if needed and opens the bolt-backed CA
// store inside it.
func openCAStore(cadir string) (*security.BoltCAStore, error) {
	if err := os.MkdirAll(cadir, 0o700); err != nil {
		return nil, fmt.Errorf("create CA directory: %w", err)
	}
	return security.OpenBoltCAStore(filepath.Join(cadir, "ca.db"))
}

var clusterInitCACmd = &cobra.Command{
	Use:   "init-ca",
	Short: "Generate and persist the cluster's self-signed root CA",
	RunE: func(cmd *cobra.Command, args []string) error {
		initLogging(cmd)
		log := logging.WithComponent("control")

		cfg, err := config.LoadControl()
		if err != nil {
			return err
		}

		caStore, err := openCAStore(cfg.CADir)
		if err != nil {
			return fmt.Errorf("open CA store: %w", err)
		}
		defer caStore.Close()

		ca, err := security.NewCertAuthority(caStore, cfg.ClusterID)
		if err != nil {
			return fmt.Errorf("create certificate authority: %w", err)
		}
		if err := ca.Initialize(); err != nil {
			return fmt.Errorf("initialize root CA: %w", err)
		}
		if err := ca.SaveToStore(); err != nil {
			return fmt.Errorf("persist root CA: %w", err)
		}
		if err := security.SaveCACertToFile(ca.GetRootCACert(), cfg.CADir); err != nil {
			return fmt.Errorf("write ca.crt: %w", err)
		}

		log.Info().Str("cluster_id", cfg.ClusterID).Str("ca_dir", cfg.CADir).Msg("cluster CA initialized")
		return nil
	},
}

var controlStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the control service and REST API",
	RunE: func(cmd *cobra.Command, args []string) error {
		initLogging(cmd)
		log := logging.WithComponent("control")
		metrics.SetVersion("0.1.0")

		cfg, err := config.LoadControl()
		if err != nil {
			return err
		}

		caStore, err := openCAStore(cfg.CADir)
		if err != nil {
			return fmt.Errorf("open CA store: %w", err)
		}
		defer caStore.Close()

		ca, err := security.NewCertAuthority(caStore, cfg.ClusterID)
		if err != nil {
			return fmt.Errorf("create certificate authority: %w", err)
		}
		if err := ca.LoadFromStore(); err != nil {
			return fmt.Errorf("load root CA (run 'flocker-control cluster init-ca' first): %w", err)
		}

		controlCert, err := ca.IssueControlCertificate(nil, nil)
		if err != nil {
			return fmt.Errorf("issue control certificate: %w", err)
		}
		tlsConfig := ca.ServerTLSConfig(controlCert)

		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
		cfgStore, err := configstore.Open(filepath.Join(cfg.DataDir, "deployment.db"))
		if err != nil {
			return fmt.Errorf("open configuration store: %w", err)
		}
		defer cfgStore.Close()

		clusterState := clusterstate.New(cfg.NodeStateTTL)

		svc := control.NewService(cfgStore, clusterState)

		wireListener, err := tls.Listen("tcp", cfg.WireAddr, tlsConfig)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", cfg.WireAddr, err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		collector := metrics.NewCollector(clusterState, svc, 15*time.Second)
		collector.Start()

		metrics.SetCriticalComponents("configstore", "restapi", "wire")
		metrics.RegisterComponent("configstore", true, "ready")
		metrics.RegisterComponent("restapi", false, "initializing")
		metrics.RegisterComponent("wire", false, "initializing")

		metricsAddr := "127.0.0.1:9090"
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

		errCh := make(chan error, 2)
		go func() {
			svc.Run(ctx)
		}()
		go func() {
			if err := svc.Serve(ctx, wireListener); err != nil {
				errCh <- fmt.Errorf("control wire listener: %w", err)
			}
		}()
		metrics.RegisterComponent("wire", true, "ready")

		restServer := restapi.New(cfgStore, clusterState, rate.Limit(cfg.RESTRateLimit))
		go func() {
			if err := restServer.Serve(ctx, cfg.RESTAddr, tlsConfig); err != nil {
				errCh <- fmt.Errorf("rest api listener: %w", err)
			}
		}()
		metrics.RegisterComponent("restapi", true, "ready")

		log.Info().
			Str("wire_addr", cfg.WireAddr).
			Str("rest_addr", cfg.RESTAddr).
			Str("cluster_id", cfg.ClusterID).
			Msg("control service started")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			log.Info().Msg("shutting down")
		case err := <-errCh:
			log.Error().Err(err).Msg("component failed")
		}

		cancel()
		collector.Stop()
		_ = wireListener.Close()
		time.Sleep(200 * time.Millisecond) // let in-flight Serve goroutines observe ctx.Done and return

		log.Info().Msg("shutdown complete")
		return nil
	},
}

var controlIssueNodeCertCmd = &cobra.Command{
	Use:   "issue-node-cert",
	Short: "Issue a node certificate for an agent, to be copied to the agent host",
	Long: `Issues a node certificate signed by the cluster's root CA and writes
node.crt, node.key and ca.crt to --out. The operator is expected to copy
that directory to the target node and run 'flocker-agent agent join'
there, so the root private key never crosses the network.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		initLogging(cmd)

		nodeUUID, _ := cmd.Flags().GetString("node-uuid")
		outDir, _ := cmd.Flags().GetString("out")
		dnsNames, _ := cmd.Flags().GetStringSlice("dns")
		if nodeUUID == "" || outDir == "" {
			return fmt.Errorf("--node-uuid and --out are required")
		}

		cfg, err := config.LoadControl()
		if err != nil {
			return err
		}

		caStore, err := openCAStore(cfg.CADir)
		if err != nil {
			return fmt.Errorf("open CA store: %w", err)
		}
		defer caStore.Close()

		ca, err := security.NewCertAuthority(caStore, cfg.ClusterID)
		if err != nil {
			return fmt.Errorf("create certificate authority: %w", err)
		}
		if err := ca.LoadFromStore(); err != nil {
			return fmt.Errorf("load root CA (run 'flocker-control cluster init-ca' first): %w", err)
		}

		cert, err := ca.IssueNodeCertificate(nodeUUID, dnsNames, nil)
		if err != nil {
			return fmt.Errorf("issue node certificate: %w", err)
		}
		if err := security.SaveCertToFile(cert, outDir); err != nil {
			return fmt.Errorf("write node certificate: %w", err)
		}
		if err := security.SaveCACertToFile(ca.GetRootCACert(), outDir); err != nil {
			return fmt.Errorf("write ca.crt: %w", err)
		}

		fmt.Printf("Issued certificate for node %s in %s\n", nodeUUID, outDir)
		fmt.Println("Copy this directory to the agent host, then run:")
		fmt.Printf("  flocker-agent agent join --cert-src %s --cert-dir <agent data dir>/certs\n", outDir)
		return nil
	},
}

