package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/fleetd/fleetd/api/rpc"
	"github.com/fleetd/fleetd/internal/config"
	"github.com/fleetd/fleetd/internal/daemon"
	"github.com/fleetd/fleetd/internal/imagehost"
	"github.com/fleetd/fleetd/internal/imagevault"
	"github.com/fleetd/fleetd/internal/instance"
	"github.com/fleetd/fleetd/internal/libvirt"
	"github.com/fleetd/fleetd/internal/libvirtfactory"
	"github.com/fleetd/fleetd/internal/rpcauth"
	"github.com/fleetd/fleetd/internal/settings"
	"github.com/fleetd/fleetd/internal/storage"
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	flagVerbosity int
	flagLogger    string
	flagAddress   string
	flagConfig    string
)

// settingsRoot is the `<root>` prefix of instance/snapshot settings keys
// (`<root>.<instance>.{cpus|memory|disk|bridged}`); multipass-style
// deployments all key off a single local backend, so this daemon does
// the same rather than inventing a second backend namespace.
const settingsRoot = "local"

// manifestRemoteTTL bounds how long imagehost trusts a cached manifest
// before re-querying the blueprints server. imageCacheTTL is the age
// after which imagevault's PruneExpiredImages treats an unused image as
// expired. manifestRefreshInterval is the background manifest refresh
// period.
const (
	manifestRemoteTTL       = 10 * time.Minute
	imageCacheTTL           = time.Minute
	manifestRefreshInterval = 6 * time.Hour
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "fleetd",
	Short:   "fleetd - the VM orchestration daemon",
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.Flags().IntVarP(&flagVerbosity, "verbosity", "v", 1, "logging verbosity (0=warn .. 4=trace)")
	rootCmd.Flags().StringVar(&flagLogger, "logger", "standard", "log output: standard or json")
	rootCmd.Flags().StringVar(&flagAddress, "address", "", "listen address, unix:///path or tcp://host:port (overrides fleetd.conf)")
	rootCmd.Flags().StringVar(&flagConfig, "config", "/etc/fleetd.conf", "path to fleetd.conf")
}

func run() error {
	configureLogging(flagVerbosity, flagLogger)
	log := logrus.WithField("component", "fleetd")

	cfg, err := config.LoadFromFile(flagConfig)
	if err != nil {
		return fmt.Errorf("loading %s: %w", flagConfig, err)
	}
	if flagAddress != "" {
		cfg.Address = flagAddress
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir %s: %w", cfg.DataDir, err)
	}
	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return fmt.Errorf("creating cache dir %s: %w", cfg.CacheDir, err)
	}
	certsDir := filepath.Join(cfg.DataDir, "certificates")
	imagesDir := filepath.Join(cfg.DataDir, "libvirt", "images")
	manifestsDir := filepath.Join(cfg.CacheDir, "libvirt", "manifests")
	for _, dir := range []string{certsDir, imagesDir, manifestsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	lv, err := libvirt.Connect("", 5*time.Second)
	if err != nil {
		return fmt.Errorf("connecting to libvirt: %w", err)
	}
	defer lv.Close()

	storageMgr := storage.NewManager(lv.Libvirt())
	ctx := context.Background()
	if err := storageMgr.EnsureDefaultPools(ctx); err != nil {
		return fmt.Errorf("ensuring storage pools: %w", err)
	}

	factory := libvirtfactory.New(lv.Libvirt(), storageMgr)

	vault := imagevault.NewVault(&imagevault.StorageManagerAdapter{Manager: storageMgr}, imageCacheTTL)

	remotes := []imagehost.Remote{{Name: "release", IndexURL: blueprintsURL(cfg)}}
	downloader := imagehost.NewHTTPDownloader(30 * time.Second)
	images := imagehost.NewSource(remotes, downloader, manifestRemoteTTL)
	images.StartPeriodicRefresh(ctx, manifestRefreshInterval)
	defer images.Stop()

	instanceStore := instance.NewStore(filepath.Join(cfg.DataDir, "fleetd-instances.json"))
	operative, deleted, err := instanceStore.Load(&imageExistsChecker{storage: storageMgr})
	if err != nil {
		return fmt.Errorf("loading instance registry: %w", err)
	}
	registry := instance.NewRegistry(instanceStore)
	registry.Seed(operative, deleted)

	settingsRegistry := settings.NewRegistry()

	trustStore := rpcauth.NewTrustStore(filepath.Join(certsDir, "trusted-certs.json"))
	if err := trustStore.Load(); err != nil {
		return fmt.Errorf("loading trust store: %w", err)
	}
	gate := rpcauth.NewGate(trustStore)
	if cfg.PassphraseHash != "" {
		log.Warn("passphraseHash in fleetd.conf is not yet honored at startup; use the authenticate RPC")
	}

	d := daemon.New(registry, factory, vault, images, downloader, settingsRegistry, gate)
	settingsRegistry.Register(settings.NewInstanceSettingsHandler(settingsRoot, registry, factory))
	settingsRegistry.Register(settings.NewSnapshotSettingsHandler(settingsRoot, d))

	lis, serverOpts, err := listener(cfg.Address, certsDir)
	if err != nil {
		return fmt.Errorf("setting up listener: %w", err)
	}
	defer lis.Close()

	server := grpc.NewServer(serverOpts...)
	rpc.RegisterHandler(server, d)

	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()
	go watchConfig(watchCtx, flagConfig, log)

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", cfg.Address)
		errCh <- server.Serve(lis)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serving: %w", err)
		}
	case sig := <-sigCh:
		log.Infof("received %s, shutting down", sig)
		server.GracefulStop()
	}
	return nil
}

func blueprintsURL(cfg *config.Daemon) string {
	if url := os.Getenv("FLEETD_BLUEPRINTS_URL"); url != "" {
		return url
	}
	return cfg.BlueprintsURL
}

func configureLogging(verbosity int, logger string) {
	if logger == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	levels := []logrus.Level{logrus.WarnLevel, logrus.InfoLevel, logrus.DebugLevel, logrus.TraceLevel, logrus.TraceLevel}
	idx := verbosity
	if idx < 0 {
		idx = 0
	}
	if idx >= len(levels) {
		idx = len(levels) - 1
	}
	logrus.SetLevel(levels[idx])
}

// listener parses an address of the form unix://path or tcp://host:port
// and returns a net.Listener plus the gRPC server options it needs: a
// unix socket carries no transport credentials (only Gate's bootstrap
// policy applies), a TCP socket is always served over a self-signed
// mTLS certificate bootstrapped into certsDir on first run.
func listener(address, certsDir string) (net.Listener, []grpc.ServerOption, error) {
	switch {
	case strings.HasPrefix(address, "unix://"):
		path := strings.TrimPrefix(address, "unix://")
		_ = os.Remove(path)
		lis, err := net.Listen("unix", path)
		if err != nil {
			return nil, nil, fmt.Errorf("listening on unix socket %s: %w", path, err)
		}
		return lis, nil, nil
	case strings.HasPrefix(address, "tcp://"):
		hostport := strings.TrimPrefix(address, "tcp://")
		cert, err := loadOrCreateServerCert(certsDir)
		if err != nil {
			return nil, nil, fmt.Errorf("bootstrapping TLS certificate: %w", err)
		}
		lis, err := net.Listen("tcp", hostport)
		if err != nil {
			return nil, nil, fmt.Errorf("listening on %s: %w", hostport, err)
		}
		tlsConfig := &tls.Config{
			Certificates: []tls.Certificate{cert},
			ClientAuth:   tls.RequestClientCert,
		}
		return lis, []grpc.ServerOption{grpc.Creds(credentials.NewTLS(tlsConfig))}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported address scheme %q, want unix:// or tcp://", address)
	}
}

// loadOrCreateServerCert reads a persisted self-signed certificate/key
// pair from certsDir, generating one on first run. No cert-issuance
// library appears anywhere in the examples pack, so this uses the
// standard library directly (crypto/tls, crypto/x509), matching
// rpcauth's existing stdlib-justified crypto primitives.
func loadOrCreateServerCert(certsDir string) (tls.Certificate, error) {
	certPath := filepath.Join(certsDir, "server.pem")
	keyPath := filepath.Join(certsDir, "server-key.pem")

	if cert, err := tls.LoadX509KeyPair(certPath, keyPath); err == nil {
		return cert, nil
	}

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generating key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generating serial: %w", err)
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "fleetd"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().AddDate(10, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IsCA:         true,
		DNSNames:     []string{"fleetd"},
	}
	derBytes, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("creating certificate: %w", err)
	}

	if err := writePEM(certPath, "CERTIFICATE", derBytes); err != nil {
		return tls.Certificate{}, err
	}
	keyBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("marshaling key: %w", err)
	}
	if err := writePEM(keyPath, "EC PRIVATE KEY", keyBytes); err != nil {
		return tls.Certificate{}, err
	}

	return tls.LoadX509KeyPair(certPath, keyPath)
}

func writePEM(path, blockType string, der []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()
	return pem.Encode(f, &pem.Block{Type: blockType, Bytes: der})
}

// watchConfig polls path's mtime and exits the process with status 42
// on change, the restart signal SPEC_FULL.md §6 assigns to fleetd.conf
// edits (a process supervisor is expected to relaunch fleetd).
func watchConfig(ctx context.Context, path string, log *logrus.Entry) {
	info, err := os.Stat(path)
	var lastMod time.Time
	if err == nil {
		lastMod = info.ModTime()
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			if !lastMod.IsZero() && info.ModTime().After(lastMod) {
				log.Infof("%s changed, exiting for restart", path)
				os.Exit(42)
			}
			lastMod = info.ModTime()
		}
	}
}

// imageExistsChecker adapts storage.Manager's context-aware ImageExists
// to the synchronous instance.ImageExistsChecker the instance store's
// load-tolerance pass expects.
type imageExistsChecker struct {
	storage *storage.Manager
}

func (c *imageExistsChecker) ImageExists(id string) bool {
	ok, err := c.storage.ImageExists(context.Background(), id)
	return err == nil && ok
}
