package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/tuyable/credential-cache/internal/log"
	"github.com/tuyable/credential-cache/pkg/cli"
	"github.com/tuyable/credential-cache/pkg/discovery"
	"github.com/tuyable/credential-cache/pkg/discovery/mqtt"
	"github.com/tuyable/credential-cache/pkg/proxy"
)

const (
	EnvTlsCert   = "TUYA_CREDS_PROXY_TLS_CERT"
	EnvTlsKey    = "TUYA_CREDS_PROXY_TLS_KEY"
	EnvHost      = "TUYA_CREDS_PROXY_HOST"
	EnvPort      = "TUYA_CREDS_PROXY_PORT"
	EnvTimeout   = "TUYA_CREDS_PROXY_TIMEOUT"
	EnvJWTSecret = "TUYA_CREDS_PROXY_JWT_SECRET"
	EnvVerbose   = "TUYA_BLE_VERBOSE"
)

const nonLocalhostWarning = `
The proxy returns device local keys to any client holding a valid token. Only listen on a network
interface other than localhost if every client that can reach it is trusted, and issue tokens with
the narrowest scope that works.`

type HttpProxyConfig struct {
	keyFilename  string
	certFilename string
	verbose      bool
	warm         bool
	host         string
	port         int
	timeout      time.Duration
	jwtSecret    string
}

var (
	httpConfig = &HttpProxyConfig{}
)

func init() {
	flag.StringVar(&httpConfig.certFilename, "cert", "", "TLS certificate chain `file` with concatenated server, intermediate CA, and root CA certificates")
	flag.StringVar(&httpConfig.keyFilename, "tls-key", "", "Server TLS private key `file`")
	flag.BoolVar(&httpConfig.verbose, "verbose", false, "Enable verbose logging")
	flag.BoolVar(&httpConfig.warm, "warm", true, "Build the credential cache at startup")
	flag.StringVar(&httpConfig.host, "host", cli.DefaultProxyHost, "Proxy server `hostname`")
	flag.IntVar(&httpConfig.port, "port", cli.DefaultProxyPort, "`Port` to listen on")
	flag.DurationVar(&httpConfig.timeout, "timeout", proxy.DefaultTimeout, "Timeout interval when resolving credentials")
}

func Usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: %s [OPTION...]\n", os.Args[0])
	fmt.Fprintf(out, "\nA server that exposes a REST API for resolving Tuya BLE device credentials")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, nonLocalhostWarning)
	fmt.Fprintln(out, "")
	fmt.Fprintf(out, "Bearer tokens are verified with the secret in $%s or proxy.jwt_secret in the\n", EnvJWTSecret)
	fmt.Fprintln(out, "configuration file. Use tuya-proxy-token to issue them.")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "Options:")
	flag.PrintDefaults()
}

func main() {
	config, err := cli.NewConfig(cli.FlagStore | cli.FlagKeyring)

	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %s\n", err)
		os.Exit(1)
	}

	defer func() {
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
	}()

	flag.Usage = Usage
	config.RegisterCommandLineFlags()
	flag.Parse()
	if err = readFromEnvironment(); err != nil {
		return
	}
	config.ReadFromEnvironment()
	if err = config.LoadFile(); err != nil {
		return
	}
	applyFile(config.File)
	defer config.Close()

	if httpConfig.verbose {
		log.SetLevel(log.LevelDebug)
	}

	if httpConfig.host != cli.DefaultProxyHost {
		fmt.Fprintln(os.Stderr, nonLocalhostWarning)
	}

	var secret string
	if secret, err = config.ResolveSecret(httpConfig.jwtSecret); err != nil {
		return
	}
	if secret == "" {
		err = fmt.Errorf("no token secret configured (set $%s or proxy.jwt_secret)", EnvJWTSecret)
		return
	}

	manager, err := config.Manager()
	if err != nil {
		return
	}

	log.Debug("Creating proxy")
	p, err := proxy.New(manager, []byte(secret))
	if err != nil {
		return
	}
	p.Timeout = httpConfig.timeout

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if httpConfig.warm {
		go func() {
			report, err := manager.Build(ctx)
			if err != nil {
				log.Warning("Failed to build credential cache: %s", err)
				return
			}
			log.Info("Credential cache ready: %s", report)
		}()
	}

	if config.File.MQTT.Broker != "" {
		var listener *mqtt.Listener
		if listener, err = mqtt.NewListener(config.File.MQTT); err != nil {
			return
		}
		defer listener.Close()
		watcher := discovery.NewWatcher(manager)
		watcher.OnResult = func(r discovery.Result) {
			if r.Err != nil {
				log.Warning("Could not resolve %s (%s): %s", r.Advertisement.Address, r.Name, r.Err)
			}
		}
		go func() {
			if err := watcher.Run(ctx, listener); err != nil {
				log.Error("Discovery stopped: %s", err)
			}
		}()
	}

	addr := fmt.Sprintf("%s:%d", httpConfig.host, httpConfig.port)
	var server *http.Server
	if httpConfig.certFilename == "" && httpConfig.keyFilename == "" {
		var certPEM string
		if server, certPEM, err = NewServer(addr, httpConfig.host, p); err != nil {
			return
		}
		log.Warning("No TLS certificate configured, using a self-signed certificate")
		log.Debug("Server certificate:\n%s", certPEM)
	} else {
		server = &http.Server{Addr: addr, Handler: p}
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Info("Listening on %s", addr)
	if serveErr := server.ListenAndServeTLS(httpConfig.certFilename, httpConfig.keyFilename); !errors.Is(serveErr, http.ErrServerClosed) {
		err = serveErr
		return
	}
	log.Info("Server stopped")
}

// readFromEnvironment applies configuration from environment variables.
// Values are not overwritten.
func readFromEnvironment() error {
	if httpConfig.certFilename == "" {
		httpConfig.certFilename = os.Getenv(EnvTlsCert)
	}

	if httpConfig.keyFilename == "" {
		httpConfig.keyFilename = os.Getenv(EnvTlsKey)
	}

	if httpConfig.host == cli.DefaultProxyHost {
		host, ok := os.LookupEnv(EnvHost)
		if ok {
			httpConfig.host = host
		}
	}

	if httpConfig.jwtSecret == "" {
		httpConfig.jwtSecret = os.Getenv(EnvJWTSecret)
	}

	if !httpConfig.verbose {
		if verbose, ok := os.LookupEnv(EnvVerbose); ok {
			httpConfig.verbose = verbose != "false" && verbose != "0"
		}
	}

	var err error
	if httpConfig.port == cli.DefaultProxyPort {
		if port, ok := os.LookupEnv(EnvPort); ok {
			httpConfig.port, err = strconv.Atoi(port)
			if err != nil {
				return fmt.Errorf("invalid port: %s", port)
			}
		}
	}

	if httpConfig.timeout == proxy.DefaultTimeout {
		if timeoutEnv, ok := os.LookupEnv(EnvTimeout); ok {
			httpConfig.timeout, err = time.ParseDuration(timeoutEnv)
			if err != nil {
				return fmt.Errorf("invalid timeout: %s", timeoutEnv)
			}
		}
	}

	return nil
}

// applyFile fills in settings that were left at their defaults from the configuration file's proxy
// section.
func applyFile(file *cli.File) {
	if file == nil {
		return
	}
	if httpConfig.certFilename == "" && httpConfig.keyFilename == "" {
		httpConfig.certFilename = file.Proxy.CertFile
		httpConfig.keyFilename = file.Proxy.KeyFile
	}
	if httpConfig.host == cli.DefaultProxyHost && file.Proxy.Host != "" {
		httpConfig.host = file.Proxy.Host
	}
	if httpConfig.port == cli.DefaultProxyPort && file.Proxy.Port != 0 {
		httpConfig.port = file.Proxy.Port
	}
	if httpConfig.timeout == proxy.DefaultTimeout && file.Proxy.Timeout != 0 {
		httpConfig.timeout = file.Proxy.Timeout
	}
	if httpConfig.jwtSecret == "" {
		httpConfig.jwtSecret = file.Proxy.JWTSecret
	}
}
