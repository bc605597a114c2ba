package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"steadytls/internal/dummy"
	"steadytls/internal/target"
)

var dummyCmd = &cobra.Command{
	Use:   "dummy",
	Short: "Run a local HTTPS target",
	Long: `Serves /fast, /delay?ms=N, /slow, /hang, /spike, /error and /unavailable
over HTTPS. Without --cert/--key a self-signed certificate for localhost is
generated, so benchmark it with --insecure.`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return viper.BindPFlags(cmd.Flags())
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		version, err := target.ParseTLSVersion(viper.GetString("tls-version"))
		if err != nil {
			return err
		}
		ciphers, err := target.ParseCipherSuites(viper.GetStringSlice("cipher"))
		if err != nil {
			return err
		}

		srv, err := dummy.Start(dummy.ServerConfig{
			Port:         viper.GetInt("port"),
			CertFile:     viper.GetString("cert"),
			KeyFile:      viper.GetString("key"),
			TLSVersion:   version,
			CipherSuites: ciphers,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Dummy HTTPS server listening on %s\n", srv.Addr)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	f := dummyCmd.Flags()
	f.IntP("port", "p", 8443, "port to listen on")
	f.String("cert", "", "certificate PEM file")
	f.String("key", "", "private key PEM file")
	f.String("tls-version", "", "only accept this TLS version")
	f.StringSlice("cipher", nil, "only accept these cipher suites (TLS 1.2 and below)")
}
