// Package broker builds MQTT clients shared by the binaries.
package broker

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string
	CAFile   string
	// OnConnect runs after every (re)connect, which is where subscriptions
	// must be (re)established.
	OnConnect func(mqtt.Client)
}

// NewClientOptions returns paho options with reconnect and keepalive set.
func NewClientOptions(o Options, log zerolog.Logger) (*mqtt.ClientOptions, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetOrderMatters(true).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}
	if o.CAFile != "" {
		tlsCfg, err := tlsConfig(o.CAFile)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Error().Err(err).Msg("mqtt connection lost")
	}
	opts.OnConnect = func(c mqtt.Client) {
		log.Info().Str("broker", o.Broker).Msg("mqtt connected")
		if o.OnConnect != nil {
			o.OnConnect(c)
		}
	}
	return opts, nil
}

// Connect dials the broker and waits up to timeout for the first connection.
func Connect(o Options, timeout time.Duration, log zerolog.Logger) (mqtt.Client, error) {
	opts, err := NewClientOptions(o, log)
	if err != nil {
		return nil, err
	}
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect to %s timed out", o.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return client, nil
}

func tlsConfig(caFile string) (*tls.Config, error) {
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read mqtt ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates in %s", caFile)
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}
