package ton

import (
	"context"
	"fmt"
	"strings"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/ton"
	"go.uber.org/zap"
)

// LiteConfig selects how to reach the TON network.
type LiteConfig struct {
	Network string // mainnet/testnet
	Host    string
	Port    int
	Key     string
}

// Connect establishes a connection to the TON network.
// If Host + Key are set, connects to a specific lite server.
// Otherwise, auto-discovers lite servers from the global config of Network.
func Connect(ctx context.Context, cfg LiteConfig, log *zap.Logger) (ton.APIClientWrapped, error) {
	client := liteclient.NewConnectionPool()

	if cfg.Host != "" && cfg.Key != "" {
		addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
		log.Info("connecting to lite server", zap.String("addr", addr))
		if err := client.AddConnection(ctx, addr, cfg.Key); err != nil {
			return nil, fmt.Errorf("connect to lite server %s: %w", addr, err)
		}
	} else {
		configURL := "https://ton.org/testnet-global.config.json"
		if strings.ToLower(cfg.Network) == "mainnet" {
			configURL = "https://ton.org/global.config.json"
		}
		log.Info("connecting via global config", zap.String("url", configURL), zap.String("network", cfg.Network))
		if err := client.AddConnectionsFromConfigUrl(ctx, configURL); err != nil {
			return nil, fmt.Errorf("connect via config %s: %w", configURL, err)
		}
	}

	proofPolicy := ton.ProofCheckPolicyFast
	if strings.ToLower(cfg.Network) == "mainnet" {
		proofPolicy = ton.ProofCheckPolicySecure
	}

	return ton.NewAPIClient(client, proofPolicy).WithRetry(), nil
}

// NormalizeAddress accepts raw ("0:<hex>") or user-friendly addresses and
// returns the user-friendly form.
func NormalizeAddress(s string) (string, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, ":") {
		addr, err := address.ParseRawAddr(s)
		if err != nil {
			return "", fmt.Errorf("invalid raw address %q: %w", s, err)
		}
		return addr.String(), nil
	}
	addr, err := address.ParseAddr(s)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", s, err)
	}
	return addr.String(), nil
}
