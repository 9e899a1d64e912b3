package sol

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go/rpc"
)

// Cluster returns the public cluster for a network name.
func Cluster(network string) (rpc.Cluster, error) {
	switch strings.ToLower(network) {
	case "devnet", "":
		return rpc.DevNet, nil
	case "testnet":
		return rpc.TestNet, nil
	case "mainnet-beta", "mainnet":
		return rpc.MainNetBeta, nil
	case "localnet", "localhost":
		return rpc.LocalNet, nil
	}
	return rpc.Cluster{}, fmt.Errorf("unknown network %q", network)
}

// ClusterAPIURL returns the public RPC URL of network.
func ClusterAPIURL(network string) (string, error) {
	cluster, err := Cluster(network)
	if err != nil {
		return "", err
	}
	return cluster.RPC, nil
}

// HTTPToWsURL converts an HTTP(S) RPC URL to a WebSocket URL.
func HTTPToWsURL(httpURL string) string {
	wsURL := strings.Replace(httpURL, "https://", "wss://", 1)
	return strings.Replace(wsURL, "http://", "ws://", 1)
}
