package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownNetwork is returned when a network name has no preset and no explicit
// node server was configured.
var ErrUnknownNetwork = errors.New("unknown network")

// Endpoint is a resolved service address plus its optional access token.
type Endpoint struct {
	URL   string `json:"url"`
	Token string `json:"token,omitempty"`
}

// NetworkEndpoints is the resolved view of NetworkConfig.
type NetworkEndpoints struct {
	Name     string   `json:"name"`
	ChainID  int64    `json:"chain_id"`
	Node     Endpoint `json:"node"`
	Indexer  Endpoint `json:"indexer"`
	Currency string   `json:"currency"`
	Explorer string   `json:"explorer,omitempty"`
}

// EVMChain describes one EVM chain the blockchain client can connect to.
type EVMChain struct {
	Name     string `json:"name"`
	ChainID  int64  `json:"chain_id"`
	RPC      string `json:"rpc"`
	RPCToken string `json:"-"`
	Explorer string `json:"explorer,omitempty"`
	Currency string `json:"currency"`
}

var networkPresets = map[string]NetworkEndpoints{
	"localnet": {
		Name:     "localnet",
		ChainID:  1337,
		Node:     Endpoint{URL: "http://localhost:8545"},
		Indexer:  Endpoint{URL: "http://localhost:4000/api/v2"},
		Currency: "ETH",
	},
	"testnet": {
		Name:     "testnet",
		ChainID:  11155111,
		Node:     Endpoint{URL: "https://ethereum-sepolia-rpc.publicnode.com"},
		Indexer:  Endpoint{URL: "https://eth-sepolia.blockscout.com/api/v2"},
		Currency: "SepoliaETH",
		Explorer: "https://sepolia.etherscan.io",
	},
}

// ResolveNetwork maps raw network settings onto endpoint/credential tuples.
// Empty name means "testnet". Explicit values win over the preset; a port is
// appended to its server when both are set.
func ResolveNetwork(n NetworkConfig) (*NetworkEndpoints, error) {
	name := strings.ToLower(strings.TrimSpace(n.Name))
	if name == "" {
		name = "testnet"
	}

	out, ok := networkPresets[name]
	if !ok {
		if n.NodeServer == "" {
			return nil, fmt.Errorf("%w: %q", ErrUnknownNetwork, n.Name)
		}
		out = NetworkEndpoints{Name: name, Currency: "ETH"}
	}

	if n.ChainID != 0 {
		out.ChainID = n.ChainID
	}
	if n.NodeServer != "" {
		out.Node.URL = joinPort(n.NodeServer, n.NodePort)
	}
	if n.NodeToken != "" {
		out.Node.Token = n.NodeToken
	}
	if n.IndexerServer != "" {
		out.Indexer.URL = joinPort(n.IndexerServer, n.IndexerPort)
	}
	if n.IndexerToken != "" {
		out.Indexer.Token = n.IndexerToken
	}
	if n.Currency != "" {
		out.Currency = n.Currency
	}
	if n.Explorer != "" {
		out.Explorer = n.Explorer
	}

	return &out, nil
}

// Chain converts the endpoints into the chain client's configuration.
func (e *NetworkEndpoints) Chain() *EVMChain {
	return &EVMChain{
		Name:     e.Name,
		ChainID:  e.ChainID,
		RPC:      e.Node.URL,
		RPCToken: e.Node.Token,
		Explorer: e.Explorer,
		Currency: e.Currency,
	}
}

func joinPort(server, port string) string {
	server = strings.TrimRight(server, "/")
	if port == "" {
		return server
	}
	return server + ":" + port
}
