package symbol

import (
	"errors"
	"fmt"
	"strings"
)

// Network identifies a Symbol network.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
)

// NetworkType values as used by the Symbol SDK and wallet extensions.
const (
	MainnetType = 104
	TestnetType = 152
)

// NamespaceAliasXYM is the namespace id of "symbol.xym". Transfers may carry the
// alias instead of the concrete mosaic id; it is the same on every network.
const NamespaceAliasXYM = "E74B99BA41F4AFEE"

// NativeDivisibility is the number of decimal places of the native currency.
const NativeDivisibility = 6

// NetworkInfo holds the static per-network settings.
type NetworkInfo struct {
	Network        Network
	Type           int
	NativeMosaicID string
	RankingURL     string
	FallbackNodes  []string
	ExplorerURL    string
}

var networks = map[Network]NetworkInfo{
	Mainnet: {
		Network:        Mainnet,
		Type:           MainnetType,
		NativeMosaicID: "6BED913FA20223F8",
		RankingURL:     "https://nodewatch.symbol.tools/api/symbol/nodes/peer?only_ssl=true&limit=10&order=random",
		FallbackNodes: []string{
			"https://sym-main-01.opening-line.jp:3001",
			"https://sym-main-02.opening-line.jp:3001",
			"https://sym-main-03.opening-line.jp:3001",
			"https://symbol-mikun.net:3001",
		},
		ExplorerURL: "https://symbol.fyi",
	},
	Testnet: {
		Network:        Testnet,
		Type:           TestnetType,
		NativeMosaicID: "72C0212E67A08BCE",
		RankingURL:     "https://nodewatch.symbol.tools/testnet/api/symbol/nodes/peer?only_ssl=true&limit=10&order=random",
		FallbackNodes: []string{
			"https://401-sai-dual.symboltest.net:3001",
			"https://201-sai-dual.symboltest.net:3001",
			"https://2.dusanjp.com:3001",
			"https://vmi831828.contaboserver.net:3001",
			"https://testnet1.symbol-mikun.net:3001",
			"https://testnet2.symbol-mikun.net:3001",
			"https://sym-test-01.opening-line.jp:3001",
			"https://sym-test-03.opening-line.jp:3001",
			"https://symbol-azure.0009.co:3001",
			"https://t.sakia.harvestasya.com:3001",
		},
		ExplorerURL: "https://testnet.symbol.fyi",
	},
}

// ParseNetwork accepts "mainnet"/"testnet" (any case) or the numeric network type.
func ParseNetwork(s string) (Network, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mainnet", "104":
		return Mainnet, nil
	case "testnet", "152":
		return Testnet, nil
	default:
		return "", fmt.Errorf("unknown network %q (expected mainnet or testnet)", s)
	}
}

// Info returns the static settings for the network. Unknown networks resolve to mainnet.
func (n Network) Info() NetworkInfo {
	if info, ok := networks[n]; ok {
		return info
	}
	return networks[Mainnet]
}

// Label is the display name ("Mainnet"/"Testnet").
func (n Network) Label() string {
	if n == Testnet {
		return "Testnet"
	}
	return "Mainnet"
}

// ExplorerTransactionURL links a transaction hash to the block explorer.
func (n Network) ExplorerTransactionURL(hash string) string {
	return fmt.Sprintf("%s/transactions/%s", n.Info().ExplorerURL, hash)
}

// AddressLength is the length of a normalized base32 address.
const AddressLength = 39

// ErrInvalidAddress is returned for strings that cannot be Symbol addresses.
var ErrInvalidAddress = errors.New("invalid address")

// ParseAddress normalizes addr and infers its network from the leading
// character ('N' mainnet, 'T' testnet).
func ParseAddress(addr string) (string, Network, error) {
	norm := NormalizeAddress(addr)
	if len(norm) != AddressLength {
		return "", "", fmt.Errorf("%w: %q has length %d, want %d", ErrInvalidAddress, addr, len(norm), AddressLength)
	}
	if _, err := addressEncoding.DecodeString(norm); err != nil {
		return "", "", fmt.Errorf("%w: %q is not base32", ErrInvalidAddress, addr)
	}
	switch norm[0] {
	case 'N':
		return norm, Mainnet, nil
	case 'T':
		return norm, Testnet, nil
	default:
		return "", "", fmt.Errorf("%w: unknown network prefix %q", ErrInvalidAddress, norm[0])
	}
}
