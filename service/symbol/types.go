package symbol

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Uint64 decodes the node's uint64 fields, which are sent as decimal strings.
// Plain JSON numbers are accepted as well.
type Uint64 uint64

// UnmarshalJSON implements json.Unmarshaler.
func (u *Uint64) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*u = 0
		return nil
	}
	s := string(bytes.Trim(data, `"`))
	if s == "" {
		*u = 0
		return nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid uint64 %q: %w", s, err)
	}
	*u = Uint64(v)
	return nil
}

// MarshalJSON keeps the node's string encoding.
func (u Uint64) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.FormatUint(uint64(u), 10))), nil
}

// MessageHex is a transaction message as a hex string including its one-byte
// type marker. Older node versions send {"type": n, "payload": "..."}; that form
// is folded into the same representation.
type MessageHex string

// UnmarshalJSON implements json.Unmarshaler.
func (m *MessageHex) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*m = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*m = MessageHex(s)
		return nil
	}
	var obj struct {
		Type    int    `json:"type"`
		Payload string `json:"payload"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}
	*m = MessageHex(fmt.Sprintf("%02X%s", obj.Type&0xFF, obj.Payload))
	return nil
}

// Mosaic is an (id, amount) pair attached to a transfer or account.
type Mosaic struct {
	ID       string  `json:"id"`
	Amount   Uint64  `json:"amount"`
	Quantity *Uint64 `json:"quantity,omitempty"`
}

// Units returns the raw amount, falling back to the legacy quantity field.
func (m Mosaic) Units() uint64 {
	if m.Amount == 0 && m.Quantity != nil {
		return uint64(*m.Quantity)
	}
	return uint64(m.Amount)
}

// TransactionMeta is the node-side metadata of a transaction.
type TransactionMeta struct {
	Hash      string  `json:"hash"`
	Height    Uint64  `json:"height"`
	Timestamp *Uint64 `json:"timestamp,omitempty"`
}

// Transaction is the subset of transaction body fields the feed needs.
type Transaction struct {
	Type             int        `json:"type"`
	SignerPublicKey  string     `json:"signerPublicKey"`
	RecipientAddress string     `json:"recipientAddress"`
	Message          MessageHex `json:"message"`
	Mosaics          []Mosaic   `json:"mosaics"`
}

// TransactionInfo pairs a transaction with its metadata. It is the item shape of
// /transactions/confirmed and the data payload of the transaction websocket topics.
type TransactionInfo struct {
	Meta        TransactionMeta `json:"meta"`
	Transaction Transaction     `json:"transaction"`
}

// Block is the subset of block fields used to resolve settlement times.
type Block struct {
	Height    Uint64 `json:"height"`
	Timestamp Uint64 `json:"timestamp"`
}

// BlockInfo is the response of /blocks/{height} and the data payload of the "block" topic.
type BlockInfo struct {
	Block Block `json:"block"`
}

// NetworkProperties is the subset of /network/properties used by the feed.
type NetworkProperties struct {
	Network struct {
		Identifier         string `json:"identifier"`
		EpochAdjustment    string `json:"epochAdjustment"`
		GenerationHashSeed string `json:"generationHashSeed"`
	} `json:"network"`
	Chain struct {
		CurrencyMosaicID string `json:"currencyMosaicId"`
	} `json:"chain"`
}

// Epoch returns the network epoch as wall-clock time.
func (p *NetworkProperties) Epoch() (time.Time, error) {
	raw := strings.TrimSpace(p.Network.EpochAdjustment)
	if raw == "" {
		return time.Time{}, fmt.Errorf("epochAdjustment missing")
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epochAdjustment %q: %w", raw, err)
	}
	return time.Unix(int64(d/time.Second), 0).UTC(), nil
}

// CurrencyMosaicID normalizes "0x6BED'913F'A202'23F8" to "6BED913FA20223F8".
// It returns "" when the node did not report one.
func (p *NetworkProperties) CurrencyMosaicID() string {
	id := strings.TrimSpace(p.Chain.CurrencyMosaicID)
	id = strings.TrimPrefix(strings.TrimPrefix(id, "0x"), "0X")
	id = strings.ReplaceAll(id, "'", "")
	return strings.ToUpper(id)
}

// Account is the subset of /accounts/{address} used for balances.
type Account struct {
	Address string   `json:"address"`
	Mosaics []Mosaic `json:"mosaics"`
}

// AccountInfo wraps Account as returned by the node.
type AccountInfo struct {
	Account Account `json:"account"`
}

// Balance is the native-currency balance of an account.
type Balance struct {
	Address string  `json:"address"`
	Units   uint64  `json:"units"`
	Amount  float64 `json:"amount"`
}

// NetworkTime converts a network timestamp (milliseconds since the network epoch)
// to wall-clock time.
func NetworkTime(epoch time.Time, ts uint64) time.Time {
	return epoch.Add(time.Duration(ts) * time.Millisecond)
}
