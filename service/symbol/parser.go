package symbol

import (
	"encoding/base32"
	"encoding/hex"
	"math"
	"strings"
	"unicode/utf8"
)

// Message type markers (first payload byte).
const (
	MessageTypePlain     = 0x00
	MessageTypeEncrypted = 0x01
)

// Sentinel texts substituted for undecodable or absent messages.
const (
	DecodeErrorText      = "(decode error)"
	NoMessageText        = "(no message)"
	EncryptedMessageText = "(encrypted message)"
)

// Direction of a native-currency transfer relative to the tracked account.
type Direction string

const (
	DirectionSend    Direction = "send"
	DirectionReceive Direction = "receive"
)

// Transfer is the native-currency value moved by a transaction.
type Transfer struct {
	Units     uint64
	Amount    float64
	Direction Direction
}

var addressEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// DecodeMessage turns a hex message payload into display text. A plain-text
// marker is stripped and the rest decoded as UTF-8. Odd-length or non-hex input
// and invalid UTF-8 yield DecodeErrorText; it never fails.
func DecodeMessage(payload string) string {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return NoMessageText
	}
	if len(payload)%2 != 0 {
		return DecodeErrorText
	}
	raw, err := hex.DecodeString(payload)
	if err != nil {
		return DecodeErrorText
	}

	switch raw[0] {
	case MessageTypePlain:
		raw = raw[1:]
	case MessageTypeEncrypted:
		return EncryptedMessageText
	}

	if !utf8.Valid(raw) {
		return DecodeErrorText
	}
	return string(raw)
}

// NormalizeAddress strips separators and upper-cases an address. Hex-encoded raw
// addresses (as sent in recipientAddress) are converted to their base32 form so
// both representations compare equal.
func NormalizeAddress(addr string) string {
	addr = strings.ToUpper(strings.TrimSpace(addr))
	addr = strings.ReplaceAll(addr, "-", "")
	if len(addr) == 48 {
		if raw, err := hex.DecodeString(addr); err == nil {
			return addressEncoding.EncodeToString(raw)
		}
	}
	return addr
}

// SameAddress reports whether candidate resolves to account, comparing the
// normalized forms by suffix.
func SameAddress(candidate, account string) bool {
	c := NormalizeAddress(candidate)
	a := NormalizeAddress(account)
	if c == "" || a == "" {
		return false
	}
	return strings.HasSuffix(c, a)
}

// NormalizeMosaicID upper-cases an id and drops a 0x prefix and digit separators.
func NormalizeMosaicID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(strings.TrimPrefix(id, "0x"), "0X")
	id = strings.ReplaceAll(id, "'", "")
	return strings.ToUpper(id)
}

// UnitsToAmount converts raw units to whole currency using NativeDivisibility.
func UnitsToAmount(units uint64) float64 {
	return float64(units) / math.Pow10(NativeDivisibility)
}

// ExtractTransfer finds the native-currency mosaic in tx and classifies its
// direction for account. Other mosaics are ignored; ok is false when the
// transaction moves no native currency.
func ExtractTransfer(tx Transaction, account string, nativeIDs ...string) (*Transfer, bool) {
	if len(tx.Mosaics) == 0 {
		return nil, false
	}
	for _, m := range tx.Mosaics {
		if !isNative(m.ID, nativeIDs) {
			continue
		}
		units := m.Units()
		dir := DirectionSend
		if SameAddress(tx.RecipientAddress, account) {
			dir = DirectionReceive
		}
		return &Transfer{
			Units:     units,
			Amount:    UnitsToAmount(units),
			Direction: dir,
		}, true
	}
	return nil, false
}

// NativeBalance sums the native-currency mosaics of an account.
func NativeBalance(acct Account, nativeIDs ...string) Balance {
	var units uint64
	for _, m := range acct.Mosaics {
		if isNative(m.ID, nativeIDs) {
			units += m.Units()
		}
	}
	return Balance{
		Address: acct.Address,
		Units:   units,
		Amount:  UnitsToAmount(units),
	}
}

func isNative(id string, nativeIDs []string) bool {
	id = NormalizeMosaicID(id)
	if id == "" {
		return false
	}
	for _, n := range nativeIDs {
		if n != "" && NormalizeMosaicID(n) == id {
			return true
		}
	}
	return false
}
