package symbol

import (
	"crypto/sha3"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// Serialized transaction layout offsets.
const (
	signatureOffset       = 8
	signatureSize         = 64
	signerKeyOffset       = signatureOffset + signatureSize
	signerKeySize         = 32
	transactionHeaderSize = signerKeyOffset + signerKeySize + 4
	typeOffset            = transactionHeaderSize + 2
	// version, network, type, fee, deadline and the transactions hash
	aggregateHashedSize = 4 + 8 + 8 + 32
)

// Aggregate transaction types; only their header is covered by the hash.
const (
	TypeAggregateComplete = 0x4141
	TypeAggregateBonded   = 0x4241
)

// TransactionHash computes the hash of a signed, serialized transaction the way
// the network does: SHA3-256 over the signature, the signer public key, the
// network generation hash seed and the transaction body.
func TransactionHash(signedPayload, generationHashSeed string) (string, error) {
	payload, err := hex.DecodeString(strings.TrimSpace(signedPayload))
	if err != nil {
		return "", fmt.Errorf("invalid payload hex: %w", err)
	}
	seed, err := hex.DecodeString(strings.TrimSpace(generationHashSeed))
	if err != nil || len(seed) != 32 {
		return "", fmt.Errorf("invalid generation hash seed %q", generationHashSeed)
	}
	if len(payload) < typeOffset+2 {
		return "", fmt.Errorf("payload too short: %d bytes", len(payload))
	}
	if size := binary.LittleEndian.Uint32(payload[:4]); int(size) != len(payload) {
		return "", fmt.Errorf("payload size field %d does not match length %d", size, len(payload))
	}

	body := payload[transactionHeaderSize:]
	switch binary.LittleEndian.Uint16(payload[typeOffset:]) {
	case TypeAggregateComplete, TypeAggregateBonded:
		if len(body) < aggregateHashedSize {
			return "", fmt.Errorf("aggregate payload too short: %d bytes", len(payload))
		}
		body = body[:aggregateHashedSize]
	}

	h := sha3.New256()
	h.Write(payload[signatureOffset : signatureOffset+signatureSize])
	h.Write(payload[signerKeyOffset : signerKeyOffset+signerKeySize])
	h.Write(seed)
	h.Write(body)
	return strings.ToUpper(hex.EncodeToString(h.Sum(nil))), nil
}
