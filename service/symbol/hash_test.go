package symbol

import (
	"crypto/sha3"
	"encoding/binary"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSeed = "57F7DA205008026C776CB6AED843393F04CD458E0AA2D9F1D5F31A402072B2D6"

func buildPayload(txType uint16, bodyLen int) []byte {
	size := transactionHeaderSize + bodyLen
	p := make([]byte, size)
	binary.LittleEndian.PutUint32(p[:4], uint32(size))
	for i := 0; i < signatureSize; i++ {
		p[signatureOffset+i] = byte(i + 1)
	}
	for i := 0; i < signerKeySize; i++ {
		p[signerKeyOffset+i] = byte(0xA0 + i)
	}
	p[transactionHeaderSize] = 1    // version
	p[transactionHeaderSize+1] = 104 // network
	binary.LittleEndian.PutUint16(p[typeOffset:], txType)
	for i := typeOffset + 2; i < size; i++ {
		p[i] = byte(i)
	}
	return p
}

func expectedHash(p []byte, bodyEnd int) string {
	seed, _ := hex.DecodeString(testSeed)
	h := sha3.New256()
	h.Write(p[signatureOffset : signatureOffset+signatureSize])
	h.Write(p[signerKeyOffset : signerKeyOffset+signerKeySize])
	h.Write(seed)
	h.Write(p[transactionHeaderSize:bodyEnd])
	return strings.ToUpper(hex.EncodeToString(h.Sum(nil)))
}

func TestTransactionHash_Transfer(t *testing.T) {
	p := buildPayload(0x4154, 60)
	got, err := TransactionHash(hex.EncodeToString(p), testSeed)
	require.NoError(t, err)
	assert.Equal(t, expectedHash(p, len(p)), got)
	assert.Len(t, got, 64)
}

func TestTransactionHash_AggregateHeaderOnly(t *testing.T) {
	p := buildPayload(TypeAggregateComplete, 200)
	got, err := TransactionHash(hex.EncodeToString(p), testSeed)
	require.NoError(t, err)
	assert.Equal(t, expectedHash(p, transactionHeaderSize+aggregateHashedSize), got)
}

func TestTransactionHash_Invalid(t *testing.T) {
	_, err := TransactionHash("zz", testSeed)
	assert.Error(t, err)

	_, err = TransactionHash("0011", testSeed)
	assert.Error(t, err)

	p := buildPayload(0x4154, 10)
	_, err = TransactionHash(hex.EncodeToString(p), "ABCD")
	assert.Error(t, err)

	binary.LittleEndian.PutUint32(p[:4], 5)
	_, err = TransactionHash(hex.EncodeToString(p), testSeed)
	assert.Error(t, err)
}
