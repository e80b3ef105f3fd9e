// Package transfer signs transaction payloads with an external signer and
// announces the result to the network.
package transfer

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// ErrInvalidSignerResponse is returned when a signer answers with something
// that carries no signed payload.
var ErrInvalidSignerResponse = errors.New("invalid signer response")

// Signed is a signed transaction as returned by a signer. Hash is optional.
type Signed struct {
	Payload string `json:"payload"`
	Hash    string `json:"hash,omitempty"`
}

// Signer turns an unsigned transaction payload (hex) into a signed one.
type Signer interface {
	Sign(ctx context.Context, payloadHex string) (Signed, error)
}

// ParseSignerResponse accepts the shapes signers commonly return: an object
// carrying signedPayload or payload (with an optional hash), a JSON string,
// or a bare hex string.
func ParseSignerResponse(raw []byte) (Signed, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return Signed{}, fmt.Errorf("%w: empty", ErrInvalidSignerResponse)
	}

	var out Signed
	switch text[0] {
	case '{':
		var obj struct {
			SignedPayload string `json:"signedPayload"`
			Payload       string `json:"payload"`
			Hash          string `json:"hash"`
		}
		if err := json.Unmarshal([]byte(text), &obj); err != nil {
			return Signed{}, fmt.Errorf("%w: %v", ErrInvalidSignerResponse, err)
		}
		out.Payload = obj.SignedPayload
		if out.Payload == "" {
			out.Payload = obj.Payload
		}
		out.Hash = obj.Hash
	case '"':
		if err := json.Unmarshal([]byte(text), &out.Payload); err != nil {
			return Signed{}, fmt.Errorf("%w: %v", ErrInvalidSignerResponse, err)
		}
	default:
		out.Payload = text
	}

	out.Payload = strings.ToUpper(strings.TrimSpace(out.Payload))
	out.Hash = strings.ToUpper(strings.TrimSpace(out.Hash))
	if err := ValidatePayload(out.Payload); err != nil {
		return Signed{}, fmt.Errorf("%w: %v", ErrInvalidSignerResponse, err)
	}
	return out, nil
}

// ValidatePayload checks that p is non-empty, even-length hex.
func ValidatePayload(p string) error {
	if p == "" {
		return errors.New("payload is empty")
	}
	if _, err := hex.DecodeString(p); err != nil {
		return fmt.Errorf("payload is not hex: %w", err)
	}
	return nil
}

// ExecSigner runs a local command, writes the payload to its stdin and parses
// its stdout.
type ExecSigner struct {
	Command string
	Timeout time.Duration
}

func (s *ExecSigner) Sign(ctx context.Context, payloadHex string) (Signed, error) {
	fields := strings.Fields(s.Command)
	if len(fields) == 0 {
		return Signed{}, errors.New("signer command is empty")
	}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
	cmd.Stdin = strings.NewReader(payloadHex + "\n")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return Signed{}, fmt.Errorf("signer command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return ParseSignerResponse(out)
}

// HTTPSigner POSTs {"payload": ...} to URL and parses the response body.
type HTTPSigner struct {
	URL    string
	Client *http.Client
}

func (s *HTTPSigner) Sign(ctx context.Context, payloadHex string) (Signed, error) {
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	body, err := json.Marshal(map[string]string{"payload": payloadHex})
	if err != nil {
		return Signed{}, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return Signed{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return Signed{}, fmt.Errorf("signer request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Signed{}, fmt.Errorf("failed to read signer response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Signed{}, fmt.Errorf("signer returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return ParseSignerResponse(respBody)
}

// SignerFunc adapts a function to Signer.
type SignerFunc func(ctx context.Context, payloadHex string) (Signed, error)

func (f SignerFunc) Sign(ctx context.Context, payloadHex string) (Signed, error) {
	return f(ctx, payloadHex)
}
