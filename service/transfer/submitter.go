package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/symfeed/service/metrics"
	"github.com/brojonat/symfeed/service/symbol"
)

var (
	ErrInvalidPayload = errors.New("invalid transaction payload")
	ErrSignFailed     = errors.New("signing failed")
	ErrAnnounceFailed = errors.New("announce failed")
)

// Announcer pushes a signed payload to the network.
type Announcer interface {
	Announce(ctx context.Context, signedPayload string) error
}

// SeedSource supplies the generation hash seed used to derive a transaction
// hash when the signer does not report one.
type SeedSource interface {
	GenerationHashSeed() string
}

// Result describes a successful submission.
type Result struct {
	Hash        string    `json:"hash,omitempty"`
	Payload     string    `json:"payload"`
	AnnouncedAt time.Time `json:"announced_at"`
}

// Submitter signs and announces transactions. Each submission is a single
// attempt; failures are reported, never retried.
type Submitter struct {
	signer    Signer
	announcer Announcer
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewSubmitter creates a Submitter. If announcer implements SeedSource it is
// used to compute missing hashes.
func NewSubmitter(signer Signer, announcer Announcer, m *metrics.Metrics, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Submitter{
		signer:    signer,
		announcer: announcer,
		metrics:   m,
		logger:    logger,
	}
}

// Submit signs payloadHex and announces the result.
func (s *Submitter) Submit(ctx context.Context, payloadHex string) (*Result, error) {
	payloadHex = strings.ToUpper(strings.TrimSpace(payloadHex))
	if err := ValidatePayload(payloadHex); err != nil {
		s.metrics.RecordSubmission("invalid")
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	signed, err := s.signer.Sign(ctx, payloadHex)
	if err != nil {
		s.metrics.RecordSubmission("sign_failed")
		s.logger.WarnContext(ctx, "transaction signing failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrSignFailed, err)
	}

	if signed.Hash == "" {
		if src, ok := s.announcer.(SeedSource); ok {
			if seed := src.GenerationHashSeed(); seed != "" {
				hash, err := symbol.TransactionHash(signed.Payload, seed)
				if err != nil {
					s.logger.DebugContext(ctx, "could not derive transaction hash", "error", err)
				}
				signed.Hash = hash
			}
		}
	}

	if err := s.announcer.Announce(ctx, signed.Payload); err != nil {
		s.metrics.RecordSubmission("announce_failed")
		s.logger.WarnContext(ctx, "transaction announce failed", "hash", signed.Hash, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrAnnounceFailed, err)
	}

	s.metrics.RecordSubmission("success")
	s.logger.InfoContext(ctx, "transaction announced", "hash", signed.Hash)
	return &Result{
		Hash:        signed.Hash,
		Payload:     signed.Payload,
		AnnouncedAt: time.Now().UTC(),
	}, nil
}
