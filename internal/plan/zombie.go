package plan

import (
	"context"
	"strings"

	"github.com/conciergehq/concierge/internal/intent"
)

const (
	minDisplayTitleLen  = 3
	minVoiceConfidence  = 0.6
	zombieSweepScanSize = 500
)

// Zombie is a waiting_approval plan that can never be sensibly approved.
type Zombie struct {
	Plan   Plan   `json:"plan"`
	Reason string `json:"reason"`
}

// Sweeper is a read-only diagnostic; it never mutates plans.
type Sweeper struct {
	store Store
}

func NewSweeper(store Store) *Sweeper {
	return &Sweeper{store: store}
}

func (s *Sweeper) Sweep(ctx context.Context) ([]Zombie, int, error) {
	waiting, err := s.store.ListWaitingApproval(ctx, zombieSweepScanSize)
	if err != nil {
		return nil, 0, err
	}
	out := make([]Zombie, 0, 4)
	for _, p := range waiting {
		if reason := classifyZombie(p); reason != "" {
			out = append(out, Zombie{Plan: p, Reason: reason})
		}
	}
	return out, len(waiting), nil
}

func classifyZombie(p Plan) string {
	payload, err := p.DecodedPayload()
	if err != nil {
		return "payload_undecodable"
	}
	title := strings.TrimSpace(payload.DisplayTitle())
	if len(title) < minDisplayTitleLen {
		return "missing_title"
	}
	if p.Source == intent.SourceVoice && p.Confidence < minVoiceConfidence {
		return "low_confidence"
	}
	return ""
}
