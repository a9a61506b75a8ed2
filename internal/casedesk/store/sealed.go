package store

import (
	"context"
	"fmt"

	"github.com/aussiebroadwan/casedesk/pkg/cryptox"
)

type sealedRecord struct {
	Record
	sealer cryptox.Sealer
}

// Sealed wraps r so values are sealed before they are written and opened
// after they are read. A value that cannot be opened reads as ErrCorrupt.
func Sealed(r Record, sealer cryptox.Sealer) Record {
	if sealer == nil {
		return r
	}
	return &sealedRecord{Record: r, sealer: sealer}
}

func (s *sealedRecord) Get(ctx context.Context, key string) (string, error) {
	v, err := s.Record.Get(ctx, key)
	if err != nil {
		return "", err
	}

	plain, err := s.sealer.Open(v)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrCorrupt, key)
	}
	return plain, nil
}

func (s *sealedRecord) Put(ctx context.Context, entries map[string]string) error {
	sealed := make(map[string]string, len(entries))
	for k, v := range entries {
		out, err := s.sealer.Seal(v)
		if err != nil {
			return fmt.Errorf("seal %s: %w", k, err)
		}
		sealed[k] = out
	}
	return s.Record.Put(ctx, sealed)
}
