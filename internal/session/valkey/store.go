package sessionvalkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"
)

var ErrNotFound = errors.New("object not found")

type ObjectType string

// store keeps JSON encoded objects under "<prefix>:<type>:<id>" keys.
type store struct {
	valkey valkey.Client
	prefix string
}

func newStore(client valkey.Client, prefix string) *store {
	return &store{
		valkey: client,
		prefix: strings.TrimSuffix(prefix, ":"),
	}
}

// Set writes v with the given ttl. PX takes whole milliseconds, so a ttl
// below one millisecond writes nothing.
func (s *store) Set(ctx context.Context, objectType ObjectType, objectID string, v any, ttl time.Duration) error {
	if ttl < time.Millisecond {
		return nil
	}

	b, err := s.encode(v)
	if err != nil {
		return err
	}

	cmd := s.valkey.B().Set().Key(s.key(objectType, objectID)).Value(valkey.BinaryString(b)).PxMilliseconds(ttl.Milliseconds()).Build()
	if err := s.valkey.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("executing set command: %w", err)
	}

	return nil
}

func (s *store) Get(ctx context.Context, objectType ObjectType, objectID string, v any) error {
	cmd := s.valkey.B().Get().Key(s.key(objectType, objectID)).Build()

	b, err := s.valkey.Do(ctx, cmd).AsBytes()
	if err != nil {
		valkeyErr, ok := valkey.IsValkeyErr(err)
		if ok && valkeyErr.IsNil() {
			return ErrNotFound
		}

		return fmt.Errorf("executing get command: %w", err)
	}

	return s.decode(b, v)
}

func (s *store) Destroy(ctx context.Context, objectType ObjectType, objectID string) error {
	cmd := s.valkey.B().Del().Key(s.key(objectType, objectID)).Build()
	if err := s.valkey.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("executing del command: %w", err)
	}

	return nil
}

func (s *store) key(objectType ObjectType, objectID string) string {
	return s.prefix + ":" + string(objectType) + ":" + objectID
}

func (s *store) encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling json: %w", err)
	}

	return b, nil
}

func (s *store) decode(b []byte, v any) error {
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("unmarshaling json: %w", err)
	}

	return nil
}
