package repository

import (
	"context"
	stderrors "errors"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/domain"
	"github.com/pesio-ai/be-ap-invoice-pipeline/internal/errors"
)

const (
	stateKeyPrefix = "ap:invoice:state:"
	stateIndexKey  = "ap:invoice:index"
)

// createStateScript stores a new state hash and indexes it by creation time.
var createStateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'state', ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[4])
return 1
`)

// swapStateScript replaces the state when the stored version matches.
// Returns -1 for a missing key, 0 for a version mismatch and 1 on success.
var swapStateScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'version')
if not current then
	return -1
end
if tonumber(current) ~= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[2], 'state', ARGV[3])
return 1
`)

// RedisStateRepository keeps each WorkflowState in a hash and swaps it with
// a Lua script so the version check and write are atomic.
type RedisStateRepository struct {
	client *redis.Client
}

func NewRedisStateRepository(client *redis.Client) *RedisStateRepository {
	return &RedisStateRepository{client: client}
}

func (r *RedisStateRepository) Get(ctx context.Context, invoiceID string) (*domain.WorkflowState, error) {
	vals, err := r.client.HMGet(ctx, stateKeyPrefix+invoiceID, "version", "state").Result()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeUnavailable, "failed to get workflow state")
	}
	return decodeRedisState(invoiceID, vals)
}

func (r *RedisStateRepository) Put(ctx context.Context, state *domain.WorkflowState) error {
	data, err := encodeState(state, 1)
	if err != nil {
		return err
	}

	score := float64(state.CreatedAt.UnixMilli())
	created, err := createStateScript.Run(ctx, r.client,
		[]string{stateKeyPrefix + state.InvoiceID, stateIndexKey},
		1, data, score, state.InvoiceID,
	).Int()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeUnavailable, "failed to create workflow state")
	}
	if created == 0 {
		return errors.AlreadyExists("invoice", state.InvoiceID)
	}
	state.Version = 1
	return nil
}

func (r *RedisStateRepository) CompareAndSwap(ctx context.Context, state *domain.WorkflowState, expectedVersion int64) error {
	next := expectedVersion + 1
	data, err := encodeState(state, next)
	if err != nil {
		return err
	}

	result, err := swapStateScript.Run(ctx, r.client,
		[]string{stateKeyPrefix + state.InvoiceID},
		expectedVersion, next, data,
	).Int()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeUnavailable, "failed to update workflow state")
	}

	switch result {
	case -1:
		return errors.NotFound("invoice", state.InvoiceID)
	case 0:
		return errors.Newf(errors.ErrCodeConflict,
			"invoice %s was modified concurrently (expected version %d)", state.InvoiceID, expectedVersion)
	}
	state.Version = next
	return nil
}

// List walks the creation-time index. Filtering happens client side.
func (r *RedisStateRepository) List(ctx context.Context, filter domain.ListFilter) ([]*domain.WorkflowState, error) {
	ids, err := r.client.ZRange(ctx, stateIndexKey, 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeUnavailable, "failed to read invoice index")
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.SliceCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HMGet(ctx, stateKeyPrefix+id, "version", "state")
	}
	if _, err := pipe.Exec(ctx); err != nil && !stderrors.Is(err, redis.Nil) {
		return nil, errors.Wrap(err, errors.ErrCodeUnavailable, "failed to list workflow states")
	}

	var states []*domain.WorkflowState
	for i, cmd := range cmds {
		state, err := decodeRedisState(ids[i], cmd.Val())
		if errors.IsCode(err, errors.ErrCodeNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !filter.Matches(state) {
			continue
		}
		states = append(states, state)
		if filter.Limit > 0 && len(states) == filter.Limit {
			break
		}
	}
	return states, nil
}

func decodeRedisState(invoiceID string, vals []any) (*domain.WorkflowState, error) {
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return nil, errors.NotFound("invoice", invoiceID)
	}
	versionStr, _ := vals[0].(string)
	data, _ := vals[1].(string)

	version, err := strconv.ParseInt(versionStr, 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to parse workflow state version")
	}
	return decodeState([]byte(data), version)
}
