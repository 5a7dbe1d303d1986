// Package coord keeps separate lsmirror processes from running the same job at
// once and records the outcome of the last run of each job.
package coord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	leasePrefix = "lsmirror:lease:"
	statePrefix = "lsmirror:state:"
	stateTTL    = 7 * 24 * time.Hour
)

// DefaultLeaseTTL bounds how long a crashed holder can block a job.
const DefaultLeaseTTL = 30 * time.Minute

// ErrBusy is returned by Acquire when another process holds the job lease.
var ErrBusy = errors.New("job lease held by another process")

// RunState is the persisted summary of one job run.
type RunState struct {
	RunID      string    `json:"run_id" yaml:"run_id"`
	Job        string    `json:"job" yaml:"job"`
	Outcome    string    `json:"outcome" yaml:"outcome"`
	Error      string    `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
}

// Coordinator guards jobs and remembers their last run.
type Coordinator interface {
	Acquire(ctx context.Context, job string) (release func(), err error)
	Record(ctx context.Context, state RunState) error
	LastRun(ctx context.Context, job string) (*RunState, error)
	Close() error
}

// RedisClient abstracts the Redis operations used for leases and run state.
type RedisClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// Both scripts only touch the lease while it still carries the caller's token.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
)

var _ RedisClient = (*redis.Client)(nil)

// Options configures a Redis coordinator.
type Options struct {
	Addr     string
	Password string
	DB       int
	LeaseTTL time.Duration
	Logger   *slog.Logger
}

// Redis coordinates through a shared Redis instance.
type Redis struct {
	rdb      RedisClient
	leaseTTL time.Duration
	logger   *slog.Logger
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, opts Options) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}
	return NewRedis(rdb, opts.LeaseTTL, opts.Logger), nil
}

// NewRedis wraps an existing client.
func NewRedis(rdb RedisClient, leaseTTL time.Duration, logger *slog.Logger) *Redis {
	if leaseTTL <= 0 {
		leaseTTL = DefaultLeaseTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{rdb: rdb, leaseTTL: leaseTTL, logger: logger}
}

// Acquire takes the lease for job and keeps extending it until release is
// called. Release and renewal only act while the lease still carries this
// holder's token.
func (r *Redis) Acquire(ctx context.Context, job string) (func(), error) {
	key := leasePrefix + job
	token := uuid.NewString()
	ok, err := r.rdb.SetNX(ctx, key, token, r.leaseTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", job, err)
	}
	if !ok {
		holder, _ := r.rdb.Get(ctx, key).Result()
		r.logger.Info("job lease busy", "job", job, "holder", holder)
		return nil, ErrBusy
	}

	// Release must run even after the job's context was canceled.
	bg := context.WithoutCancel(ctx)
	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepAlive(bg, job, key, token, stop, done)

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			<-done
			rctx, cancel := context.WithTimeout(bg, 5*time.Second)
			defer cancel()
			n, err := releaseScript.Run(rctx, r.rdb, []string{key}, token).Int64()
			if err != nil {
				r.logger.Warn("release job lease failed", "job", job, "error", err)
				return
			}
			if n == 0 {
				r.logger.Warn("job lease taken over before release", "job", job)
			}
		})
	}
	return release, nil
}

// keepAlive extends the lease every third of its TTL so long passes keep it.
func (r *Redis) keepAlive(ctx context.Context, job, key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.leaseTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			n, err := refreshScript.Run(rctx, r.rdb, []string{key}, token, r.leaseTTL.Milliseconds()).Int64()
			cancel()
			if err != nil {
				r.logger.Warn("extend job lease failed", "job", job, "error", err)
				continue
			}
			if n == 0 {
				r.logger.Warn("job lease lost while running", "job", job)
				return
			}
		}
	}
}

// Record stores the last run of a job.
func (r *Redis) Record(ctx context.Context, state RunState) error {
	if state.RunID == "" {
		state.RunID = uuid.NewString()
	}
	b, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, statePrefix+state.Job, b, stateTTL).Err(); err != nil {
		return fmt.Errorf("record run state %s: %w", state.Job, err)
	}
	return nil
}

// LastRun returns the last recorded run of job, or nil when none exists.
func (r *Redis) LastRun(ctx context.Context, job string) (*RunState, error) {
	raw, err := r.rdb.Get(ctx, statePrefix+job).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read run state %s: %w", job, err)
	}
	var state RunState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("decode run state %s: %w", job, err)
	}
	return &state, nil
}

// Close closes the Redis client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

// Noop is used when no Redis address is configured: every lease is granted and
// run state lives only in memory.
type Noop struct {
	last map[string]RunState
}

// NewNoop returns a coordinator without cross-process guarding.
func NewNoop() *Noop {
	return &Noop{last: map[string]RunState{}}
}

func (n *Noop) Acquire(ctx context.Context, job string) (func(), error) {
	return func() {}, nil
}

func (n *Noop) Record(ctx context.Context, state RunState) error {
	n.last[state.Job] = state
	return nil
}

func (n *Noop) LastRun(ctx context.Context, job string) (*RunState, error) {
	state, ok := n.last[job]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (n *Noop) Close() error { return nil }

var (
	_ Coordinator = (*Redis)(nil)
	_ Coordinator = (*Noop)(nil)
)

// Guard wraps fn with the job lease and records its outcome. A busy lease skips
// the run and returns nil.
func Guard(ctx context.Context, c Coordinator, job string, logger *slog.Logger, fn func(ctx context.Context) error) error {
	if logger == nil {
		logger = slog.Default()
	}
	release, err := c.Acquire(ctx, job)
	if errors.Is(err, ErrBusy) {
		logger.Info("skipping run, another process holds the lease", "job", job)
		return nil
	}
	if err != nil {
		return err
	}
	defer release()

	state := RunState{RunID: uuid.NewString(), Job: job, StartedAt: time.Now().UTC()}
	runErr := fn(ctx)
	state.FinishedAt = time.Now().UTC()
	state.Outcome = "ok"
	if runErr != nil {
		state.Outcome = "failed"
		state.Error = runErr.Error()
	}
	if err := c.Record(context.WithoutCancel(ctx), state); err != nil {
		logger.Warn("record run state failed", "job", job, "error", err)
	}
	return runErr
}
