package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/climate-health/chap/pkg/period"
)

// ErrResultNotFound indicates an unknown run ID.
var ErrResultNotFound = errors.New("evaluation result not found")

// ErrInvalidRunID indicates a run ID that cannot name a stored result.
var ErrInvalidRunID = errors.New("invalid run id")

var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateRunID accepts IDs made of letters, digits, dots, dashes and
// underscores that do not start with a dot or separator.
func ValidateRunID(runID string) error {
	if !runIDPattern.MatchString(runID) {
		return fmt.Errorf("%w: %q", ErrInvalidRunID, runID)
	}
	return nil
}

// ResultStore persists completed evaluation results by run ID.
type ResultStore interface {
	// Save stores a completed result
	Save(ctx context.Context, result *Result) error

	// Load retrieves a result by run ID
	Load(ctx context.Context, runID string) (*Result, error)

	// List returns stored run IDs, oldest first
	List(ctx context.Context) ([]string, error)

	// Close closes the storage backend
	Close() error
}

// storedResult is the JSON form of a Result.
type storedResult struct {
	RunID        string        `json:"run_id"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
	SplitPoints  []string      `json:"split_points"`
	Observations []Observation `json:"observations"`
	Failures     []Failure     `json:"failures,omitempty"`
}

// MarshalJSON encodes the result with split points as period labels.
func (r *Result) MarshalJSON() ([]byte, error) {
	s := storedResult{
		RunID:        r.RunID,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
		Observations: r.Table.Observations(),
		Failures:     r.Failures,
	}
	for _, p := range r.SplitPoints {
		s.SplitPoints = append(s.SplitPoints, p.String())
	}
	return json.Marshal(s)
}

// UnmarshalJSON decodes a result written by MarshalJSON.
func (r *Result) UnmarshalJSON(data []byte) error {
	var s storedResult
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	points := make([]period.Period, 0, len(s.SplitPoints))
	for _, label := range s.SplitPoints {
		p, err := period.Parse(label)
		if err != nil {
			return fmt.Errorf("split point: %w", err)
		}
		points = append(points, p)
	}
	table := NewResultTable()
	table.Add(s.Observations...)

	*r = Result{
		RunID:       s.RunID,
		StartedAt:   s.StartedAt,
		FinishedAt:  s.FinishedAt,
		SplitPoints: points,
		Table:       table,
		Failures:    s.Failures,
	}
	return nil
}

// RedisResultStore stores results in Redis: one string key per run and a
// sorted set indexing run IDs by start time.
type RedisResultStore struct {
	client *redis.Client
	prefix string
}

func NewRedisResultStore(addr string, db int, password string) (*RedisResultStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		DB:       db,
		Password: password,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisResultStore{
		client: client,
		prefix: "chap:results",
	}, nil
}

func (s *RedisResultStore) indexKey() string { return s.prefix + ":index" }

func (s *RedisResultStore) runKey(runID string) string { return s.prefix + ":" + runID }

func (s *RedisResultStore) Save(ctx context.Context, result *Result) error {
	if err := ValidateRunID(result.RunID); err != nil {
		return err
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.runKey(result.RunID), data, 0)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  float64(result.StartedAt.UnixNano()),
		Member: result.RunID,
	})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisResultStore) Load(ctx context.Context, runID string) (*Result, error) {
	if err := ValidateRunID(runID); err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, s.runKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrResultNotFound, runID)
	}
	if err != nil {
		return nil, err
	}

	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result %s: %w", runID, err)
	}
	return &result, nil
}

func (s *RedisResultStore) List(ctx context.Context) ([]string, error) {
	return s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
}

func (s *RedisResultStore) Close() error {
	return s.client.Close()
}

// LocalResultStore stores one JSON file per run in a directory.
type LocalResultStore struct {
	dataDir string
}

func NewLocalResultStore(dataDir string) (*LocalResultStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &LocalResultStore{dataDir: dataDir}, nil
}

func (s *LocalResultStore) path(runID string) (string, error) {
	if err := ValidateRunID(runID); err != nil {
		return "", err
	}
	return filepath.Join(s.dataDir, runID+".json"), nil
}

func (s *LocalResultStore) Save(ctx context.Context, result *Result) error {
	target, err := s.path(result.RunID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	// Atomic write via temp file
	tmp, err := os.CreateTemp(s.dataDir, ".result-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write result: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	return os.Rename(tmpName, target)
}

func (s *LocalResultStore) Load(ctx context.Context, runID string) (*Result, error) {
	path, err := s.path(runID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrResultNotFound, runID)
	}
	if err != nil {
		return nil, err
	}

	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result %s: %w", runID, err)
	}
	return &result, nil
}

func (s *LocalResultStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return nil, err
	}

	type run struct {
		id      string
		started time.Time
	}
	var runs []run
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		result, err := s.Load(ctx, id)
		if err != nil {
			continue // Skip unreadable files
		}
		runs = append(runs, run{id: id, started: result.StartedAt})
	}

	sort.Slice(runs, func(i, j int) bool {
		if runs[i].started.Equal(runs[j].started) {
			return runs[i].id < runs[j].id
		}
		return runs[i].started.Before(runs[j].started)
	})
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.id
	}
	return ids, nil
}

func (s *LocalResultStore) Close() error {
	return nil
}
