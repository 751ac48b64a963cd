package filter

import (
	"context"
	"runtime"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// EvaluatorOption configures an evaluator
type EvaluatorOption func(*Evaluator)

// WithWorkers sets the number of goroutines evaluating chunks
func WithWorkers(workers int) EvaluatorOption {
	return func(e *Evaluator) {
		e.workerCount = workers
	}
}

// WithBatchSize sets the number of records below which evaluation is
// sequential
func WithBatchSize(size int) EvaluatorOption {
	return func(e *Evaluator) {
		e.batchSize = size
	}
}

// WithLogger sets the logger for records the filter can't be evaluated for
func WithLogger(logger zerolog.Logger) EvaluatorOption {
	return func(e *Evaluator) {
		e.logger = logger
	}
}

// Evaluator applies filters to records, concurrently for long lists
type Evaluator struct {
	workerCount int
	batchSize   int
	logger      zerolog.Logger
}

// NewEvaluator creates a new evaluator
func NewEvaluator(opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		workerCount: runtime.GOMAXPROCS(0),
		batchSize:   100,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.workerCount <= 0 {
		e.workerCount = 1
	}
	if e.batchSize <= 0 {
		e.batchSize = 1
	}
	return e
}

// Evaluate returns the records matching filter in their original order.
// Records the filter fails on don't match.
func (e *Evaluator) Evaluate(ctx context.Context, filter *Filter, records []Record) ([]Record, error) {
	if len(records) < e.batchSize {
		return e.evaluateChunk(filter, records), nil
	}

	chunkSize := max(len(records)/e.workerCount, e.batchSize)
	chunks := make([][]Record, 0, len(records)/chunkSize+1)
	for i := 0; i < len(records); i += chunkSize {
		chunks = append(chunks, records[i:min(i+chunkSize, len(records))])
	}

	results := make([][]Record, len(chunks))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workerCount)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = e.evaluateChunk(filter, chunk)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var matches []Record
	for _, r := range results {
		matches = append(matches, r...)
	}
	return matches, nil
}

func (e *Evaluator) evaluateChunk(filter *Filter, records []Record) []Record {
	matches := make([]Record, 0, len(records)/4)
	for _, record := range records {
		ok, err := filter.Match(record)
		if err != nil {
			e.logger.Debug().Err(err).Str("key", record.Key).Msg("Skipping record")
			continue
		}
		if ok {
			matches = append(matches, record)
		}
	}
	return matches
}

// Apply filters a decoded call result and returns it in its original shape
func (e *Evaluator) Apply(ctx context.Context, filter *Filter, result any) (any, error) {
	records, err := Records(result)
	if err != nil {
		return nil, err
	}
	matches, err := e.Evaluate(ctx, filter, records)
	if err != nil {
		return nil, err
	}
	return rebuild(result, matches), nil
}
