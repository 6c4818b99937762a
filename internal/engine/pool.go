package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"patternlattice/internal/config"
	"patternlattice/internal/logging"
)

// Job is one document to process. Feed adds its inputs.
type Job struct {
	Name string
	Feed func(d *Document) error
	// Keep leaves the document open after processing so the caller can
	// read its activations; the caller must Close it.
	Keep bool
}

// Pool processes documents in parallel over one model.
type Pool struct {
	model   *Model
	limit   int
	timeout time.Duration
}

// NewPool creates a pool bounded by the worker configuration.
func NewPool(m *Model, cfg config.WorkersConfig) *Pool {
	limit := cfg.Documents
	if limit < 1 {
		limit = 1
	}
	timeout, err := time.ParseDuration(cfg.DocumentTimeout)
	if err != nil {
		timeout = 0
	}
	return &Pool{model: m, limit: limit, timeout: timeout}
}

// Run processes every job and returns their results in job order. Failed
// documents are reported in their result; the returned error stops the
// pool on a feed error or a shared-state failure.
func (p *Pool) Run(ctx context.Context, jobs []Job) ([]*Result, []*Document, error) {
	results := make([]*Result, len(jobs))
	docs := make([]*Document, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.limit)
	timer := logging.StartTimer(logging.CategoryPool, fmt.Sprintf("run %d documents", len(jobs)))
	defer timer.Stop()

	for i, job := range jobs {
		g.Go(func() error {
			d := p.model.NewDocument(job.Name)
			if job.Feed != nil {
				if err := job.Feed(d); err != nil {
					d.Close()
					return fmt.Errorf("document %s: %w", d.Name, err)
				}
			}
			dctx := gctx
			if p.timeout > 0 {
				var cancel context.CancelFunc
				dctx, cancel = context.WithTimeout(gctx, p.timeout)
				defer cancel()
			}
			res, err := d.Process(dctx)
			if err != nil {
				d.Close()
				return fmt.Errorf("document %s: %w", d.Name, err)
			}
			results[i] = res
			if job.Keep {
				docs[i] = d
			} else {
				d.Close()
			}
			logging.PoolDebug("Document %s: %s", d.Name, res.Status)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logging.PoolWarn("Pool stopped: %v", err)
		for _, d := range docs {
			if d != nil {
				d.Close()
			}
		}
		return results, nil, err
	}
	return results, docs, nil
}
