package certificates

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type BatchItemError struct {
	Subject Subject `json:"subject"`
	Step    Step    `json:"step,omitempty"`
	Error   string  `json:"error"`
}

// BatchResult summarizes a bulk generation run
type BatchResult struct {
	Generated int              `json:"generated"`
	Updated   int              `json:"updated"`
	Failed    int              `json:"failed"`
	Errors    []BatchItemError `json:"errors"`
}

// GenerateBatch runs Generate for every request on a bounded pool. Each item
// succeeds or fails on its own.
func (m *Manager) GenerateBatch(ctx context.Context, templateID uint, reqs []GenerateRequest) *BatchResult {
	var (
		mu     sync.Mutex
		result = &BatchResult{Errors: []BatchItemError{}}
	)

	var g errgroup.Group
	g.SetLimit(m.opts.MaxConcurrent)

	for _, req := range reqs {
		req := req
		req.TemplateID = templateID
		g.Go(func() error {
			var (
				out *Outcome
				err = ctx.Err()
			)
			if err == nil {
				out, err = m.Generate(ctx, req)
			}

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				result.Failed++
				item := BatchItemError{Subject: req.Subject, Error: err.Error()}
				var lerr *LifecycleError
				if errors.As(err, &lerr) {
					item.Step = lerr.Step
				}
				result.Errors = append(result.Errors, item)
			case out.Regenerated:
				result.Updated++
			default:
				result.Generated++
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(result.Errors, func(i, j int) bool {
		return result.Errors[i].Subject.String() < result.Errors[j].Subject.String()
	})

	m.logger.Info("Bulk certificate generation finished",
		zap.Uint("template_id", templateID),
		zap.Int("requested", len(reqs)),
		zap.Int("generated", result.Generated),
		zap.Int("updated", result.Updated),
		zap.Int("failed", result.Failed))
	return result
}
