// Package enricher resolves the image records an event or detail record
// references.
package enricher

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/telhawk-systems/resulthub/common/logging"
	"github.com/telhawk-systems/resulthub/internal/metrics"
	"github.com/telhawk-systems/resulthub/internal/models"
	"github.com/telhawk-systems/resulthub/internal/store"
)

// ImageSource is the part of the document store the enricher reads.
type ImageSource interface {
	GetImage(ctx context.Context, id string) (models.Record, error)
}

// Enricher resolves related records. Lookup failures are logged and reported
// as absent; they never fail the caller.
type Enricher struct {
	images  ImageSource
	cache   *Cache
	timeout time.Duration
	logger  *logging.Logger
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithCache enables a read-through image cache.
func WithCache(c *Cache) Option {
	return func(e *Enricher) { e.cache = c }
}

// WithTimeout bounds each lookup.
func WithTimeout(d time.Duration) Option {
	return func(e *Enricher) { e.timeout = d }
}

func New(images ImageSource, logger *logging.Logger, opts ...Option) *Enricher {
	if logger == nil {
		logger = logging.Nop()
	}
	e := &Enricher{
		images:  images,
		timeout: 5 * time.Second,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resolve returns the image record for id, or false when it is missing or
// the lookup failed.
func (e *Enricher) Resolve(ctx context.Context, id string) (models.Record, bool) {
	if id == "" {
		return nil, false
	}

	if rec, err := e.cache.Get(ctx, id); err != nil {
		e.logger.Warn("image cache read failed", "image_id", id, logging.Error(err))
	} else if rec != nil {
		metrics.EnrichmentLookups.WithLabelValues("cache_hit").Inc()
		return rec, true
	}

	lookupCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	rec, err := e.images.GetImage(lookupCtx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		metrics.EnrichmentLookups.WithLabelValues("not_found").Inc()
		e.logger.Debug("image not found", "image_id", id)
		return nil, false
	case errors.Is(err, context.Canceled):
		metrics.EnrichmentLookups.WithLabelValues("canceled").Inc()
		return nil, false
	case err != nil:
		metrics.EnrichmentLookups.WithLabelValues("error").Inc()
		e.logger.Warn("image lookup failed", "image_id", id, logging.Error(err))
		return nil, false
	}

	metrics.EnrichmentLookups.WithLabelValues("found").Inc()
	if err := e.cache.Set(ctx, id, rec); err != nil {
		e.logger.Warn("image cache write failed", "image_id", id, logging.Error(err))
	}
	return rec, true
}

// Resolved holds the outcome of Enrich; nil means absent.
type Resolved struct {
	Image1 models.Record
	Image2 models.Record
}

// errImage1Unresolved cancels the image2 lookup once image1 is known to be
// absent.
var errImage1Unresolved = errors.New("image1 unresolved")

// Enrich resolves both references. image2 is only reported when image1
// resolved: the lookups run concurrently and a failed image1 cancels the
// image2 lookup.
func (e *Enricher) Enrich(ctx context.Context, refs models.Refs) Resolved {
	var out Resolved
	if refs.Image1ID == "" {
		return out
	}

	start := time.Now()
	defer func() {
		metrics.EnrichmentDuration.Observe(time.Since(start).Seconds())
	}()

	if refs.Image2ID == "" {
		out.Image1, _ = e.Resolve(ctx, refs.Image1ID)
		return out
	}

	var image2 models.Record
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rec, ok := e.Resolve(gctx, refs.Image1ID)
		if !ok {
			return errImage1Unresolved
		}
		out.Image1 = rec
		return nil
	})
	g.Go(func() error {
		image2, _ = e.Resolve(gctx, refs.Image2ID)
		return nil
	})
	if err := g.Wait(); err != nil {
		return Resolved{}
	}

	out.Image2 = image2
	return out
}

// Attach returns a copy of rec with the resolved images inlined as "image1"
// and "image2". Absent images leave their field unset, and image2 is never
// attached without image1.
func (e *Enricher) Attach(ctx context.Context, rec models.Record, refs models.Refs) models.Record {
	out := rec.Clone()
	resolved := e.Enrich(ctx, refs)
	if resolved.Image1 != nil {
		out["image1"] = resolved.Image1
	}
	if resolved.Image2 != nil {
		out["image2"] = resolved.Image2
	}
	return out
}
