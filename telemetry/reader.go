package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const (
	defaultCollectInterval = time.Second
	defaultCollectTimeout  = 10 * time.Second
	defaultExportInterval  = 60 * time.Second
	defaultExportTimeout   = 30 * time.Second
)

// DiperiodicReader wraps metric.ManualReader to collect on one interval and
// export on a longer one, double-buffering snapshots so a slow export
// never blocks collection. Go's SDK Reader interface has unexported
// methods that prevent an external type from implementing it directly, so
// this embeds ManualReader (which does) and drives its own collect/export
// timing around it.
type DiperiodicReader struct {
	*metric.ManualReader
	exporter metric.Exporter

	collectInterval time.Duration
	collectTimeout  time.Duration
	exportInterval  time.Duration
	exportTimeout   time.Duration

	collectBuffer []metricdata.ResourceMetrics
	exportBuffer  []metricdata.ResourceMetrics
	collectMu     sync.Mutex
	exportMu      sync.Mutex

	collectTicker *time.Ticker
	exportTicker  *time.Ticker
	ctx           context.Context
	cancelFunc    context.CancelFunc
	wg            sync.WaitGroup
	shutdownOnce  sync.Once

	flushChan chan chan error
}

// ReaderOption configures a DiperiodicReader.
type ReaderOption func(*DiperiodicReader)

func WithCollectInterval(d time.Duration) ReaderOption {
	return func(r *DiperiodicReader) { r.collectInterval = d }
}

func WithCollectTimeout(d time.Duration) ReaderOption {
	return func(r *DiperiodicReader) { r.collectTimeout = d }
}

func WithExportInterval(d time.Duration) ReaderOption {
	return func(r *DiperiodicReader) { r.exportInterval = d }
}

func WithExportTimeout(d time.Duration) ReaderOption {
	return func(r *DiperiodicReader) { r.exportTimeout = d }
}

// NewDiperiodicReader starts the collect/export goroutines and returns the
// reader to register with an OTel MeterProvider.
func NewDiperiodicReader(exporter metric.Exporter, opts ...ReaderOption) metric.Reader {
	ctx, cancel := context.WithCancel(context.Background())
	r := &DiperiodicReader{
		ManualReader:    metric.NewManualReader(),
		exporter:        exporter,
		collectInterval: defaultCollectInterval,
		collectTimeout:  defaultCollectTimeout,
		exportInterval:  defaultExportInterval,
		exportTimeout:   defaultExportTimeout,
		ctx:             ctx,
		cancelFunc:      cancel,
		flushChan:       make(chan chan error, 1),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.collectTicker = time.NewTicker(r.collectInterval)
	r.exportTicker = time.NewTicker(r.exportInterval)

	r.wg.Add(2)
	go r.collectDaemon()
	go r.exportDaemon()

	return r
}

// ForceFlush collects and exports immediately.
func (r *DiperiodicReader) ForceFlush(ctx context.Context) error {
	errCh := make(chan error, 1)
	select {
	case r.flushChan <- errCh:
		select {
		case err := <-errCh:
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	return r.exporter.ForceFlush(ctx)
}

// Shutdown stops the background goroutines, flushes what remains, and
// shuts down the embedded reader and exporter.
func (r *DiperiodicReader) Shutdown(ctx context.Context) error {
	var err error
	r.shutdownOnce.Do(func() {
		r.cancelFunc()
		r.wg.Wait()
		if r.collectTicker != nil {
			r.collectTicker.Stop()
		}
		if r.exportTicker != nil {
			r.exportTicker.Stop()
		}
		r.doExport(ctx)
		if err2 := r.ManualReader.Shutdown(ctx); err2 != nil {
			err = err2
		}
		if err2 := r.exporter.Shutdown(ctx); err2 != nil && err == nil {
			err = err2
		}
	})
	return err
}

func (r *DiperiodicReader) collectDaemon() {
	defer r.wg.Done()
	for {
		select {
		case <-r.collectTicker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.collectTimeout)
			r.doCollect(ctx)
			cancel()
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *DiperiodicReader) exportDaemon() {
	defer r.wg.Done()
	for {
		select {
		case <-r.exportTicker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.exportTimeout)
			r.doExport(ctx)
			cancel()
		case errCh := <-r.flushChan:
			ctx, cancel := context.WithTimeout(context.Background(), r.exportTimeout)
			r.doCollect(ctx)
			err := r.doExport(ctx)
			cancel()
			errCh <- err
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *DiperiodicReader) doCollect(ctx context.Context) error {
	var rm metricdata.ResourceMetrics
	if err := r.ManualReader.Collect(ctx, &rm); err != nil {
		otel.Handle(err)
		return err
	}
	r.collectMu.Lock()
	defer r.collectMu.Unlock()
	r.collectBuffer = append(r.collectBuffer, rm)
	return nil
}

// doExport rotates the collect buffer into the export buffer under a brief
// lock, then exports outside it so collection is never blocked on a slow
// exporter call.
func (r *DiperiodicReader) doExport(ctx context.Context) error {
	r.exportMu.Lock()
	defer r.exportMu.Unlock()

	r.collectMu.Lock()
	r.exportBuffer = r.collectBuffer
	r.collectBuffer = nil
	r.collectMu.Unlock()

	if len(r.exportBuffer) == 0 {
		return nil
	}

	merged := r.exportBuffer[0]
	for i := 1; i < len(r.exportBuffer); i++ {
		merged.ScopeMetrics = append(merged.ScopeMetrics, r.exportBuffer[i].ScopeMetrics...)
	}

	err := r.exporter.Export(ctx, &merged)
	if err != nil {
		otel.Handle(err)
	}
	r.exportBuffer = nil
	return err
}
