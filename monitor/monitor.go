// Package monitor detects changes in regulatory-filing documents tracked by
// RIN. Each pass resolves the latest publication batch, fetches the current
// document for every tracked identifier, compares its normalized fingerprint
// against the most recent retained snapshot, and notifies on mismatch. All
// cross-run state lives in the snapshot store; the service itself is
// stateless between passes.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/danbauman77/reginfo-monitor/monitor/catalog"
	"github.com/danbauman77/reginfo-monitor/monitor/internal/fetch"
	"github.com/danbauman77/reginfo-monitor/monitor/internal/journal"
	"github.com/danbauman77/reginfo-monitor/monitor/internal/mail"
	"github.com/danbauman77/reginfo-monitor/monitor/internal/snapshot"
)

// Resolver produces candidate publication batch ids, newest batches
// preferred but order not relied upon; the orchestrator picks the maximum.
type Resolver interface {
	AvailableBatches(ctx context.Context) ([]string, error)
}

// Fetcher retrieves one rule document from one publication batch. Errors
// must wrap ErrFetchFailed or ErrDocumentNotFound.
type Fetcher interface {
	Fetch(ctx context.Context, rin, pubID string) (string, error)
}

// Notice carries everything a change notification needs.
type Notice struct {
	RIN      string
	OldBatch string
	NewBatch string
	Diff     string
	OldPath  string
	NewPath  string
}

// Notifier delivers change notifications. delivered is false when the
// notifier is unconfigured; errors are logged by the caller, never fatal.
type Notifier interface {
	Notify(ctx context.Context, n Notice) (delivered bool, err error)
}

// Summary aggregates one pass over the tracked set.
type Summary struct {
	Identifiers int
	Changes     int
	Failures    int
	RunID       string
}

// Service is the change-detection orchestrator. Collaborators are fixed at
// construction; there is no ambient configuration.
type Service struct {
	cfg      Config
	resolver Resolver
	fetcher  Fetcher
	store    *snapshot.Store
	notifier Notifier
	journal  *journal.Journal
	logger   *slog.Logger
}

// Option overrides a collaborator, mainly for tests.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithResolver replaces the catalog resolver.
func WithResolver(r Resolver) Option { return func(s *Service) { s.resolver = r } }

// WithFetcher replaces the document fetcher.
func WithFetcher(f Fetcher) Option { return func(s *Service) { s.fetcher = f } }

// WithNotifier replaces the notifier.
func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

// New builds a Service from cfg: catalog client, HTTP fetcher, filesystem
// snapshot store, SMTP notifier and, when cfg.Journal is set, the run
// journal. Options substitute collaborators after the defaults are built.
func New(cfg Config, opts ...Option) (*Service, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := slog.Default()
	svc := &Service{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(svc)
	}

	if svc.resolver == nil {
		svc.resolver = catalog.NewClient(catalog.Config{}, svc.logger.With("component", "catalog"))
	}
	if svc.fetcher == nil {
		svc.fetcher = httpFetcher{fetch.New(fetch.Config{})}
	}
	if svc.store == nil {
		svc.store = snapshot.New(cfg.DataDirectory, cfg.KeepCount(), svc.logger.With("component", "snapshot"))
	}
	if svc.notifier == nil {
		svc.notifier = mailNotifier{mail.New(mail.Config{
			Host:     cfg.Email.SMTPServer,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.FromAddress,
			To:       cfg.Email.ToAddress,
		}, svc.logger.With("component", "mail"))}
	}
	if svc.journal == nil && cfg.Journal != "" {
		j, err := journal.Open(cfg.Journal)
		if err != nil {
			return nil, fmt.Errorf("monitor: open journal: %w", err)
		}
		svc.journal = j
	}
	return svc, nil
}

// Close releases the service's durable resources (the journal).
func (s *Service) Close() error {
	if s.journal != nil {
		return s.journal.Close()
	}
	return nil
}

// Journal exposes the run journal, nil when journaling is disabled.
func (s *Service) Journal() *journal.Journal {
	return s.journal
}

// Run performs one pass over the tracked identifiers. Per-identifier
// failures are contained: they count toward Summary.Failures and never stop
// the rest of the set. Run returns an error only for pass-level faults.
func (s *Service) Run(ctx context.Context) (Summary, error) {
	sum := Summary{Identifiers: len(s.cfg.RINs)}

	if s.journal != nil {
		id, err := s.journal.StartRun(ctx)
		if err != nil {
			s.logger.Warn("journal: start run", "error", err)
		} else {
			sum.RunID = id
		}
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.cfg.MaxConcurrent)
	)
	for _, rin := range s.cfg.RINs {
		if ctx.Err() != nil {
			mu.Lock()
			sum.Failures++
			mu.Unlock()
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(rin string) {
			defer wg.Done()
			defer func() { <-sem }()
			changed, err := s.checkOne(ctx, rin, sum.RunID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				sum.Failures++
				return
			}
			if changed {
				sum.Changes++
			}
		}(rin)
	}
	wg.Wait()

	if s.journal != nil && sum.RunID != "" {
		if err := s.journal.FinishRun(ctx, sum.RunID, sum.Identifiers, sum.Changes, sum.Failures); err != nil {
			s.logger.Warn("journal: finish run", "error", err)
		}
	}

	s.logger.Info("pass complete",
		"identifiers", sum.Identifiers, "changes", sum.Changes, "failures", sum.Failures)
	return sum, nil
}

// checkOne runs the full state machine for one identifier: resolve the
// latest batch, fetch, compare against the retained snapshot, write, and
// notify on change. A snapshot is written on every successful fetch, change
// or not, so the next pass's baseline is always the freshest content.
func (s *Service) checkOne(ctx context.Context, rin, runID string) (changed bool, err error) {
	log := s.logger.With("rin", rin)
	started := time.Now()

	rec := journal.FetchRecord{RunID: runID, RIN: rin}
	defer func() {
		rec.DurationMs = time.Since(started).Milliseconds()
		rec.Changed = changed
		if err != nil {
			rec.ErrorMessage = err.Error()
			if rec.Status == "" {
				rec.Status = journal.StatusError
			}
		}
		s.record(ctx, &rec)
	}()

	pubID, err := s.latestBatch(ctx)
	if err != nil {
		log.Error("catalog unavailable", "error", err)
		return false, err
	}
	rec.PubID = pubID
	log = log.With("pub_id", pubID)

	body, err := s.fetcher.Fetch(ctx, rin, pubID)
	if err != nil {
		if errors.Is(err, ErrDocumentNotFound) {
			rec.Status = journal.StatusNotFound
			log.Warn("document not in batch", "error", err)
		} else {
			log.Error("fetch failed", "error", err)
		}
		return false, err
	}
	rec.ContentHash = Fingerprint(body)

	prev, havePrev, err := s.store.Latest(rin)
	if err != nil {
		log.Error("snapshot lookup failed", "error", err)
		return false, fmt.Errorf("%w: %v", ErrSnapshotWrite, err)
	}

	// The retained copy may be swept away by the write below (keep count 1,
	// or 0), so its content must be in hand before writing.
	var prevContent string
	if havePrev {
		prevContent, err = s.store.Content(prev)
		if err != nil {
			log.Error("snapshot read failed", "error", err)
			return false, fmt.Errorf("%w: %v", ErrSnapshotWrite, err)
		}
	}

	path, err := s.store.Write(rin, pubID, body)
	if err != nil {
		log.Error("snapshot write failed", "error", err)
		return false, fmt.Errorf("%w: %v", ErrSnapshotWrite, err)
	}

	if !havePrev {
		rec.Status = journal.StatusBaseline
		log.Info("baseline established", "path", path)
		return false, nil
	}

	if Fingerprint(prevContent) == rec.ContentHash {
		rec.Status = journal.StatusUnchanged
		log.Info("no change")
		return false, nil
	}

	rec.Status = journal.StatusOK
	diff := Diff(prevContent, body)
	log.Info("change detected", "old_pub_id", prev.PubID, "diff_bytes", len(diff))

	delivered, nerr := s.notifier.Notify(ctx, Notice{
		RIN:      rin,
		OldBatch: prev.PubID,
		NewBatch: pubID,
		Diff:     diff,
		OldPath:  prev.Path,
		NewPath:  path,
	})
	if nerr != nil {
		// Snapshot state is already committed; delivery failure is
		// diagnostic only.
		log.Error("notification failed", "error", nerr)
	} else if !delivered {
		log.Info("notification skipped, notifier not configured")
	}
	return true, nil
}

// latestBatch picks the maximum available publication batch id.
func (s *Service) latestBatch(ctx context.Context) (string, error) {
	batches, err := s.resolver.AvailableBatches(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	if len(batches) == 0 {
		return "", ErrCatalogUnavailable
	}
	latest := batches[0]
	for _, b := range batches[1:] {
		if b > latest {
			latest = b
		}
	}
	return latest, nil
}

func (s *Service) record(ctx context.Context, rec *journal.FetchRecord) {
	if s.journal == nil || rec.RunID == "" {
		return
	}
	if err := s.journal.RecordFetch(ctx, rec); err != nil {
		s.logger.Warn("journal: record fetch", "rin", rec.RIN, "error", err)
	}
}

// httpFetcher adapts the HTTP fetcher to the Fetcher interface, mapping its
// errors onto the monitor taxonomy.
type httpFetcher struct {
	f *fetch.Fetcher
}

func (h httpFetcher) Fetch(ctx context.Context, rin, pubID string) (string, error) {
	res, err := h.f.Fetch(ctx, rin, pubID)
	if err != nil {
		if errors.Is(err, fetch.ErrNotFound) {
			return "", fmt.Errorf("%w: %v", ErrDocumentNotFound, err)
		}
		return "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return res.Body, nil
}

// mailNotifier adapts the SMTP mailer to the Notifier interface.
type mailNotifier struct {
	m *mail.Mailer
}

func (mn mailNotifier) Notify(ctx context.Context, n Notice) (bool, error) {
	return mn.m.Notify(ctx, mail.ChangeNotice{
		RIN:      n.RIN,
		OldBatch: n.OldBatch,
		NewBatch: n.NewBatch,
		Diff:     n.Diff,
		OldPath:  n.OldPath,
		NewPath:  n.NewPath,
		OldURL:   fetch.RuleURL("https://www.reginfo.gov/public/do", n.RIN, n.OldBatch),
		NewURL:   fetch.RuleURL("https://www.reginfo.gov/public/do", n.RIN, n.NewBatch),
	})
}
