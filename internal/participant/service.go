package participant

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wichananm65/participant-service/internal/metrics"
	"github.com/wichananm65/participant-service/internal/recordstore"
	"github.com/wichananm65/participant-service/internal/saga"
)

// Service implements the participant use cases on top of a record store.
// It holds no mutable state; concurrent requests only meet in the store.
type Service struct {
	store   recordstore.Store
	policy  saga.Policy
	runner  saga.Runner
	logger  *zap.Logger
	metrics *metrics.Metrics
}

type Option func(*Service)

// WithPolicy selects how create and update react to a failed write step.
func WithPolicy(p saga.Policy) Option {
	return func(s *Service) { s.policy = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(store recordstore.Store, opts ...Option) *Service {
	s := &Service{store: store, policy: saga.BestEffort, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.runner = saga.NewRunner(s.policy, s.logger)
	return s
}

func (s *Service) List(ctx context.Context) ([]Participant, error) {
	recs, err := s.store.List(ctx)
	if err != nil {
		return nil, storeError(err)
	}
	return s.participants(recs)
}

// ListActive returns participants whose active flag is true. The filter is
// evaluated by the store.
func (s *Service) ListActive(ctx context.Context) ([]Participant, error) {
	return s.listByActive(ctx, true)
}

func (s *Service) ListInactive(ctx context.Context) ([]Participant, error) {
	return s.listByActive(ctx, false)
}

func (s *Service) listByActive(ctx context.Context, active bool) ([]Participant, error) {
	recs, err := s.store.Filter(ctx, activeField, active)
	if err != nil {
		return nil, storeError(err)
	}
	return s.participants(recs)
}

func (s *Service) participants(recs []recordstore.Record) ([]Participant, error) {
	out, err := fromRecords(recs)
	if err != nil {
		return nil, storeError(err)
	}
	return out, nil
}

// Get returns an active participant. Inactive participants still exist but
// are hidden from single-record reads.
func (s *Service) Get(ctx context.Context, email string) (Participant, error) {
	return s.getActive(ctx, email)
}

func (s *Service) GetWork(ctx context.Context, email string) (WorkFragment, error) {
	var work WorkFragment
	err := s.getFragment(ctx, email, workFragment, &work, errWorkNotFound)
	return work, err
}

func (s *Service) GetHome(ctx context.Context, email string) (HomeFragment, error) {
	var home HomeFragment
	err := s.getFragment(ctx, email, homeFragment, &home, errHomeNotFound)
	return home, err
}

func (s *Service) getFragment(ctx context.Context, email, name string, dst any, missing error) error {
	if _, err := s.getActive(ctx, email); err != nil {
		return err
	}
	doc, err := s.store.Fragment(email, name).Get(ctx)
	if errors.Is(err, recordstore.ErrNotFound) {
		return missing
	}
	if err != nil {
		return storeError(err)
	}
	if err := recordstore.FromDoc(doc, dst); err != nil {
		return storeError(err)
	}
	return nil
}

func (s *Service) getActive(ctx context.Context, email string) (Participant, error) {
	rec, err := s.store.Get(ctx, email)
	if errors.Is(err, recordstore.ErrNotFound) {
		return Participant{}, errNotFound
	}
	if err != nil {
		return Participant{}, storeError(err)
	}
	p, err := fromRecord(rec)
	if err != nil {
		return Participant{}, storeError(err)
	}
	if !p.Active {
		return Participant{}, errInactive
	}
	return p, nil
}

// Create writes a new participant with its work and home fragments. The
// existence check and the writes are separate store calls, so two
// concurrent creates for the same email can both pass the check.
func (s *Service) Create(ctx context.Context, in Input) (Result, error) {
	if err := validateInput(in); err != nil {
		return Result{}, err
	}

	_, err := s.store.Get(ctx, in.Email)
	switch {
	case err == nil:
		return Result{}, errDuplicate
	case !errors.Is(err, recordstore.ErrNotFound):
		return Result{}, storeError(err)
	}

	steps, err := s.createSteps(in)
	if err != nil {
		return Result{}, storeError(err)
	}
	if err := s.runWrite(ctx, steps); err != nil {
		return Result{}, err
	}
	if s.metrics != nil {
		s.metrics.ParticipantsCreated.Inc()
	}
	return s.readBack(ctx, in.Email)
}

// Update overwrites the profile and both fragments of the participant named
// by the body email, forcing active back to true. There is no existence
// check: updating an unknown email creates it, and updating a deactivated
// participant reactivates it. pathEmail is only compared for logging.
func (s *Service) Update(ctx context.Context, pathEmail string, in Input) (Result, error) {
	if err := validateInput(in); err != nil {
		return Result{}, err
	}
	if pathEmail != "" && pathEmail != in.Email {
		s.logger.Warn("update path email differs from body email, writing body email",
			zap.String("path_email", pathEmail), zap.String("body_email", in.Email))
	}

	steps, err := s.updateSteps(ctx, in)
	if err != nil {
		return Result{}, storeError(err)
	}
	if err := s.runWrite(ctx, steps); err != nil {
		return Result{}, err
	}
	if s.metrics != nil {
		s.metrics.ParticipantsUpdated.Inc()
	}
	return s.readBack(ctx, in.Email)
}

// Deactivate flips active to false. Deactivating twice is an error.
func (s *Service) Deactivate(ctx context.Context, email string) error {
	rec, err := s.store.Get(ctx, email)
	if errors.Is(err, recordstore.ErrNotFound) {
		return errNotFound
	}
	if err != nil {
		return storeError(err)
	}
	p, err := fromRecord(rec)
	if err != nil {
		return storeError(err)
	}
	if !p.Active {
		return errAlreadyInactive
	}
	if err := s.store.Set(ctx, email, recordstore.Doc{activeField: false}); err != nil {
		return storeError(err)
	}
	if s.metrics != nil {
		s.metrics.ParticipantsDeactivated.Inc()
	}
	return nil
}

func (s *Service) runWrite(ctx context.Context, steps []saga.Step) error {
	err := s.runner.Run(ctx, steps)
	if err == nil {
		return nil
	}
	var stepErr *saga.StepError
	if errors.As(err, &stepErr) && s.metrics != nil {
		s.metrics.WriteFailures.WithLabelValues(stepErr.Step).Inc()
	}
	return storeError(err)
}

// readBack fetches the profile and both fragments concurrently. A fragment
// that is missing reads back as nil.
func (s *Service) readBack(ctx context.Context, email string) (Result, error) {
	var (
		res        Result
		work, home recordstore.Doc
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rec, err := s.store.Get(gctx, email)
		if err != nil {
			return err
		}
		res.Item, err = fromRecord(rec)
		return err
	})
	g.Go(func() error {
		var err error
		work, err = optionalFragment(gctx, s.store.Fragment(email, workFragment))
		return err
	})
	g.Go(func() error {
		var err error
		home, err = optionalFragment(gctx, s.store.Fragment(email, homeFragment))
		return err
	})
	if err := g.Wait(); err != nil {
		return Result{}, storeError(err)
	}

	if work != nil {
		res.Work = &WorkFragment{}
		if err := recordstore.FromDoc(work, res.Work); err != nil {
			return Result{}, storeError(err)
		}
	}
	if home != nil {
		res.Home = &HomeFragment{}
		if err := recordstore.FromDoc(home, res.Home); err != nil {
			return Result{}, storeError(err)
		}
	}
	return res, nil
}

func optionalFragment(ctx context.Context, f recordstore.Fragment) (recordstore.Doc, error) {
	doc, err := f.Get(ctx)
	if errors.Is(err, recordstore.ErrNotFound) {
		return nil, nil
	}
	return doc, err
}
