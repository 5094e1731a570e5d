package participant

import (
	"context"
	"errors"

	"github.com/wichananm65/participant-service/internal/recordstore"
	"github.com/wichananm65/participant-service/internal/saga"
)

// createSteps writes profile, work and home in that order. Undoing the
// profile deletes the record together with any fragment written after it.
func (s *Service) createSteps(in Input) ([]saga.Step, error) {
	profile, work, home, err := inputDocs(in)
	if err != nil {
		return nil, err
	}
	email := in.Email
	return []saga.Step{
		{
			Name: "profile",
			Do:   func(ctx context.Context) error { return s.store.Set(ctx, email, profile) },
			Undo: func(ctx context.Context) error { return s.store.Delete(ctx, email) },
		},
		{
			Name: workFragment,
			Do:   func(ctx context.Context) error { return s.store.Fragment(email, workFragment).Set(ctx, work) },
		},
		{
			Name: homeFragment,
			Do:   func(ctx context.Context) error { return s.store.Fragment(email, homeFragment).Set(ctx, home) },
		},
	}, nil
}

// updateSteps overwrites profile, work and home. Under the compensate policy
// the current state is captured first so each step can put it back.
func (s *Service) updateSteps(ctx context.Context, in Input) ([]saga.Step, error) {
	profile, work, home, err := inputDocs(in)
	if err != nil {
		return nil, err
	}
	email := in.Email

	steps := []saga.Step{
		{Name: "profile", Do: func(ctx context.Context) error { return s.store.Set(ctx, email, profile) }},
		{Name: workFragment, Do: func(ctx context.Context) error { return s.store.Fragment(email, workFragment).Set(ctx, work) }},
		{Name: homeFragment, Do: func(ctx context.Context) error { return s.store.Fragment(email, homeFragment).Set(ctx, home) }},
	}
	if s.policy != saga.Compensate {
		return steps, nil
	}

	prev, err := s.snapshot(ctx, email)
	if err != nil {
		return nil, err
	}
	if prev.profile == nil {
		// nothing existed before: dropping the record drops its fragments too
		steps[0].Undo = func(ctx context.Context) error { return s.store.Delete(ctx, email) }
		return steps, nil
	}
	steps[0].Undo = s.restoreProfile(email, profile, prev)
	steps[1].Undo = restoreFragment(s.store.Fragment(email, workFragment), prev.work)
	steps[2].Undo = restoreFragment(s.store.Fragment(email, homeFragment), prev.home)
	return steps, nil
}

// restoreProfile puts the snapshot back. Set only merges, so when the update
// added fields the snapshot lacked, the record is dropped and rewritten from
// the snapshot together with its fragments. The rewrite resets created.
func (s *Service) restoreProfile(email string, written recordstore.Doc, prev snapshot) func(context.Context) error {
	return func(ctx context.Context) error {
		if !addsFields(prev.profile, written) {
			return s.store.Set(ctx, email, prev.profile)
		}
		if err := s.store.Delete(ctx, email); err != nil {
			return err
		}
		if err := s.store.Set(ctx, email, prev.profile); err != nil {
			return err
		}
		if err := restoreFragment(s.store.Fragment(email, workFragment), prev.work)(ctx); err != nil {
			return err
		}
		return restoreFragment(s.store.Fragment(email, homeFragment), prev.home)(ctx)
	}
}

// addsFields reports whether written has a top-level key missing from prev.
func addsFields(prev, written recordstore.Doc) bool {
	for k := range written {
		if _, ok := prev[k]; !ok {
			return true
		}
	}
	return false
}

type snapshot struct {
	profile recordstore.Doc
	work    recordstore.Doc
	home    recordstore.Doc
}

func (s *Service) snapshot(ctx context.Context, email string) (snapshot, error) {
	var snap snapshot
	rec, err := s.store.Get(ctx, email)
	if errors.Is(err, recordstore.ErrNotFound) {
		return snap, nil
	}
	if err != nil {
		return snap, err
	}
	snap.profile = rec.Props
	if snap.work, err = optionalFragment(ctx, s.store.Fragment(email, workFragment)); err != nil {
		return snap, err
	}
	if snap.home, err = optionalFragment(ctx, s.store.Fragment(email, homeFragment)); err != nil {
		return snap, err
	}
	return snap, nil
}

func restoreFragment(f recordstore.Fragment, prev recordstore.Doc) func(context.Context) error {
	return func(ctx context.Context) error {
		if prev == nil {
			return f.Delete(ctx)
		}
		return f.Set(ctx, prev)
	}
}

func inputDocs(in Input) (profile, work, home recordstore.Doc, err error) {
	if profile, err = profileDoc(in); err != nil {
		return nil, nil, nil, err
	}
	if work, err = recordstore.ToDoc(in.work()); err != nil {
		return nil, nil, nil, err
	}
	if home, err = recordstore.ToDoc(in.home()); err != nil {
		return nil, nil, nil, err
	}
	return profile, work, home, nil
}
