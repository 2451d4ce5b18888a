package process

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"reelay/internal/stream"
	"reelay/internal/videojob"
	"reelay/internal/webhook"
)

type fakeStore struct {
	jobs    map[string]*videojob.VideoJob
	findErr error
	markErr error

	completed int
	failed    int
}

func (s *fakeStore) FindByCallbackID(_ context.Context, cb string) (*videojob.VideoJob, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	j, ok := s.jobs[cb]
	if !ok {
		return nil, videojob.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *fakeStore) MarkCompleted(_ context.Context, cb, resultURL, gifURL, sharePageURL string) error {
	if s.markErr != nil {
		return s.markErr
	}
	s.completed++
	j := s.jobs[cb]
	j.Status = videojob.StatusCompleted
	j.ResultURL = resultURL
	j.GifURL = gifURL
	j.SharePageURL = sharePageURL
	return nil
}

func (s *fakeStore) MarkFailed(_ context.Context, cb, errorMessage string) error {
	if s.markErr != nil {
		return s.markErr
	}
	s.failed++
	j := s.jobs[cb]
	j.Status = videojob.StatusFailed
	j.ErrorMessage = errorMessage
	return nil
}

type fakeNotifier struct {
	msgs []stream.Message
}

func (n *fakeNotifier) Publish(_ string, msg stream.Message) {
	n.msgs = append(n.msgs, msg)
}

func newProcessor(store *fakeStore, n *fakeNotifier) *Processor {
	return &Processor{
		Store:    store,
		Notifier: n,
		Logger:   slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
}

func pendingJob(cb string) map[string]*videojob.VideoJob {
	return map[string]*videojob.VideoJob{
		cb: {CallbackID: cb, Status: videojob.StatusPending},
	}
}

func TestApplySuccessEvent(t *testing.T) {
	store := &fakeStore{jobs: pendingJob("cb1")}
	n := &fakeNotifier{}
	p := newProcessor(store, n)

	ev := &webhook.Event{
		Type: webhook.TypeSuccess, VideoID: "v1", CallbackID: "cb1",
		ResultURL: "https://x/v1.mp4", GifURL: "https://x/v1.gif",
	}
	if err := p.Apply(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	if store.jobs["cb1"].Status != videojob.StatusCompleted {
		t.Errorf("job status = %s", store.jobs["cb1"].Status)
	}
	if len(n.msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(n.msgs))
	}
	msg := n.msgs[0]
	if msg.Type != stream.TypeJobCompleted || msg.VideoID != "v1" || msg.ResultURL != "https://x/v1.mp4" {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestApplyFailEvent(t *testing.T) {
	store := &fakeStore{jobs: pendingJob("cb1")}
	n := &fakeNotifier{}
	p := newProcessor(store, n)

	ev := &webhook.Event{
		Type: webhook.TypeFail, VideoID: "v1", CallbackID: "cb1",
		ErrorMessage: "render crashed",
	}
	if err := p.Apply(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	if store.jobs["cb1"].Status != videojob.StatusFailed {
		t.Errorf("job status = %s", store.jobs["cb1"].Status)
	}
	if len(n.msgs) != 1 || n.msgs[0].Type != stream.TypeJobFailed || n.msgs[0].Error != "render crashed" {
		t.Errorf("unexpected messages: %+v", n.msgs)
	}
}

func TestApplyIdempotent(t *testing.T) {
	store := &fakeStore{jobs: pendingJob("cb1")}
	n := &fakeNotifier{}
	p := newProcessor(store, n)

	ev := &webhook.Event{
		Type: webhook.TypeSuccess, VideoID: "v1", CallbackID: "cb1",
		ResultURL: "https://x/v1.mp4",
	}
	if err := p.Apply(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	// At-least-once delivery: the second identical application is a
	// no-op success with no duplicate state change or notification.
	if err := p.Apply(context.Background(), ev); err != nil {
		t.Fatalf("duplicate delivery should succeed, got %v", err)
	}

	if store.completed != 1 {
		t.Errorf("MarkCompleted called %d times, want 1", store.completed)
	}
	if len(n.msgs) != 1 {
		t.Errorf("published %d messages, want 1", len(n.msgs))
	}
}

func TestApplyUnknownCallbackIsPermanent(t *testing.T) {
	p := newProcessor(&fakeStore{jobs: map[string]*videojob.VideoJob{}}, &fakeNotifier{})

	err := p.Apply(context.Background(), &webhook.Event{
		Type: webhook.TypeSuccess, VideoID: "v1", CallbackID: "nope", ResultURL: "u",
	})

	var perm *PermanentError
	if !errors.As(err, &perm) {
		t.Fatalf("expected *PermanentError, got %v", err)
	}
}

func TestApplyStoreErrorsAreTransient(t *testing.T) {
	boom := errors.New("connection refused")

	t.Run("find fails", func(t *testing.T) {
		p := newProcessor(&fakeStore{findErr: boom}, &fakeNotifier{})
		err := p.Apply(context.Background(), &webhook.Event{
			Type: webhook.TypeSuccess, VideoID: "v1", CallbackID: "cb1", ResultURL: "u",
		})
		var trans *TransientError
		if !errors.As(err, &trans) {
			t.Fatalf("expected *TransientError, got %v", err)
		}
	})

	t.Run("update fails", func(t *testing.T) {
		n := &fakeNotifier{}
		p := newProcessor(&fakeStore{jobs: pendingJob("cb1"), markErr: boom}, n)
		err := p.Apply(context.Background(), &webhook.Event{
			Type: webhook.TypeSuccess, VideoID: "v1", CallbackID: "cb1", ResultURL: "u",
		})
		var trans *TransientError
		if !errors.As(err, &trans) {
			t.Fatalf("expected *TransientError, got %v", err)
		}
		if len(n.msgs) != 0 {
			t.Errorf("no notification expected on failed update, got %+v", n.msgs)
		}
	})
}

func TestApplyConflictingTerminalIsPermanent(t *testing.T) {
	store := &fakeStore{jobs: map[string]*videojob.VideoJob{
		"cb1": {CallbackID: "cb1", Status: videojob.StatusFailed},
	}}
	p := newProcessor(store, &fakeNotifier{})

	err := p.Apply(context.Background(), &webhook.Event{
		Type: webhook.TypeSuccess, VideoID: "v1", CallbackID: "cb1", ResultURL: "u",
	})

	var perm *PermanentError
	if !errors.As(err, &perm) {
		t.Fatalf("expected *PermanentError for conflicting terminal status, got %v", err)
	}
}
