package composer

import (
	"context"
	"sync"

	"github.com/Rrens/chatnil/internal/domain"
	"github.com/Rrens/chatnil/internal/streaming"
)

type fakeStore struct {
	mu    sync.Mutex
	draft string
}

func (f *fakeStore) GetDraft(string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.draft
}

func (f *fakeStore) SetDraft(_ string, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.draft = text
}

// fakeSubmitter records submissions and marks every file ready unless told
// otherwise
type fakeSubmitter struct {
	mu     sync.Mutex
	busy   bool
	err    error
	failed map[string]string
	subs   []streaming.Submission
	store  *fakeStore
}

func (f *fakeSubmitter) Busy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy
}

func (f *fakeSubmitter) Submit(_ context.Context, sub streaming.Submission) (streaming.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, sub)

	res := streaming.Result{ChatID: "chat-1", MessageID: "msg-1", ReplyID: "msg-2"}
	for _, file := range sub.Files {
		if reason, ok := f.failed[file.Name]; ok {
			file.Status = domain.UploadFailed
			file.Error = reason
		} else {
			file.Status = domain.UploadReady
		}
		res.Files = append(res.Files, file)
	}
	if f.err != nil {
		return res, f.err
	}
	if f.store != nil {
		f.store.SetDraft("", "")
	}
	return res, nil
}

func (f *fakeSubmitter) submissions() []streaming.Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]streaming.Submission(nil), f.subs...)
}

type transcriberFunc func(ctx context.Context) (string, error)

func (fn transcriberFunc) Transcribe(ctx context.Context) (string, error) {
	return fn(ctx)
}
