package provider

import (
	"context"
	"sync/atomic"
)

// fakeClient is a scriptable in-memory Client used across the package tests.
type fakeClient struct {
	name  string
	caps  Capability
	resp  *Response
	errs  []error // consumed one per call; nil entries mean success
	calls atomic.Int64
}

func (f *fakeClient) Name() string             { return f.name }
func (f *fakeClient) Capabilities() Capability { return f.caps }

func (f *fakeClient) nextErr() error {
	n := f.calls.Add(1)
	if int(n) <= len(f.errs) {
		return f.errs[n-1]
	}
	return nil
}

func (f *fakeClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := checkCapabilities(f, req); err != nil {
		return nil, err
	}
	if err := f.nextErr(); err != nil {
		return nil, err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &Response{Content: "ok"}, nil
}

func (f *fakeClient) Stream(ctx context.Context, req Request) (*Stream, error) {
	if err := checkCapabilities(f, req); err != nil {
		return nil, err
	}
	if err := f.nextErr(); err != nil {
		return nil, err
	}
	streamCtx, cancel := context.WithCancel(ctx)
	s := newStream(cancel)
	go func() {
		content := "ok"
		if f.resp != nil {
			content = f.resp.Content
		}
		for _, r := range content {
			if !s.emit(streamCtx, Chunk{Text: string(r)}) {
				s.finish(streamCtx.Err())
				return
			}
		}
		s.finish(nil)
	}()
	return s, nil
}
