package core

import (
	"context"
	"sync"
	"time"

	"github.com/gosoulseek/slsk/pkg/slsk/metrics"
	"github.com/gosoulseek/slsk/pkg/slsk/protocol"
	"github.com/gosoulseek/slsk/pkg/slsk/types"
)

// SearchEngine drives file searches against the whole network, a named
// room, or a fixed set of users (spec.md §4.I), collecting peer-session
// FileSearchResponse frames as they arrive until the caller-configured
// limits are hit or the search's inactivity timer expires.
type SearchEngine struct {
	log     types.Logger
	invoker Invoker
	tokens  *TokenAllocator
	server  ServerSender

	mu       sync.Mutex
	searches map[int32]*types.SearchInternal

	metrics *metrics.Metrics
}

// SetMetrics wires an optional Prometheus collector set; nil (the
// zero value) leaves every instrumentation call a no-op.
func (s *SearchEngine) SetMetrics(mx *metrics.Metrics) {
	s.metrics = mx
}

func NewSearchEngine(log types.Logger, invoker Invoker, tokens *TokenAllocator, server ServerSender) *SearchEngine {
	return &SearchEngine{
		log:      log,
		invoker:  invoker,
		tokens:   tokens,
		server:   server,
		searches: make(map[int32]*types.SearchInternal),
	}
}

// Start issues a search and returns immediately with the internal
// record; each accepted response is passed to the record's OnResponse
// callback, if the caller has set one, until the inactivity timer fires
// or a limit is reached.
func (s *SearchEngine) Start(ctx context.Context, text string, scope types.SearchScope, opts types.SearchOptions) *types.SearchInternal {
	token := s.tokens.Next()
	search := types.NewSearchInternal(text, token, scope, opts)
	search.WithLock(func(si *types.SearchInternal) { si.State = types.SearchInProgress })

	s.mu.Lock()
	s.searches[token] = search
	s.mu.Unlock()

	if err := s.issue(text, token, scope); err != nil {
		search.WithLock(func(si *types.SearchInternal) {
			si.State = types.SearchCompleted
			si.Terminal = types.SearchErrored
		})
		return search
	}

	timeout := time.Duration(opts.SearchTimeout) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	s.invoker.Spawn(func() {
		s.runInactivityTimer(ctx, search, timeout)
	})
	return search
}

func (s *SearchEngine) issue(text string, token int32, scope types.SearchScope) error {
	switch scope.Kind {
	case types.SearchScopeUser:
		for _, u := range scope.Users {
			body := protocol.EncodeUserSearchRequest(protocol.UserSearchRequest{Username: u, Token: token, Text: text})
			if err := s.server.SendServer(protocol.CodeUserSearch, body[4:]); err != nil {
				return err
			}
		}
		return nil
	case types.SearchScopeRoom:
		body := protocol.EncodeRoomSearchRequest(protocol.RoomSearchRequest{Room: scope.Room, Token: token, Text: text})
		return s.server.SendServer(protocol.CodeRoomSearch, body[4:])
	default:
		body := protocol.EncodeSearchRequest(protocol.SearchRequest{Token: token, Text: text})
		return s.server.SendServer(protocol.CodeFileSearch, body[4:])
	}
}

// runInactivityTimer restarts its countdown each time HandleResponse
// accepts a response for this search (via Touch) and finalizes the
// search once it elapses without one, matching spec.md's
// inactivity-window edge case.
func (s *SearchEngine) runInactivityTimer(ctx context.Context, search *types.SearchInternal, timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			s.finish(search, types.SearchCancelled)
			return
		case <-search.ActivitySignal():
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(timeout)
		case <-timer.C:
			s.finish(search, types.SearchTimedOut)
			return
		case <-search.DoneSignal():
			return
		}
	}
}

func (s *SearchEngine) finish(search *types.SearchInternal, terminal types.SearchTerminal) {
	search.WithLock(func(si *types.SearchInternal) {
		if si.State == types.SearchCompleted {
			return
		}
		si.State = types.SearchCompleted
		si.Terminal = terminal
	})
	search.MarkDone()
	s.mu.Lock()
	delete(s.searches, search.Token)
	s.mu.Unlock()
}

// HandleResponse is invoked by whatever owns a peer message
// connection's read loop when a FileSearchResponse frame arrives,
// matching it to the search by token and applying its response/file
// limits.
func (s *SearchEngine) HandleResponse(body []byte) {
	r := protocol.NewMessageReader(body)
	resp, err := protocol.DecodeFileSearchResponse(r)
	if err != nil {
		s.log.Warnf("bad FileSearchResponse: %v", err)
		return
	}
	s.mu.Lock()
	search, ok := s.searches[resp.Token]
	s.mu.Unlock()
	if !ok {
		return
	}

	converted := types.SearchResponse{
		Username:    resp.Username,
		Token:       resp.Token,
		FreeUploads: resp.FreeUploads,
		UploadSpeed: resp.UploadSpeed,
		QueueLength: resp.QueueLength,
	}
	for _, f := range resp.Files {
		converted.Files = append(converted.Files, types.SearchResultFile{
			Filename:  f.Filename,
			Size:      f.Size,
			Extension: f.Extension,
		})
	}

	accepted, shouldComplete, terminal := search.TryAccept(converted)
	if accepted {
		s.metrics.SearchResponseAccepted()
		search.EmitResponse(converted)
		search.Touch()
	}
	if shouldComplete {
		s.finish(search, terminal)
	}
}
