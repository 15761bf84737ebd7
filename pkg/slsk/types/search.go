package types

import "sync"

// SearchScopeKind distinguishes the three addressing modes a search
// request can use.
type SearchScopeKind int

const (
	SearchScopeDefault SearchScopeKind = iota
	SearchScopeUser
	SearchScopeRoom
)

// SearchScope picks who a search request is sent to.
type SearchScope struct {
	Kind  SearchScopeKind
	Users []string // meaningful when Kind == SearchScopeUser
	Room  string   // meaningful when Kind == SearchScopeRoom
}

// DefaultSearchScope broadcasts the search to the whole network via the
// server.
func DefaultSearchScope() SearchScope {
	return SearchScope{Kind: SearchScopeDefault}
}

// UserSearchScope directs the search at specific users.
func UserSearchScope(usernames ...string) SearchScope {
	return SearchScope{Kind: SearchScopeUser, Users: usernames}
}

// RoomSearchScope directs the search at a room's members.
func RoomSearchScope(room string) SearchScope {
	return SearchScope{Kind: SearchScopeRoom, Room: room}
}

// SearchState mirrors TransferState's non-terminal/terminal split.
type SearchState int

const (
	SearchNone SearchState = iota
	SearchRequested
	SearchInProgress
	SearchCompleted
)

// SearchTerminal refines SearchCompleted into its exact outcome.
type SearchTerminal int

const (
	SearchTerminalNone SearchTerminal = iota
	SearchTimedOut
	SearchResponseLimitReached
	SearchFileLimitReached
	SearchCancelled
	SearchErrored
)

// SearchOptions bounds how long and how much a search accepts before
// completing.
type SearchOptions struct {
	// SearchTimeout is the inactivity timeout, in seconds, reset on
	// every accepted response.
	SearchTimeout int
	ResponseLimit int
	FileLimit     int
	// FilterResponse, if non-nil, is consulted for every candidate
	// response; a response is only accepted if it returns true.
	FilterResponse func(SearchResponse) bool
}

// DefaultSearchOptions matches the reference client's defaults.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		SearchTimeout: 15,
		ResponseLimit: 1_000_000,
		FileLimit:     10_000_000,
	}
}

// SearchResponse is a single peer's reply to a search, already decoded
// off the wire and filtered down to the fields a caller needs.
type SearchResponse struct {
	Username    string
	Token       int32
	FreeUploads bool
	UploadSpeed int32
	QueueLength int64
	Files       []SearchResultFile
}

// SearchResultFile is one file entry inside a SearchResponse.
type SearchResultFile struct {
	Filename   string
	Size       int64
	Extension  string
	Attributes map[int32]int32
}

// SearchInternal is the per-search record a Client keeps in its
// searches map under Token.
type SearchInternal struct {
	mu sync.Mutex

	Text    string
	Token   int32
	Options SearchOptions
	Scope   SearchScope

	State    SearchState
	Terminal SearchTerminal

	ResponseCount int
	FileCount     int

	// OnResponse, if set, is invoked (outside the lock) for every
	// accepted response.
	OnResponse func(SearchResponse)

	activity  chan struct{}
	done      chan struct{}
	doneOnce  sync.Once
}

// NewSearchInternal constructs a SearchInternal in state None.
func NewSearchInternal(text string, token int32, scope SearchScope, options SearchOptions) *SearchInternal {
	return &SearchInternal{
		Text:     text,
		Token:    token,
		Scope:    scope,
		Options:  options,
		State:    SearchNone,
		activity: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// WithLock runs fn with the search's mutex held, for callers mutating
// State/Terminal directly.
func (s *SearchInternal) WithLock(fn func(*SearchInternal)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

// Touch signals the inactivity timer that a response just arrived,
// without blocking if nobody is listening yet.
func (s *SearchInternal) Touch() {
	select {
	case s.activity <- struct{}{}:
	default:
	}
}

// ActivitySignal is consumed by the engine's inactivity timer to reset
// its countdown on every accepted response.
func (s *SearchInternal) ActivitySignal() <-chan struct{} {
	return s.activity
}

// MarkDone closes the search's done signal exactly once.
func (s *SearchInternal) MarkDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// DoneSignal closes once the search has finished, for any goroutine
// racing the inactivity timer to exit early.
func (s *SearchInternal) DoneSignal() <-chan struct{} {
	return s.done
}

// EmitResponse invokes OnResponse if the caller registered one.
func (s *SearchInternal) EmitResponse(resp SearchResponse) {
	if s.OnResponse != nil {
		s.OnResponse(resp)
	}
}

// TryAccept records a response and reports whether the search should
// keep accepting more (per spec.md §3: "responses are only accepted
// while InProgress"). It returns (accepted, shouldComplete, terminal).
func (s *SearchInternal) TryAccept(resp SearchResponse) (accepted bool, shouldComplete bool, terminal SearchTerminal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State != SearchInProgress {
		return false, false, SearchTerminalNone
	}
	if s.Options.FilterResponse != nil && !s.Options.FilterResponse(resp) {
		return false, false, SearchTerminalNone
	}

	s.ResponseCount++
	s.FileCount += len(resp.Files)

	if s.Options.ResponseLimit > 0 && s.ResponseCount >= s.Options.ResponseLimit {
		return true, true, SearchResponseLimitReached
	}
	if s.Options.FileLimit > 0 && s.FileCount >= s.Options.FileLimit {
		return true, true, SearchFileLimitReached
	}
	return true, false, SearchTerminalNone
}

// Counts returns the current response/file counters.
func (s *SearchInternal) Counts() (responses, files int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ResponseCount, s.FileCount
}
