package group

import (
	"context"
	"log/slog"
	"time"

	"github.com/txn2/groupcart/pkg/audit"
	"github.com/txn2/groupcart/pkg/catalog"
)

const defaultActivityLimit = 50

// Config tunes the Service.
type Config struct {
	TokenBytes    int
	TokenAttempts int
	// Tokens overrides the random token source, mostly in tests.
	Tokens TokenSource
	Now    func() time.Time
}

// Service is the entry point used by transports. It composes the session
// components and records every mutating call in the activity log.
type Service struct {
	Sessions   *SessionManager
	Members    *MembershipRegistry
	Cart       *CartLedger
	Summaries  *Consolidator
	Terminator *Terminator

	store    Store
	activity audit.Store
}

// NewService wires a Service. activity may be nil to disable the log.
func NewService(store Store, cat catalog.Catalog, activity audit.Store, cfg Config) *Service {
	tokens := cfg.Tokens
	if tokens == nil {
		tokens = RandomTokens(cfg.TokenBytes)
	}
	members := NewMembershipRegistry(store, cfg.Now)
	return &Service{
		Sessions:   NewSessionManager(store, tokens, cfg.TokenAttempts, cfg.Now),
		Members:    members,
		Cart:       NewCartLedger(store, members, cat, cat, cfg.Now),
		Summaries:  NewConsolidator(store, members, cat),
		Terminator: NewTerminator(store, cat),
		store:      store,
		activity:   activity,
	}
}

// CreateSession creates a session led by leader.
func (s *Service) CreateSession(ctx context.Context, in CreateSessionInput, leader UserID) (*Session, error) {
	sess, err := s.Sessions.Create(ctx, in, leader)
	ev := audit.NewEvent(audit.ActionSessionCreated).WithSession("", string(leader))
	if sess != nil {
		ev.SessionID = string(sess.ID)
	}
	s.record(ctx, ev, err)
	return sess, err
}

// Join adds user to the session behind token.
func (s *Service) Join(ctx context.Context, token string, user UserID) (SessionID, error) {
	id, err := s.Members.Join(ctx, token, user)
	s.record(ctx, audit.NewEvent(audit.ActionMemberJoined).WithSession(string(id), string(user)), err)
	return id, err
}

// UpsertItem sets a member's quantity of a variant.
func (s *Service) UpsertItem(ctx context.Context, in UpsertItemInput) (*LineItem, error) {
	item, err := s.Cart.UpsertItem(ctx, in)
	s.record(ctx, audit.NewEvent(audit.ActionItemSet).
		WithSession(string(in.SessionID), string(in.UserID)).
		WithItem(string(in.VariantID), in.Quantity), err)
	return item, err
}

// Summarize returns the session summary.
func (s *Service) Summarize(ctx context.Context, sessionID SessionID, requester UserID) (*Summary, error) {
	return s.Summaries.Summarize(ctx, sessionID, requester)
}

// Details returns the session and its members to a member.
func (s *Service) Details(ctx context.Context, sessionID SessionID, requester UserID) (*Details, error) {
	sess, err := s.Members.RequireMember(ctx, sessionID, requester)
	if err != nil {
		return nil, err
	}
	members, err := s.Members.Members(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &Details{Session: sess, Members: members}, nil
}

// Terminate deletes the session on the leader's request.
func (s *Service) Terminate(ctx context.Context, sessionID SessionID, requester UserID) error {
	err := s.Terminator.Terminate(ctx, sessionID, requester)
	s.record(ctx, audit.NewEvent(audit.ActionSessionTerminated).WithSession(string(sessionID), string(requester)), err)
	return err
}

// ActivityQuery pages through a session's activity.
type ActivityQuery struct {
	Action audit.Action
	Limit  int
	Offset int
}

// Activity is a page of a session's activity log.
type Activity struct {
	Events   []audit.Event       `json:"events"`
	Total    int                 `json:"total"`
	ByAction []audit.ActionCount `json:"byAction"`
}

// Activity returns the session's activity to its leader.
func (s *Service) Activity(ctx context.Context, sessionID SessionID, requester UserID, q ActivityQuery) (*Activity, error) {
	sess, err := s.Members.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.AuthorizeLeader(requester); err != nil {
		return nil, err
	}

	out := &Activity{Events: []audit.Event{}, ByAction: []audit.ActionCount{}}
	if s.activity == nil {
		return out, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultActivityLimit
	}
	filter := audit.QueryFilter{SessionID: string(sessionID), Action: q.Action, Limit: limit, Offset: q.Offset}

	if out.Events, err = s.activity.Query(ctx, filter); err != nil {
		return nil, err
	}
	if out.Total, err = s.activity.Count(ctx, filter); err != nil {
		return nil, err
	}
	breakdown, err := s.activity.CountByAction(ctx, audit.QueryFilter{SessionID: string(sessionID)})
	if err != nil {
		return nil, err
	}
	if breakdown != nil {
		out.ByAction = breakdown
	}
	return out, nil
}

// record writes ev with the outcome of err. Activity log failures never fail
// the operation itself.
func (s *Service) record(ctx context.Context, ev *audit.Event, err error) {
	if s.activity == nil {
		return
	}
	code := ""
	if err != nil {
		code = string(CodeOf(err))
	}
	ev.WithResult(err == nil, code)
	if logErr := s.activity.Log(context.WithoutCancel(ctx), *ev); logErr != nil {
		slog.Warn("recording activity failed", "action", ev.Action, "error", logErr)
	}
}
