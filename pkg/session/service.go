package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/snowcode-dev/snowcode/pkg/bus"
	"github.com/snowcode-dev/snowcode/pkg/observability"
	"github.com/snowcode-dev/snowcode/pkg/share"
	"github.com/snowcode-dev/snowcode/pkg/storage"
)

// ErrSharingDisabled is returned by Share when no share sink is configured.
var ErrSharingDisabled = errors.New("sharing is disabled")

// Share modes accepted by WithShare.
const (
	ShareManual = "manual"
	ShareAuto   = "auto"
)

// syncConcurrency bounds the share mirror fan-out.
const syncConcurrency = 8

// Service owns the session/message/part data model for one project.
// Cross-project queries live on Manager.
//
// Service keeps no state of its own: every call reads from and writes to the
// storage backend, so callers needing repeated access to message history
// must cache externally.
type Service struct {
	store     storage.Backend
	bus       *bus.Bus
	shares    share.Client
	shareMode string
	projectID string
	directory string
	version   string
}

// Option configures a Service.
type Option func(*Service)

// WithShare enables sharing through the given sink client. mode is
// ShareManual or ShareAuto; in auto mode every new root session gets a share
// link in the background.
func WithShare(client share.Client, mode string) Option {
	return func(s *Service) {
		s.shares = client
		s.shareMode = mode
	}
}

// WithVersion sets the version string stamped on new sessions.
func WithVersion(version string) Option {
	return func(s *Service) {
		s.version = version
	}
}

// NewService creates a session service scoped to one project.
func NewService(store storage.Backend, b *bus.Bus, projectID, directory string, opts ...Option) *Service {
	s := &Service{
		store:     store,
		bus:       b,
		projectID: projectID,
		directory: directory,
		version:   "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProjectID returns the project this service is scoped to.
func (s *Service) ProjectID() string { return s.projectID }

func (s *Service) publish(e bus.Event) {
	observability.RecordEventPublished(e.Type())
	s.bus.Publish(e)
}

func (s *Service) sessionPath(id string) []string {
	return []string{"session", s.projectID, id}
}

func messagePath(sessionID, messageID string) []string {
	return []string{"message", sessionID, messageID}
}

func partPath(messageID, partID string) []string {
	return []string{"part", messageID, partID}
}

func sharePath(sessionID string) []string {
	return []string{"share", sessionID}
}

func (s *Service) childIndexPath(parentID, childID string) []string {
	return []string{"session-children", s.projectID, parentID, childID}
}

// CreateOptions configures session creation.
type CreateOptions struct {
	// ParentID links the new session to the session it was forked from.
	ParentID string
	// Title overrides the timestamped placeholder title.
	Title string
	// Directory overrides the service's working directory.
	Directory string
}

// Create allocates a new session. Session ids sort descending so a naive
// prefix scan yields newest first. Publishes session.started then
// session.updated. When auto-share is configured, root sessions get a share
// link in the background; a failure there never surfaces to the caller.
func (s *Service) Create(ctx context.Context, opts CreateOptions) (*Session, error) {
	ctx, span := observability.StartSpan(ctx, "session.create")
	defer span.End()
	start := time.Now()

	title := opts.Title
	if title == "" {
		stamp := time.Now().Format(time.RFC3339)
		if opts.ParentID != "" {
			title = "Child session - " + stamp
		} else {
			title = "New session - " + stamp
		}
	}

	directory := opts.Directory
	if directory == "" {
		directory = s.directory
	}

	ts := now()
	sess := &Session{
		ID:        NewSessionID(),
		ProjectID: s.projectID,
		Directory: directory,
		ParentID:  opts.ParentID,
		Title:     title,
		Version:   s.version,
		Time: SessionTime{
			Created: ts,
			Updated: ts,
		},
	}

	err := storage.WriteJSON(ctx, s.store, s.sessionPath(sess.ID), sess)
	observability.RecordSessionOp("create", err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("write session: %w", err)
	}

	// Secondary child index so Children is a prefix scan instead of a
	// full-namespace filter.
	if opts.ParentID != "" {
		idx := map[string]string{"id": sess.ID}
		if err := storage.WriteJSON(ctx, s.store, s.childIndexPath(opts.ParentID, sess.ID), idx); err != nil {
			return nil, fmt.Errorf("write child index: %w", err)
		}
	}

	s.publish(SessionStarted{Info: sess})
	s.publish(SessionUpdated{Info: sess})

	if opts.ParentID == "" && s.shareMode == ShareAuto && s.shares != nil {
		go func() {
			shareCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			if _, err := s.Share(shareCtx, sess.ID); err != nil {
				log.Printf("session %s: auto-share failed: %v", sess.ID, err)
			}
		}()
	}

	return sess, nil
}

// Get retrieves a session in the current project by id.
func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	sess, err := storage.ReadJSON[Session](ctx, s.store, s.sessionPath(id))
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	return sess, nil
}

// Update applies fn to the session record as a single read-modify-write and
// unconditionally advances time.updated afterwards, so the timestamp
// invariant holds no matter what fn does. All mutation paths go through
// here. Publishes session.updated.
func (s *Service) Update(ctx context.Context, id string, fn func(*Session)) (*Session, error) {
	sess, err := updateSession(ctx, s.store, s.projectID, id, fn)
	if err != nil {
		return nil, err
	}
	s.publish(SessionUpdated{Info: sess})
	s.syncSession(ctx, sess)
	return sess, nil
}

// updateSession is the shared mutation primitive behind Service.Update and
// Manager.Rename. time.updated advances strictly even when two updates land
// in the same millisecond.
func updateSession(ctx context.Context, store storage.Backend, projectID, id string, fn func(*Session)) (*Session, error) {
	path := []string{"session", projectID, id}
	sess, err := storage.UpdateJSON(ctx, store, path, func(v *Session) error {
		fn(v)
		ts := now()
		if ts <= v.Time.Updated {
			ts = v.Time.Updated + 1
		}
		v.Time.Updated = ts
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update session %s: %w", id, err)
	}
	return sess, nil
}

// Touch bumps time.updated without other changes.
func (s *Service) Touch(ctx context.Context, id string) error {
	_, err := s.Update(ctx, id, func(*Session) {})
	return err
}

// Fork creates a child session and copies every message with id strictly
// below messageID (all of them when messageID is empty) into it, allocating
// fresh ids. The fork is a deep, independent copy: once Fork returns, no
// storage is shared with the source.
func (s *Service) Fork(ctx context.Context, sessionID, messageID string) (*Session, error) {
	ctx, span := observability.StartSpan(ctx, "session.fork",
		attribute.String("session.id", sessionID))
	defer span.End()
	start := time.Now()

	src, err := s.Get(ctx, sessionID)
	if err != nil {
		observability.RecordSessionOp("fork", err, time.Since(start))
		return nil, err
	}

	fork, err := s.Create(ctx, CreateOptions{
		ParentID:  src.ID,
		Directory: src.Directory,
	})
	if err != nil {
		observability.RecordSessionOp("fork", err, time.Since(start))
		return nil, err
	}

	msgs, err := s.Messages(ctx, sessionID)
	if err != nil {
		observability.RecordSessionOp("fork", err, time.Since(start))
		return nil, err
	}

	for _, m := range msgs {
		if messageID != "" && m.Info.ID >= messageID {
			continue
		}

		msg := *m.Info
		msg.ID = NewMessageID()
		msg.SessionID = fork.ID
		if err := storage.WriteJSON(ctx, s.store, messagePath(fork.ID, msg.ID), &msg); err != nil {
			observability.RecordSessionOp("fork", err, time.Since(start))
			return nil, fmt.Errorf("copy message: %w", err)
		}

		for _, p := range m.Parts {
			part := *p
			part.ID = NewPartID()
			part.MessageID = msg.ID
			part.SessionID = fork.ID
			if err := storage.WriteJSON(ctx, s.store, partPath(msg.ID, part.ID), &part); err != nil {
				observability.RecordSessionOp("fork", err, time.Since(start))
				return nil, fmt.Errorf("copy part: %w", err)
			}
		}
	}

	observability.RecordSessionOp("fork", nil, time.Since(start))
	return fork, nil
}

// Messages returns the session's messages in chronological order, each with
// its ordered parts. This is a full scan on every call; there is no caching
// layer in this core.
func (s *Service) Messages(ctx context.Context, sessionID string) ([]*MessageWithParts, error) {
	paths, err := s.store.List(ctx, []string{"message", sessionID})
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	msgs := make([]*MessageWithParts, 0, len(paths))
	for _, p := range paths {
		msg, err := storage.ReadJSON[Message](ctx, s.store, p)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue // deleted between list and read
			}
			return nil, err
		}
		parts, err := s.parts(ctx, msg.ID)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, &MessageWithParts{Info: msg, Parts: parts})
	}

	// Consumers sort by id, never by write-arrival order.
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Info.ID < msgs[j].Info.ID })
	return msgs, nil
}

// GetMessage retrieves one message with its parts.
func (s *Service) GetMessage(ctx context.Context, sessionID, messageID string) (*MessageWithParts, error) {
	msg, err := storage.ReadJSON[Message](ctx, s.store, messagePath(sessionID, messageID))
	if err != nil {
		return nil, fmt.Errorf("message %s: %w", messageID, err)
	}
	parts, err := s.parts(ctx, messageID)
	if err != nil {
		return nil, err
	}
	return &MessageWithParts{Info: msg, Parts: parts}, nil
}

func (s *Service) parts(ctx context.Context, messageID string) ([]*Part, error) {
	paths, err := s.store.List(ctx, []string{"part", messageID})
	if err != nil {
		return nil, fmt.Errorf("list parts: %w", err)
	}

	parts := make([]*Part, 0, len(paths))
	for _, p := range paths {
		part, err := storage.ReadJSON[Part](ctx, s.store, p)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, err
		}
		parts = append(parts, part)
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].ID < parts[j].ID })
	return parts, nil
}

// UpdateMessage writes a message record and publishes message.updated.
func (s *Service) UpdateMessage(ctx context.Context, msg *Message) error {
	if err := storage.WriteJSON(ctx, s.store, messagePath(msg.SessionID, msg.ID), msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	s.publish(MessageUpdated{Info: msg})
	s.syncRecord(ctx, msg.SessionID, messagePath(msg.SessionID, msg.ID), msg)
	return nil
}

// RemoveMessage deletes a message and its parts and publishes
// message.removed.
func (s *Service) RemoveMessage(ctx context.Context, sessionID, messageID string) error {
	parts, err := s.store.List(ctx, []string{"part", messageID})
	if err != nil {
		return fmt.Errorf("list parts: %w", err)
	}
	for _, p := range parts {
		if err := s.store.Remove(ctx, p); err != nil {
			return fmt.Errorf("remove part: %w", err)
		}
	}
	if err := s.store.Remove(ctx, messagePath(sessionID, messageID)); err != nil {
		return fmt.Errorf("remove message: %w", err)
	}
	s.publish(MessageRemoved{SessionID: sessionID, MessageID: messageID})
	return nil
}

// UpdatePart writes a part record and publishes part.updated. delta, when
// non-empty, is the streaming increment since the previous update; it rides
// along with the full part so subscribers can pick either representation.
func (s *Service) UpdatePart(ctx context.Context, part *Part, delta string) error {
	if err := storage.WriteJSON(ctx, s.store, partPath(part.MessageID, part.ID), part); err != nil {
		return fmt.Errorf("write part: %w", err)
	}
	s.publish(PartUpdated{Part: part, Delta: delta})
	s.syncRecord(ctx, part.SessionID, partPath(part.MessageID, part.ID), part)
	return nil
}

// Remove deletes the session's entire subtree: children first (depth-first),
// then the share record, then every message and part, then the session
// itself. Each step is independently fault-tolerant; a failure in one
// subtree is logged and the rest proceeds. Publishes session.deleted.
func (s *Service) Remove(ctx context.Context, id string) error {
	ctx, span := observability.StartSpan(ctx, "session.remove",
		attribute.String("session.id", id))
	defer span.End()
	start := time.Now()

	err := s.remove(ctx, id)
	observability.RecordSessionOp("remove", err, time.Since(start))
	return err
}

func (s *Service) remove(ctx context.Context, id string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	children, err := s.childIDs(ctx, id)
	if err != nil {
		log.Printf("session %s: list children: %v", id, err)
	}
	for _, child := range children {
		if err := s.remove(ctx, child); err != nil {
			log.Printf("session %s: remove child %s: %v", id, child, err)
		}
	}

	if sess.Share != nil {
		if err := s.Unshare(ctx, id); err != nil {
			log.Printf("session %s: unshare: %v", id, err)
		}
	}

	msgPaths, err := s.store.List(ctx, []string{"message", id})
	if err != nil {
		log.Printf("session %s: list messages: %v", id, err)
	}
	for _, mp := range msgPaths {
		messageID := mp[len(mp)-1]
		partPaths, err := s.store.List(ctx, []string{"part", messageID})
		if err != nil {
			log.Printf("session %s: list parts of %s: %v", id, messageID, err)
		}
		for _, pp := range partPaths {
			if err := s.store.Remove(ctx, pp); err != nil {
				log.Printf("session %s: remove part: %v", id, err)
			}
		}
		if err := s.store.Remove(ctx, mp); err != nil {
			log.Printf("session %s: remove message %s: %v", id, messageID, err)
		}
	}

	if sess.ParentID != "" {
		if err := s.store.Remove(ctx, s.childIndexPath(sess.ParentID, id)); err != nil {
			log.Printf("session %s: remove child index: %v", id, err)
		}
	}

	if err := s.store.Remove(ctx, s.sessionPath(id)); err != nil {
		return fmt.Errorf("remove session %s: %w", id, err)
	}

	s.publish(SessionDeleted{Info: sess})
	return nil
}

// childIDs merges the child index with a namespace filter scan, so sessions
// recorded before the index existed are still found.
func (s *Service) childIDs(ctx context.Context, parentID string) ([]string, error) {
	seen := map[string]bool{}
	var ids []string

	idxPaths, err := s.store.List(ctx, []string{"session-children", s.projectID, parentID})
	if err != nil {
		return nil, err
	}
	for _, p := range idxPaths {
		id := p[len(p)-1]
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	sessPaths, err := s.store.List(ctx, []string{"session", s.projectID})
	if err != nil {
		return ids, err
	}
	for _, p := range sessPaths {
		sess, err := storage.ReadJSON[Session](ctx, s.store, p)
		if err != nil {
			continue
		}
		if sess.ParentID == parentID && !seen[sess.ID] {
			seen[sess.ID] = true
			ids = append(ids, sess.ID)
		}
	}
	return ids, nil
}

// Share returns the session's share link, minting one on first call.
// Idempotent: once shared, later calls return the stored record without
// contacting the sink. After minting, the session's current messages and
// parts are mirrored to the sink.
func (s *Service) Share(ctx context.Context, id string) (*ShareInfo, error) {
	if s.shares == nil || s.shareMode == "" {
		return nil, ErrSharingDisabled
	}

	ctx, span := observability.StartSpan(ctx, "session.share",
		attribute.String("session.id", id))
	defer span.End()

	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if sess.Share != nil {
		info, err := storage.ReadJSON[ShareInfo](ctx, s.store, sharePath(id))
		if err == nil {
			return info, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		// Marker without a record: fall through and mint again.
	}

	minted, err := s.shares.Create(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("create share: %w", err)
	}

	info := &ShareInfo{Secret: minted.Secret, URL: minted.URL}
	if err := storage.WriteJSON(ctx, s.store, sharePath(id), info); err != nil {
		return nil, fmt.Errorf("write share: %w", err)
	}

	if _, err := s.Update(ctx, id, func(v *Session) {
		v.Share = &SessionShare{URL: info.URL}
	}); err != nil {
		return nil, err
	}

	if err := s.mirror(ctx, id, info.Secret); err != nil {
		// The link exists and is persisted; an incomplete mirror only
		// delays remote visibility.
		log.Printf("session %s: share mirror: %v", id, err)
	}

	return info, nil
}

// mirror pushes the session record plus all messages and parts to the sink.
func (s *Service) mirror(ctx context.Context, id, secret string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.shares.Sync(ctx, secret, strings.Join(s.sessionPath(id), "/"), sess); err != nil {
		return err
	}

	msgs, err := s.Messages(ctx, id)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(syncConcurrency)
	for _, m := range msgs {
		g.Go(func() error {
			return s.shares.Sync(gctx, secret, strings.Join(messagePath(id, m.Info.ID), "/"), m.Info)
		})
		for _, p := range m.Parts {
			g.Go(func() error {
				return s.shares.Sync(gctx, secret, strings.Join(partPath(p.MessageID, p.ID), "/"), p)
			})
		}
	}
	return g.Wait()
}

// Unshare removes the share record, clears the marker and notifies the
// sink. No-ops when the session is not shared.
func (s *Service) Unshare(ctx context.Context, id string) error {
	info, err := storage.ReadJSON[ShareInfo](ctx, s.store, sharePath(id))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}

	if err := s.store.Remove(ctx, sharePath(id)); err != nil {
		return fmt.Errorf("remove share: %w", err)
	}

	if _, err := s.Update(ctx, id, func(v *Session) {
		v.Share = nil
	}); err != nil {
		return err
	}

	if s.shares != nil {
		if err := s.shares.Delete(ctx, id, info.Secret); err != nil {
			log.Printf("session %s: delete remote share: %v", id, err)
		}
	}
	return nil
}

// syncSession mirrors the session record to the sink when shared.
// Best effort: failures are logged, never returned.
func (s *Service) syncSession(ctx context.Context, sess *Session) {
	if s.shares == nil || sess.Share == nil {
		return
	}
	info, err := storage.ReadJSON[ShareInfo](ctx, s.store, sharePath(sess.ID))
	if err != nil {
		return
	}
	if err := s.shares.Sync(ctx, info.Secret, strings.Join(s.sessionPath(sess.ID), "/"), sess); err != nil {
		log.Printf("session %s: sync session: %v", sess.ID, err)
	}
}

// syncRecord mirrors one message or part record to the sink when the owning
// session is shared. Best effort.
func (s *Service) syncRecord(ctx context.Context, sessionID string, path []string, value any) {
	if s.shares == nil {
		return
	}
	info, err := storage.ReadJSON[ShareInfo](ctx, s.store, sharePath(sessionID))
	if err != nil {
		return
	}
	if err := s.shares.Sync(ctx, info.Secret, strings.Join(path, "/"), value); err != nil {
		log.Printf("session %s: sync %s: %v", sessionID, strings.Join(path, "/"), err)
	}
}
