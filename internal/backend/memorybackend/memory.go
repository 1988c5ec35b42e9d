// Package memorybackend implements the backend.Backend contract entirely
// in process memory. It has no external dependency by design (see
// DESIGN.md, C15) and is used by the test suite and by single-instance
// deployments that want zero infrastructure.
package memorybackend

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/yousty/message-bus/internal/backend"
	"github.com/yousty/message-bus/internal/message"
)

// Config holds the trimming defaults applied when a Publish call does not
// override them via backend.PublishOptions.
type Config struct {
	MaxBacklogSize       uint64
	MaxGlobalBacklogSize uint64
	MaxBacklogAge        time.Duration
	ClearEvery           uint64
}

// DefaultConfig mirrors the shared-store backend's defaults.
func DefaultConfig() Config {
	return Config{
		MaxBacklogSize:       1000,
		MaxGlobalBacklogSize: 2000,
		MaxBacklogAge:        24 * time.Hour,
		ClearEvery:           1,
	}
}

type channelState struct {
	lastID  uint64
	backlog []message.Message // ascending by MessageID
	refresh time.Time
	subs    []chan message.Message
}

// Backend is the in-memory implementation of backend.Backend.
type Backend struct {
	cfg Config

	mu            sync.Mutex
	channels      map[string]*channelState
	globalID      uint64
	globalBacklog []message.Message // ascending by GlobalID
	globalRefresh time.Time
	globalSubs    []chan message.Message
	destroyed     bool
}

// New creates an in-memory backend with the given trimming defaults.
func New(cfg Config) *Backend {
	return &Backend{
		cfg:      cfg,
		channels: make(map[string]*channelState),
	}
}

func (b *Backend) channelLocked(name string) *channelState {
	cs, ok := b.channels[name]
	if !ok {
		cs = &channelState{}
		b.channels[name] = cs
	}
	return cs
}

// Publish implements backend.Backend.
func (b *Backend) Publish(_ context.Context, channel string, data []byte, opts backend.PublishOptions) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.destroyed {
		return 0, backend.ErrBackendUnavailable
	}

	maxSize := b.cfg.MaxBacklogSize
	if opts.MaxBacklogSize > 0 {
		maxSize = opts.MaxBacklogSize
	}
	maxAge := b.cfg.MaxBacklogAge
	if opts.MaxBacklogAge > 0 {
		maxAge = time.Duration(opts.MaxBacklogAge) * time.Second
	}

	now := time.Now()

	cs := b.channelLocked(channel)
	b.ageTrimChannelLocked(cs, maxAge, now)
	b.ageTrimGlobalLocked(maxAge, now)

	cs.lastID++
	messageID := cs.lastID
	b.globalID++
	globalID := b.globalID

	msg := message.Message{
		GlobalID:  globalID,
		MessageID: messageID,
		Channel:   channel,
		Data:      append([]byte(nil), data...),
		UserIDs:   opts.UserIDs,
		GroupIDs:  opts.GroupIDs,
		ClientIDs: opts.ClientIDs,
		SiteID:    opts.SiteID,
	}

	cs.backlog = append(cs.backlog, msg)
	cs.refresh = now
	b.globalBacklog = append(b.globalBacklog, msg)
	b.globalRefresh = now

	b.trimChannelLocked(cs, maxSize)
	b.trimGlobalLocked(maxSize)

	b.notifyLocked(cs, msg)

	return messageID, nil
}

func (b *Backend) notifyLocked(cs *channelState, msg message.Message) {
	for _, ch := range cs.subs {
		select {
		case ch <- msg:
		default:
			log.Warn().Str("channel", msg.Channel).Msg("memory backend: channel subscriber buffer full, dropping")
		}
	}
	for _, ch := range b.globalSubs {
		select {
		case ch <- msg:
		default:
			log.Warn().Str("channel", msg.Channel).Msg("memory backend: global subscriber buffer full, dropping")
		}
	}
}

// trimChannelLocked applies the §4.1 trimming policy: trim when
// last_message_id > max_backlog_size AND last_message_id mod clear_every
// == 0, keeping a contiguous suffix.
func (b *Backend) trimChannelLocked(cs *channelState, maxSize uint64) {
	clearEvery := b.cfg.ClearEvery
	if clearEvery == 0 {
		clearEvery = 1
	}
	if maxSize == 0 || cs.lastID <= maxSize || cs.lastID%clearEvery != 0 {
		return
	}
	floor := cs.lastID - maxSize
	idx := sort.Search(len(cs.backlog), func(i int) bool { return cs.backlog[i].MessageID > floor })
	cs.backlog = cs.backlog[idx:]
}

func (b *Backend) trimGlobalLocked(maxSize uint64) {
	maxGlobal := b.cfg.MaxGlobalBacklogSize
	if maxGlobal == 0 {
		maxGlobal = maxSize
	}
	clearEvery := b.cfg.ClearEvery
	if clearEvery == 0 {
		clearEvery = 1
	}
	if maxGlobal == 0 || b.globalID <= maxGlobal || b.globalID%clearEvery != 0 {
		return
	}
	floor := b.globalID - maxGlobal
	idx := sort.Search(len(b.globalBacklog), func(i int) bool { return b.globalBacklog[i].GlobalID > floor })
	b.globalBacklog = b.globalBacklog[idx:]
}

// ageTrimChannelLocked implements the coarse age-based trimming documented
// in §4.1/§9: the whole per-channel backlog is dropped, never gradually.
// The age is checked only here, on the next Publish to the channel: if
// maxAge has elapsed since the previous publish, the backlog is cleared
// before the new message is appended. Reads do not check the age.
func (b *Backend) ageTrimChannelLocked(cs *channelState, maxAge time.Duration, now time.Time) {
	if maxAge <= 0 || cs.refresh.IsZero() || len(cs.backlog) == 0 {
		return
	}
	if now.Sub(cs.refresh) > maxAge {
		cs.backlog = nil
	}
}

func (b *Backend) ageTrimGlobalLocked(maxAge time.Duration, now time.Time) {
	if maxAge <= 0 || b.globalRefresh.IsZero() || len(b.globalBacklog) == 0 {
		return
	}
	if now.Sub(b.globalRefresh) > maxAge {
		b.globalBacklog = nil
	}
}

// LastID implements backend.Backend.
func (b *Backend) LastID(_ context.Context, channel string) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cs, ok := b.channels[channel]; ok {
		return cs.lastID, nil
	}
	return 0, nil
}

// LastIDs implements backend.Backend.
func (b *Backend) LastIDs(ctx context.Context, channels []string) ([]uint64, error) {
	ids := make([]uint64, len(channels))
	for i, c := range channels {
		id, err := b.LastID(ctx, c)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

// Backlog implements backend.Backend.
func (b *Backend) Backlog(_ context.Context, channel string, afterID uint64) ([]message.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cs, ok := b.channels[channel]
	if !ok {
		return nil, nil
	}
	idx := sort.Search(len(cs.backlog), func(i int) bool { return cs.backlog[i].MessageID > afterID })
	out := make([]message.Message, len(cs.backlog)-idx)
	for i, m := range cs.backlog[idx:] {
		out[i] = m.Clone()
	}
	return out, nil
}

// GlobalBacklog implements backend.Backend.
func (b *Backend) GlobalBacklog(_ context.Context, afterGlobalID uint64) ([]message.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := sort.Search(len(b.globalBacklog), func(i int) bool { return b.globalBacklog[i].GlobalID > afterGlobalID })
	out := make([]message.Message, 0, len(b.globalBacklog)-idx)
	for _, m := range b.globalBacklog[idx:] {
		cs, ok := b.channels[m.Channel]
		if !ok {
			continue
		}
		found := false
		for _, cm := range cs.backlog {
			if cm.MessageID == m.MessageID {
				found = true
				break
			}
		}
		if !found {
			// per-channel record has been trimmed; skip per invariant 5.
			continue
		}
		out = append(out, m.Clone())
	}
	return out, nil
}

// GetMessage implements backend.Backend.
func (b *Backend) GetMessage(_ context.Context, channel string, messageID uint64) (message.Message, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cs, ok := b.channels[channel]
	if !ok {
		return message.Message{}, false, nil
	}
	idx := sort.Search(len(cs.backlog), func(i int) bool { return cs.backlog[i].MessageID >= messageID })
	if idx < len(cs.backlog) && cs.backlog[idx].MessageID == messageID {
		return cs.backlog[idx].Clone(), true, nil
	}
	return message.Message{}, false, nil
}

// Subscribe implements backend.Backend.
func (b *Backend) Subscribe(ctx context.Context, channel string, afterID uint64, handler backend.Handler) error {
	ch := make(chan message.Message, 256)

	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return backend.ErrBackendUnavailable
	}
	cs := b.channelLocked(channel)
	idx := sort.Search(len(cs.backlog), func(i int) bool { return cs.backlog[i].MessageID > afterID })
	backlog := make([]message.Message, len(cs.backlog)-idx)
	copy(backlog, cs.backlog[idx:])
	cs.subs = append(cs.subs, ch)
	b.mu.Unlock()

	defer b.removeChannelSub(channel, ch)

	for _, m := range backlog {
		if err := handler(m.Clone()); err != nil {
			log.Warn().Err(err).Str("channel", channel).Msg("memory backend: subscribe handler error")
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			if err := handler(m); err != nil {
				log.Warn().Err(err).Str("channel", channel).Msg("memory backend: subscribe handler error")
			}
		}
	}
}

func (b *Backend) removeChannelSub(channel string, ch chan message.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cs, ok := b.channels[channel]
	if !ok {
		return
	}
	for i, s := range cs.subs {
		if s == ch {
			cs.subs = append(cs.subs[:i], cs.subs[i+1:]...)
			break
		}
	}
}

// GlobalSubscribe implements backend.Backend.
func (b *Backend) GlobalSubscribe(ctx context.Context, afterGlobalID uint64, handler backend.Handler) error {
	ch := make(chan message.Message, 256)

	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return backend.ErrBackendUnavailable
	}
	idx := sort.Search(len(b.globalBacklog), func(i int) bool { return b.globalBacklog[i].GlobalID > afterGlobalID })
	backlog := make([]message.Message, len(b.globalBacklog)-idx)
	copy(backlog, b.globalBacklog[idx:])
	b.globalSubs = append(b.globalSubs, ch)
	b.mu.Unlock()

	defer b.removeGlobalSub(ch)

	for _, m := range backlog {
		if err := handler(m.Clone()); err != nil {
			log.Warn().Err(err).Msg("memory backend: global subscribe handler error")
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			if err := handler(m); err != nil {
				log.Warn().Err(err).Msg("memory backend: global subscribe handler error")
			}
		}
	}
}

func (b *Backend) removeGlobalSub(ch chan message.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.globalSubs {
		if s == ch {
			b.globalSubs = append(b.globalSubs[:i], b.globalSubs[i+1:]...)
			break
		}
	}
}

// GlobalUnsubscribe implements backend.Backend.
func (b *Backend) GlobalUnsubscribe(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.globalSubs {
		close(ch)
	}
	b.globalSubs = nil
	for _, cs := range b.channels {
		for _, ch := range cs.subs {
			close(ch)
		}
		cs.subs = nil
	}
	return nil
}

// Reset implements backend.Backend.
func (b *Backend) Reset(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels = make(map[string]*channelState)
	b.globalBacklog = nil
	b.globalID = 0
	return nil
}

// ExpireAllBacklogs implements backend.Backend.
func (b *Backend) ExpireAllBacklogs(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, cs := range b.channels {
		cs.backlog = nil
	}
	b.globalBacklog = nil
	return nil
}

// AfterFork implements backend.Backend. The in-memory backend has no
// connections to re-establish.
func (b *Backend) AfterFork(_ context.Context) error {
	return nil
}

// Destroy implements backend.Backend.
func (b *Backend) Destroy(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, cs := range b.channels {
		for _, ch := range cs.subs {
			close(ch)
		}
	}
	for _, ch := range b.globalSubs {
		close(ch)
	}
	b.channels = make(map[string]*channelState)
	b.globalSubs = nil
	b.destroyed = true
	return nil
}

// IsReadOnly implements backend.Backend. The in-memory backend is never
// read-only.
func (b *Backend) IsReadOnly(_ context.Context) (bool, error) {
	return false, nil
}

var _ backend.Backend = (*Backend)(nil)
