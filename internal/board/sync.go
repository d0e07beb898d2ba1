package board

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/stellarlinkco/stashbot/internal/bus"
	"github.com/stellarlinkco/stashbot/internal/chat"
)

const DefaultScanLimit = 50

// Syncer owns the live board handle of each channel it writes to. The
// remembered handle is a cache; a scan of recent history for a self-authored
// message starting with the sentinel is the source of truth.
type Syncer struct {
	messenger chat.Messenger
	sentinel  string
	scanLimit int

	mu      sync.Mutex
	handles map[bus.Address]chat.MessageRef
	content map[bus.Address]string
}

func NewSyncer(m chat.Messenger, sentinel string, scanLimit int) *Syncer {
	if scanLimit <= 0 {
		scanLimit = DefaultScanLimit
	}
	return &Syncer{
		messenger: m,
		sentinel:  sentinel,
		scanLimit: scanLimit,
		handles:   make(map[bus.Address]chat.MessageRef),
		content:   make(map[bus.Address]string),
	}
}

// Handle returns the remembered board handle for addr.
func (s *Syncer) Handle(addr bus.Address) (chat.MessageRef, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.handles[addr]
	return ref, ok
}

// Forget drops the remembered handle so the next Sync rediscovers it.
func (s *Syncer) Forget(addr bus.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handles, addr)
	delete(s.content, addr)
}

// Sync makes content the body of the single live board in addr. It edits the
// existing board in place when one is known or discovered, and posts a new
// one otherwise. A failed edit degrades to posting a new board; the replaced
// message is then deleted on a best-effort basis.
func (s *Syncer) Sync(ctx context.Context, addr bus.Address, content string) (chat.MessageRef, error) {
	if !strings.HasPrefix(content, s.sentinel) {
		return chat.MessageRef{}, fmt.Errorf("board content must start with %q", s.sentinel)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ref, known := s.handles[addr]
	current := s.content[addr]
	if !known {
		ref, current, known = s.discover(ctx, addr, chat.MessageRef{})
	}

	var replaced chat.MessageRef
	if known {
		if current == content {
			s.remember(addr, ref, content)
			return ref, nil
		}
		err := s.messenger.EditMessage(ctx, ref, content)
		if err == nil {
			s.remember(addr, ref, content)
			return ref, nil
		}
		log.Printf("[board] edit %s in %s failed: %v", ref.MessageID, addr, err)
		delete(s.handles, addr)
		delete(s.content, addr)

		if errors.Is(err, chat.ErrStaleHandle) {
			if alt, altContent, ok := s.discover(ctx, addr, ref); ok {
				if altContent == content || s.messenger.EditMessage(ctx, alt, content) == nil {
					s.remember(addr, alt, content)
					return alt, nil
				}
				replaced = alt
			}
		} else {
			replaced = ref
		}
	}

	created, err := s.messenger.SendMessage(ctx, addr, content)
	if err != nil {
		return chat.MessageRef{}, fmt.Errorf("post board to %s: %w", addr, err)
	}
	s.remember(addr, created, content)

	if !replaced.IsZero() {
		if err := s.messenger.DeleteMessage(ctx, replaced); err != nil {
			log.Printf("[board] delete replaced board %s failed: %v", replaced.MessageID, err)
		}
	}
	return created, nil
}

func (s *Syncer) remember(addr bus.Address, ref chat.MessageRef, content string) {
	s.handles[addr] = ref
	s.content[addr] = content
}

// discover scans recent history for self-authored boards, keeps the newest
// and deletes any older duplicates. skip excludes a handle already known to
// be stale.
func (s *Syncer) discover(ctx context.Context, addr bus.Address, skip chat.MessageRef) (chat.MessageRef, string, bool) {
	msgs, err := s.messenger.RecentMessages(ctx, addr, s.scanLimit)
	if err != nil {
		log.Printf("[board] scan %s failed: %v", addr, err)
		return chat.MessageRef{}, "", false
	}

	var (
		found   chat.MessageRef
		content string
		ok      bool
	)
	for _, m := range msgs {
		if !m.FromSelf || !strings.HasPrefix(m.Content, s.sentinel) {
			continue
		}
		if m.Ref.MessageID == skip.MessageID && !skip.IsZero() {
			continue
		}
		if !ok {
			found, content, ok = m.Ref, m.Content, true
			continue
		}
		if err := s.messenger.DeleteMessage(ctx, m.Ref); err != nil {
			log.Printf("[board] delete duplicate board %s failed: %v", m.Ref.MessageID, err)
		}
	}
	return found, content, ok
}
