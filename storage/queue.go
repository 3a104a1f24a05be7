package storage

import (
	"fmt"

	"github.com/vocdoni/amaci/processor"
)

// AppendMessage appends a published voting message to the round's log and
// returns its sequence number.
func (s *Storage) AppendMessage(roundID string, msg *processor.Message) (uint64, error) {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	return s.appendLog(messagePrefix, roundID, msg)
}

// AppendDeactivateMessage appends a published deactivation request to the
// round's log and returns its sequence number.
func (s *Storage) AppendDeactivateMessage(roundID string, msg *processor.Message) (uint64, error) {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	return s.appendLog(deactivatePrefix, roundID, msg)
}

// Messages returns the round's published voting messages in arrival order.
// Pad messages are never stored; replay regenerates them.
func (s *Storage) Messages(roundID string) ([]*processor.Message, error) {
	return s.messageLog(messagePrefix, roundID)
}

// DeactivateMessages returns the round's published deactivation requests
// in arrival order.
func (s *Storage) DeactivateMessages(roundID string) ([]*processor.Message, error) {
	return s.messageLog(deactivatePrefix, roundID)
}

func (s *Storage) messageLog(prefix []byte, roundID string) ([]*processor.Message, error) {
	var msgs []*processor.Message
	var decErr error
	if err := s.listScope(prefix, roundScope(roundID), func(v []byte) bool {
		msg := &processor.Message{}
		if decErr = decodeArtifact(v, msg); decErr != nil {
			return false
		}
		msgs = append(msgs, msg)
		return true
	}); err != nil {
		return nil, err
	}
	if decErr != nil {
		return nil, fmt.Errorf("decode message %d of round %s: %w", len(msgs), roundID, decErr)
	}
	return msgs, nil
}
