package bridge

import (
	"errors"
	"fmt"
	"sync"

	"go-stash-downloader/internal/database"
)

// MailboxKey is the database key holding queued external URLs.
const MailboxKey = "external_urls"

// Mailbox holds messages for a consumer that is not running yet. It is drained on load.
type Mailbox struct {
	mu sync.Mutex
	db *database.DB
}

func NewMailbox(db *database.DB) *Mailbox {
	return &Mailbox{db: db}
}

func (m *Mailbox) load() ([]Message, error) {
	var msgs []Message
	err := m.db.GetJSON(MailboxKey, &msgs)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	return msgs, err
}

// Push appends msg to the mailbox.
func (m *Mailbox) Push(msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs, err := m.load()
	if err != nil {
		return fmt.Errorf("reading mailbox: %w", err)
	}
	msgs = append(msgs, msg)
	if err := m.db.PutJSON(MailboxKey, msgs); err != nil {
		return fmt.Errorf("writing mailbox: %w", err)
	}
	return nil
}

// Drain returns all queued messages in arrival order and empties the mailbox.
func (m *Mailbox) Drain() ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs, err := m.load()
	if err != nil {
		return nil, fmt.Errorf("reading mailbox: %w", err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	if err := m.db.Delete([]byte(MailboxKey)); err != nil {
		return nil, fmt.Errorf("clearing mailbox: %w", err)
	}
	return msgs, nil
}
