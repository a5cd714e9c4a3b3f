package store

import (
	"fmt"
	"time"

	"github.com/ridelink/ridechat/internal/chat"
)

// SnapshotContacts replaces the persisted directory snapshot wholesale.
// The directory is refreshed as a unit, so partial upserts would only
// preserve contacts the backend no longer returns.
func (db *DB) SnapshotContacts(contacts []chat.Contact) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM contacts`); err != nil {
		return fmt.Errorf("clear contacts: %w", err)
	}

	now := time.Now().UnixMilli()
	for _, c := range contacts {
		if _, err := tx.Exec(`
			INSERT INTO contacts (id, name, role, avatar, unread, active, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.Name, c.Role, c.Avatar, c.Unread, c.Active, now); err != nil {
			return fmt.Errorf("insert contact %d: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// ListContacts returns the persisted snapshot sorted by unread descending
// then name ascending, the directory's display order.
func (db *DB) ListContacts() ([]chat.Contact, error) {
	rows, err := db.Query(`
		SELECT id, name, role, avatar, unread, active
		FROM contacts
		ORDER BY unread DESC, name ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var contacts []chat.Contact
	for rows.Next() {
		var c chat.Contact
		if err := rows.Scan(&c.ID, &c.Name, &c.Role, &c.Avatar, &c.Unread, &c.Active); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// ContactCount returns the number of persisted contacts.
func (db *DB) ContactCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM contacts`).Scan(&count)
	return count, err
}
