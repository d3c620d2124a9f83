package server

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const (
	DriverSqlite   = "sqlite"
	DriverPostgres = "postgres"
)

// rebind converts ?-style placeholders to $N for postgres. Queries are
// written once in sqlite style, same as the rest of the codebase.
func rebind(driver, query string) string {
	if driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type userRow struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
	Avatar    string
}

type messageRow struct {
	ID          int64
	SenderID    int64
	RecipientID int64
	Content     string
	SentAt      time.Time
	IsRead      bool
}

type messageJSON struct {
	ID        int64  `json:"id"`
	Sender    int64  `json:"sender"`
	Recipient int64  `json:"recipient"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	IsRead    bool   `json:"is_read"`
}

func (m messageRow) JSON() messageJSON {
	return messageJSON{
		ID:        m.ID,
		Sender:    m.SenderID,
		Recipient: m.RecipientID,
		Content:   m.Content,
		Timestamp: m.SentAt.UTC().Format(time.RFC3339Nano),
		IsRead:    m.IsRead,
	}
}

// parseTime handles the timestamp formats the two drivers hand back.
func parseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func getUser(db *sql.DB, driver string, id int64) (userRow, error) {
	var u userRow
	err := db.QueryRow(rebind(driver,
		`SELECT id, username, first_name, last_name, avatar FROM users WHERE id=?`), id).
		Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.Avatar)
	return u, err
}

func insertMessage(db *sql.DB, driver string, sender, recipient int64, content string) (messageRow, error) {
	m := messageRow{
		SenderID:    sender,
		RecipientID: recipient,
		Content:     content,
		SentAt:      time.Now().UTC(),
	}
	if driver == DriverPostgres {
		err := db.QueryRow(rebind(driver,
			`INSERT INTO messages (sender_id, recipient_id, content, timestamp) VALUES (?, ?, ?, ?) RETURNING id`),
			sender, recipient, content, m.SentAt).Scan(&m.ID)
		return m, err
	}
	res, err := db.Exec(
		`INSERT INTO messages (sender_id, recipient_id, content, timestamp) VALUES (?, ?, ?, ?)`,
		sender, recipient, content, m.SentAt)
	if err != nil {
		return m, err
	}
	m.ID, err = res.LastInsertId()
	return m, err
}

func getMessage(db *sql.DB, driver string, id int64) (messageRow, error) {
	var m messageRow
	var at sql.NullString
	err := db.QueryRow(rebind(driver,
		`SELECT id, sender_id, recipient_id, content, timestamp, is_read FROM messages WHERE id=? AND is_deleted=FALSE`), id).
		Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Content, &at, &m.IsRead)
	if err != nil {
		return m, err
	}
	if at.Valid {
		m.SentAt = parseTime(at.String)
	}
	return m, nil
}

func listChat(db *sql.DB, driver string, userID, partnerID int64) ([]messageRow, error) {
	rows, err := db.Query(rebind(driver, `
		SELECT id, sender_id, recipient_id, content, timestamp, is_read
		FROM messages
		WHERE ((sender_id=? AND recipient_id=?) OR (sender_id=? AND recipient_id=?))
		  AND is_deleted=FALSE
		ORDER BY timestamp`), userID, partnerID, partnerID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []messageRow
	for rows.Next() {
		var m messageRow
		var at sql.NullString
		if err := rows.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Content, &at, &m.IsRead); err != nil {
			return nil, err
		}
		if at.Valid {
			m.SentAt = parseTime(at.String)
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// markChatRead flags everything the partner sent to the user as read, the
// side effect of fetching a chat's history.
func markChatRead(db *sql.DB, driver string, partnerID, userID int64) error {
	_, err := db.Exec(rebind(driver,
		`UPDATE messages SET is_read=TRUE WHERE sender_id=? AND recipient_id=? AND is_read=FALSE`),
		partnerID, userID)
	return err
}

func updateMessageContent(db *sql.DB, driver string, id, author int64, content string) (bool, error) {
	res, err := db.Exec(rebind(driver,
		`UPDATE messages SET content=? WHERE id=? AND sender_id=? AND is_deleted=FALSE`),
		content, id, author)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func softDeleteMessage(db *sql.DB, driver string, id, author int64) (bool, error) {
	res, err := db.Exec(rebind(driver,
		`UPDATE messages SET is_deleted=TRUE WHERE id=? AND sender_id=? AND is_deleted=FALSE`),
		id, author)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func markMessagesRead(db *sql.DB, driver string, recipient int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, recipient)
	q := fmt.Sprintf(`UPDATE messages SET is_read=TRUE WHERE id IN (%s) AND recipient_id=? AND is_read=FALSE`, placeholders)
	_, err := db.Exec(rebind(driver, q), args...)
	return err
}

func hasMessages(db *sql.DB, driver string, userID int64) (bool, error) {
	var n int
	err := db.QueryRow(rebind(driver,
		`SELECT COUNT(1) FROM messages WHERE (sender_id=? OR recipient_id=?) AND is_deleted=FALSE`),
		userID, userID).Scan(&n)
	return n > 0, err
}

func chatPartners(db *sql.DB, driver string, userID int64) ([]int64, error) {
	rows, err := db.Query(rebind(driver, `
		SELECT DISTINCT CASE WHEN sender_id=? THEN recipient_id ELSE sender_id END
		FROM messages
		WHERE (sender_id=? OR recipient_id=?) AND is_deleted=FALSE`),
		userID, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func lastMessage(db *sql.DB, driver string, userID, partnerID int64) (messageRow, bool, error) {
	var m messageRow
	var at sql.NullString
	err := db.QueryRow(rebind(driver, `
		SELECT id, sender_id, recipient_id, content, timestamp, is_read
		FROM messages
		WHERE ((sender_id=? AND recipient_id=?) OR (sender_id=? AND recipient_id=?))
		  AND is_deleted=FALSE
		ORDER BY timestamp DESC LIMIT 1`), userID, partnerID, partnerID, userID).
		Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Content, &at, &m.IsRead)
	if err == sql.ErrNoRows {
		return m, false, nil
	}
	if err != nil {
		return m, false, err
	}
	if at.Valid {
		m.SentAt = parseTime(at.String)
	}
	return m, true, nil
}

func unreadCount(db *sql.DB, driver string, userID, partnerID int64) (int, error) {
	var n int
	err := db.QueryRow(rebind(driver,
		`SELECT COUNT(1) FROM messages WHERE sender_id=? AND recipient_id=? AND is_read=FALSE AND is_deleted=FALSE`),
		partnerID, userID).Scan(&n)
	return n, err
}
