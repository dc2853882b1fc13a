package session

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/vogler75/monstermq/internal/model"
	"github.com/vogler75/monstermq/pkg/mqtterr"
)

// SQLiteStore is the durable single-node session store, grounded on
// the teacher's internal/auth.Store database/sql access pattern
// (github.com/mattn/go-sqlite3), generalized from one users table to
// the sessions/subscriptions/queued_messages tables spec.md §6 names.
// Queued BrokerMessage values are serialized with msgpack, which
// preserves the user-property list's order and duplicates as an
// array of pairs rather than collapsing them into a map.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS sessions (
	client_id TEXT PRIMARY KEY,
	clean_start INTEGER NOT NULL,
	session_expiry_interval INTEGER NOT NULL,
	receive_maximum INTEGER NOT NULL,
	maximum_packet_size INTEGER NOT NULL,
	topic_alias_maximum INTEGER NOT NULL,
	will BLOB,
	will_delay_interval INTEGER NOT NULL,
	connected INTEGER NOT NULL,
	node_id TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	disconnected_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS subscriptions (
	client_id TEXT NOT NULL,
	filter TEXT NOT NULL,
	qos INTEGER NOT NULL,
	no_local INTEGER NOT NULL,
	retain_handling INTEGER NOT NULL,
	retain_as_published INTEGER NOT NULL,
	PRIMARY KEY (client_id, filter)
);
CREATE TABLE IF NOT EXISTS queued_messages (
	client_id TEXT NOT NULL,
	sequence INTEGER NOT NULL,
	message BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	expiry_interval INTEGER NOT NULL,
	PRIMARY KEY (client_id, sequence)
);`)
	return err
}

func (s *SQLiteStore) SaveSession(ctx context.Context, sess *model.Session) error {
	var willBlob []byte
	if sess.Will != nil {
		var err error
		willBlob, err = msgpack.Marshal(sess.Will)
		if err != nil {
			return mqtterr.Wrap(mqtterr.KindStorageFatal, "session.SaveSession", 0, err)
		}
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions (client_id, clean_start, session_expiry_interval, receive_maximum,
	maximum_packet_size, topic_alias_maximum, will, will_delay_interval, connected, node_id,
	created_at, disconnected_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(client_id) DO UPDATE SET
	clean_start=excluded.clean_start,
	session_expiry_interval=excluded.session_expiry_interval,
	receive_maximum=excluded.receive_maximum,
	maximum_packet_size=excluded.maximum_packet_size,
	topic_alias_maximum=excluded.topic_alias_maximum,
	will=excluded.will,
	will_delay_interval=excluded.will_delay_interval,
	connected=excluded.connected,
	node_id=excluded.node_id,
	disconnected_at=excluded.disconnected_at`,
		sess.ClientID, sess.CleanStart, sess.SessionExpiryInterval, sess.ReceiveMaximum,
		sess.MaximumPacketSize, sess.TopicAliasMaximum, willBlob, sess.WillDelayInterval,
		sess.Connected, sess.NodeID, sess.CreatedAt.Unix(), sess.DisconnectedAt.Unix())
	if err != nil {
		return mqtterr.Wrap(mqtterr.KindStorageTransient, "session.SaveSession", 0, err)
	}
	return nil
}

func (s *SQLiteStore) LoadSession(ctx context.Context, clientID string) (*model.Session, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT client_id, clean_start, session_expiry_interval,
	receive_maximum, maximum_packet_size, topic_alias_maximum, will, will_delay_interval,
	connected, node_id, created_at, disconnected_at FROM sessions WHERE client_id = ?`, clientID)

	var sess model.Session
	var willBlob []byte
	var createdAt, disconnectedAt int64
	err := row.Scan(&sess.ClientID, &sess.CleanStart, &sess.SessionExpiryInterval,
		&sess.ReceiveMaximum, &sess.MaximumPacketSize, &sess.TopicAliasMaximum, &willBlob,
		&sess.WillDelayInterval, &sess.Connected, &sess.NodeID, &createdAt, &disconnectedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, mqtterr.Wrap(mqtterr.KindStorageTransient, "session.LoadSession", 0, err)
	}
	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.DisconnectedAt = time.Unix(disconnectedAt, 0)
	if len(willBlob) > 0 {
		var will model.Will
		if err := msgpack.Unmarshal(willBlob, &will); err != nil {
			return nil, false, mqtterr.Wrap(mqtterr.KindStorageFatal, "session.LoadSession", 0, err)
		}
		sess.Will = &will
	}
	return &sess, true, nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, clientID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mqtterr.Wrap(mqtterr.KindStorageTransient, "session.DeleteSession", 0, err)
	}
	defer tx.Rollback()
	for _, table := range []string{"sessions", "subscriptions", "queued_messages"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE client_id = ?", clientID); err != nil {
			return mqtterr.Wrap(mqtterr.KindStorageTransient, "session.DeleteSession", 0, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return mqtterr.Wrap(mqtterr.KindStorageTransient, "session.DeleteSession", 0, err)
	}
	return nil
}

func (s *SQLiteStore) ExpiredSessions(ctx context.Context) ([]*model.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT client_id FROM sessions WHERE connected = 0`)
	if err != nil {
		return nil, mqtterr.Wrap(mqtterr.KindStorageTransient, "session.ExpiredSessions", 0, err)
	}
	defer rows.Close()

	var candidates []string
	for rows.Next() {
		var clientID string
		if err := rows.Scan(&clientID); err != nil {
			return nil, mqtterr.Wrap(mqtterr.KindStorageTransient, "session.ExpiredSessions", 0, err)
		}
		candidates = append(candidates, clientID)
	}

	now := time.Now()
	var out []*model.Session
	for _, clientID := range candidates {
		sess, ok, err := s.LoadSession(ctx, clientID)
		if err != nil {
			return nil, err
		}
		if ok && sess.Expired(now) {
			out = append(out, sess)
		}
	}
	return out, nil
}

func (s *SQLiteStore) SaveSubscriptions(ctx context.Context, clientID string, subs []model.Subscription) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mqtterr.Wrap(mqtterr.KindStorageTransient, "session.SaveSubscriptions", 0, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM subscriptions WHERE client_id = ?", clientID); err != nil {
		return mqtterr.Wrap(mqtterr.KindStorageTransient, "session.SaveSubscriptions", 0, err)
	}
	for _, sub := range subs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO subscriptions
			(client_id, filter, qos, no_local, retain_handling, retain_as_published)
			VALUES (?, ?, ?, ?, ?, ?)`,
			sub.ClientID, sub.Filter, sub.QoS, sub.NoLocal, sub.RetainHandling, sub.RetainAsPublished); err != nil {
			return mqtterr.Wrap(mqtterr.KindStorageTransient, "session.SaveSubscriptions", 0, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return mqtterr.Wrap(mqtterr.KindStorageTransient, "session.SaveSubscriptions", 0, err)
	}
	return nil
}

func (s *SQLiteStore) LoadSubscriptions(ctx context.Context, clientID string) ([]model.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT client_id, filter, qos, no_local, retain_handling,
	retain_as_published FROM subscriptions WHERE client_id = ?`, clientID)
	if err != nil {
		return nil, mqtterr.Wrap(mqtterr.KindStorageTransient, "session.LoadSubscriptions", 0, err)
	}
	defer rows.Close()

	var out []model.Subscription
	for rows.Next() {
		var sub model.Subscription
		if err := rows.Scan(&sub.ClientID, &sub.Filter, &sub.QoS, &sub.NoLocal,
			&sub.RetainHandling, &sub.RetainAsPublished); err != nil {
			return nil, mqtterr.Wrap(mqtterr.KindStorageTransient, "session.LoadSubscriptions", 0, err)
		}
		out = append(out, sub)
	}
	return out, nil
}

func (s *SQLiteStore) Enqueue(ctx context.Context, clientID string, msg *model.BrokerMessage, expiryInterval int64) error {
	blob, err := msgpack.Marshal(msg)
	if err != nil {
		return mqtterr.Wrap(mqtterr.KindStorageFatal, "session.Enqueue", 0, err)
	}

	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), 0) FROM queued_messages WHERE client_id = ?`, clientID)
	var maxSeq uint64
	if err := row.Scan(&maxSeq); err != nil {
		return mqtterr.Wrap(mqtterr.KindStorageTransient, "session.Enqueue", 0, err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO queued_messages
		(client_id, sequence, message, created_at, expiry_interval) VALUES (?, ?, ?, ?, ?)`,
		clientID, maxSeq+1, blob, time.Now().Unix(), expiryInterval)
	if err != nil {
		return mqtterr.Wrap(mqtterr.KindStorageTransient, "session.Enqueue", 0, err)
	}
	return nil
}

func (s *SQLiteStore) Dequeue(ctx context.Context, clientID string, limit int) ([]*model.QueuedMessage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sequence, message, created_at, expiry_interval
		FROM queued_messages WHERE client_id = ? ORDER BY sequence ASC`, clientID)
	if err != nil {
		return nil, mqtterr.Wrap(mqtterr.KindStorageTransient, "session.Dequeue", 0, err)
	}
	defer rows.Close()

	now := time.Now()
	var expiredSeqs []uint64
	var out []*model.QueuedMessage
	for rows.Next() {
		var seq uint64
		var blob []byte
		var createdAt, expiryInterval int64
		if err := rows.Scan(&seq, &blob, &createdAt, &expiryInterval); err != nil {
			return nil, mqtterr.Wrap(mqtterr.KindStorageTransient, "session.Dequeue", 0, err)
		}
		q := &model.QueuedMessage{
			ClientID:       clientID,
			Sequence:       seq,
			CreatedAt:      time.Unix(createdAt, 0),
			ExpiryInterval: expiryInterval,
		}
		if q.Expired(now) {
			expiredSeqs = append(expiredSeqs, seq)
			continue
		}
		var msg model.BrokerMessage
		if err := msgpack.Unmarshal(blob, &msg); err != nil {
			return nil, mqtterr.Wrap(mqtterr.KindStorageFatal, "session.Dequeue", 0, err)
		}
		q.Message = &msg
		if len(out) < limit {
			out = append(out, q)
		}
	}

	for _, seq := range expiredSeqs {
		_ = s.Ack(ctx, clientID, seq)
	}
	return out, nil
}

func (s *SQLiteStore) Ack(ctx context.Context, clientID string, sequence uint64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM queued_messages WHERE client_id = ? AND sequence = ?`, clientID, sequence)
	if err != nil {
		return mqtterr.Wrap(mqtterr.KindStorageTransient, "session.Ack", 0, err)
	}
	return nil
}

func (s *SQLiteStore) QueueDepth(ctx context.Context, clientID string) (int, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queued_messages WHERE client_id = ?`, clientID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, mqtterr.Wrap(mqtterr.KindStorageTransient, "session.QueueDepth", 0, err)
	}
	return n, nil
}
