package storage

import (
	"context"
	"time"

	"github.com/Lebouse/telegram-reminder/pkg/logx"
)

// Chat is a group the bot has been added to; only these are offered as
// publication destinations.
type Chat struct {
	ID      int64
	Title   string
	AddedAt time.Time
}

func (s *Store) UpsertChat(ctx context.Context, id int64, title string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats(chat_id, title, added_at) VALUES(?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET title = excluded.title`,
		id, title, time.Now().UTC().UnixMilli())
	if err == nil {
		s.log.Info("trusted chat recorded", logx.Int64("chat", id), logx.String("title", title))
	}
	return err
}

func (s *Store) RemoveChat(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE chat_id = ?`, id)
	return err
}

func (s *Store) ListChats(ctx context.Context) ([]Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, title, added_at FROM chats ORDER BY title`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Chat
	for rows.Next() {
		var (
			c     Chat
			added int64
		)
		if err := rows.Scan(&c.ID, &c.Title, &added); err != nil {
			return nil, err
		}
		c.AddedAt = fromMillis(added)
		out = append(out, c)
	}
	return out, rows.Err()
}
