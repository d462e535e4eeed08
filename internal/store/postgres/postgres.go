package postgres

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/DoyleJ11/series-draft/internal/engine"
	"github.com/DoyleJ11/series-draft/internal/logging"
	"github.com/DoyleJ11/series-draft/internal/registry"
	"github.com/DoyleJ11/series-draft/internal/store"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const uniqueViolation = "23505"

type Store struct {
	db *gorm.DB
}

var _ store.Store = (*Store)(nil)

// Open connects to Postgres, retrying a few times while the database comes
// up, and migrates the draft tables.
func Open(ctx context.Context, dsn string) (*Store, error) {
	logger := logging.FromContext(ctx)

	const maxRetries = 3
	const retryInterval = 5 * time.Second

	var db *gorm.DB
	var err error
	for i := 0; i <= maxRetries; i++ {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
		if err == nil {
			break
		}
		logger.Warnw("postgres connect failed", zap.Int("retry", i), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	s := &Store{db: db}
	if err := s.Migrate(ctx); err != nil {
		return nil, err
	}
	logger.Infow("postgres store ready")
	return s, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	err := s.db.WithContext(ctx).AutoMigrate(&sessionRow{}, &gameRow{}, &turnRow{}, &participantRow{}, &userSessionRow{})
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) CreateSession(ctx context.Context, sess engine.Session, creator *registry.Participant, indexUsers []string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := toSessionRow(sess)
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		if creator != nil {
			p := toParticipantRow(*creator)
			if err := tx.Create(&p).Error; err != nil {
				return err
			}
		}
		return index(tx, sess.ID, indexUsers)
	})
	return translate("create session", err)
}

func (s *Store) Load(ctx context.Context, sessionID string) (engine.Session, []registry.Participant, error) {
	db := s.db.WithContext(ctx)

	var row sessionRow
	if err := db.First(&row, "id = ?", sessionID).Error; err != nil {
		return engine.Session{}, nil, translate("load session", err)
	}
	sess := fromSessionRow(row)

	var games []gameRow
	if err := db.Where("session_id = ?", sessionID).Order("number").Find(&games).Error; err != nil {
		return engine.Session{}, nil, translate("load games", err)
	}
	var turns []turnRow
	if err := db.Where("session_id = ?", sessionID).Order("game_number, idx").Find(&turns).Error; err != nil {
		return engine.Session{}, nil, translate("load turns", err)
	}

	byGame := make(map[int][]engine.Turn, len(games))
	for _, t := range turns {
		byGame[t.GameNumber] = append(byGame[t.GameNumber], fromTurnRow(t))
	}
	for _, g := range games {
		sess.Games = append(sess.Games, engine.Game{
			Number:      g.Number,
			BlueTeam:    engine.Team(g.BlueTeam),
			Cursor:      g.Cursor,
			Turns:       byGame[g.Number],
			StartedAt:   g.StartedAt,
			CompletedAt: g.CompletedAt,
		})
	}

	var rows []participantRow
	if err := db.Where("session_id = ?", sessionID).Order("joined_at").Find(&rows).Error; err != nil {
		return engine.Session{}, nil, translate("load participants", err)
	}
	participants := make([]registry.Participant, 0, len(rows))
	for _, r := range rows {
		participants = append(participants, fromParticipantRow(r))
	}
	return sess, participants, nil
}

// Commit writes c.Next if the stored version still equals c.Prev.Version.
// Turn rows are updated only while unresolved or holding the timeout
// sentinel, so a resolved pick can never be overwritten.
func (s *Store) Commit(ctx context.Context, c store.Change) error {
	if err := store.CheckTurns(c.Prev, c.Next); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := toSessionRow(c.Next)
		res := tx.Model(&sessionRow{}).
			Where("id = ? AND version = ?", c.Next.ID, c.Prev.Version).
			Select("*").Omit("id", "created_at").
			Updates(&row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return store.ErrConflict
		}

		for i, g := range c.Next.Games {
			if i >= len(c.Prev.Games) {
				if err := insertGame(tx, c.Next.ID, g); err != nil {
					return err
				}
				continue
			}
			if err := updateGame(tx, c.Next.ID, c.Prev.Games[i], g); err != nil {
				return err
			}
		}

		if c.Participant != nil {
			p := toParticipantRow(*c.Participant)
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"user_id", "display_name", "role"}),
			}).Create(&p).Error
			if err != nil {
				return err
			}
		}
		return index(tx, c.Next.ID, c.IndexUsers)
	})
	return translate("commit session", err)
}

func insertGame(tx *gorm.DB, sessionID string, g engine.Game) error {
	row := toGameRow(sessionID, g)
	if err := tx.Create(&row).Error; err != nil {
		return err
	}
	turns := make([]turnRow, 0, len(g.Turns))
	for _, t := range g.Turns {
		turns = append(turns, toTurnRow(sessionID, g.Number, t))
	}
	return tx.Create(&turns).Error
}

func updateGame(tx *gorm.DB, sessionID string, prev, next engine.Game) error {
	if prev.Cursor != next.Cursor || prev.BlueTeam != next.BlueTeam || !reflect.DeepEqual(prev.CompletedAt, next.CompletedAt) {
		row := toGameRow(sessionID, next)
		err := tx.Model(&gameRow{}).
			Where("session_id = ? AND number = ?", sessionID, next.Number).
			Select("blue_team", "cursor", "completed_at").
			Updates(&row).Error
		if err != nil {
			return err
		}
	}

	for i, t := range next.Turns {
		if i < len(prev.Turns) && reflect.DeepEqual(prev.Turns[i], t) {
			continue
		}
		row := toTurnRow(sessionID, next.Number, t)
		res := tx.Model(&turnRow{}).
			Where("session_id = ? AND game_number = ? AND idx = ?", sessionID, next.Number, t.Index).
			Where("filled_at IS NULL OR (timed_out AND champion_id = ?)", engine.NoSelection).
			Select("champion_id", "started_at", "filled_at", "timed_out", "late_fill").
			Updates(&row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return store.ErrConflict
		}
	}
	return nil
}

func index(tx *gorm.DB, sessionID string, users []string) error {
	for _, userID := range users {
		if userID == "" {
			continue
		}
		row := userSessionRow{UserID: userID, SessionID: sessionID}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) UserSessions(ctx context.Context, userID string) ([]engine.Session, error) {
	db := s.db.WithContext(ctx)

	var rows []sessionRow
	err := db.Joins("JOIN draft_user_sessions us ON us.session_id = draft_sessions.id").
		Where("us.user_id = ?", userID).
		Order("draft_sessions.created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, translate("user sessions", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	var games []gameRow
	if err := db.Where("session_id IN ?", ids).Order("number").Find(&games).Error; err != nil {
		return nil, translate("user session games", err)
	}
	byID := make(map[string][]engine.Game)
	for _, g := range games {
		byID[g.SessionID] = append(byID[g.SessionID], engine.Game{
			Number:      g.Number,
			BlueTeam:    engine.Team(g.BlueTeam),
			Cursor:      g.Cursor,
			StartedAt:   g.StartedAt,
			CompletedAt: g.CompletedAt,
		})
	}

	out := make([]engine.Session, 0, len(rows))
	for _, r := range rows {
		sess := fromSessionRow(r)
		if g := byID[r.ID]; g != nil {
			sess.Games = g
		}
		out = append(out, sess)
	}
	return out, nil
}

func (s *Store) StaleLobbies(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&sessionRow{}).
		Where("status = ? AND created_at < ?", string(engine.StatusLobby), cutoff).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, translate("stale lobbies", err)
	}
	return ids, nil
}

func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrDuplicate) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", op, store.ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", op, err)
}
