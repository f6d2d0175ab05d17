package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/muchaco/council/types"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore implements Store on top of gorm. It works with any dialector
// the database package opens: sqlite, postgres or mysql.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
	inTx   bool
}

// NewGormStore wraps db.
func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormStore{db: db, logger: logger.With(zap.String("component", "gorm_store"))}
}

// AutoMigrate creates the tables from the record definitions. Production
// deployments use the SQL migrations; this is for tests and the sqlite dev mode.
func (s *GormStore) AutoMigrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(allModels()...); err != nil {
		return types.NewPersistenceError("auto migrate", err)
	}
	return nil
}

// DB exposes the underlying handle for health checks.
func (s *GormStore) DB() *gorm.DB { return s.db }

func (s *GormStore) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// lockRows reports whether reads inside the current transaction take row
// locks. SQLite has no SELECT ... FOR UPDATE; its write lock covers the
// whole database file instead.
func (s *GormStore) lockRows() bool {
	return s.inTx && s.db.Dialector != nil && s.db.Dialector.Name() != "sqlite"
}

// WithTx runs fn in a database transaction. Nested calls reuse the outer one.
func (s *GormStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx, logger: s.logger, inTx: true})
	})
	if err == nil {
		return nil
	}
	var te *types.Error
	if errors.As(err, &te) {
		return err
	}
	return types.NewPersistenceError("transaction", err)
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return types.NewPersistenceError("ping", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return types.NewPersistenceError("ping", err)
	}
	return nil
}

func (s *GormStore) Close() error {
	if s.inTx {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// =============================================================================
// Sessions
// =============================================================================

func (s *GormStore) CreateSession(ctx context.Context, in *types.Session) (*types.Session, error) {
	sess, err := prepareSession(in)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	sess.CreatedAt, sess.UpdatedAt = now, now

	rec, err := sessionToRecord(sess)
	if err != nil {
		return nil, types.NewPersistenceError("encode session", err)
	}
	if err := s.conn(ctx).Create(rec).Error; err != nil {
		return nil, types.NewPersistenceError("create session", err)
	}
	return rec.toSession()
}

func (s *GormStore) GetSession(ctx context.Context, id string) (*types.Session, error) {
	var rec sessionRecord
	q := s.conn(ctx)
	if s.lockRows() {
		// 事务内锁定会话行，直到提交
		q = q.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
	}
	err := q.Where("id = ?", id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewNotFoundError("session", id)
	}
	if err != nil {
		return nil, types.NewPersistenceError("get session", err)
	}
	return rec.toSession()
}

func (s *GormStore) UpdateSession(ctx context.Context, id string, patch types.SessionPatch) (*types.Session, error) {
	current, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.IsEmpty() {
		return current, nil
	}

	next := current.Clone()
	patch.Apply(next)
	if err := next.Validate(); err != nil {
		return nil, err
	}

	updates, err := patchColumns(patch)
	if err != nil {
		return nil, types.NewPersistenceError("encode session patch", err)
	}
	updates["updated_at"] = time.Now().UTC()

	res := s.conn(ctx).Model(&sessionRecord{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return nil, types.NewPersistenceError("update session", res.Error)
	}
	return s.GetSession(ctx, id)
}

// patchColumns maps a patch onto column updates. A map is used so that
// zero values and NULL are written.
func patchColumns(p types.SessionPatch) (map[string]any, error) {
	cols := make(map[string]any)
	if p.Status != nil {
		cols["status"] = string(*p.Status)
	}
	if p.ConductorEnabled != nil {
		cols["conductor_enabled"] = *p.ConductorEnabled
	}
	if p.ConductorPersonaID != nil {
		cols["conductor_persona_id"] = *p.ConductorPersonaID
	}
	if p.ClearConductorPersona {
		cols["conductor_persona_id"] = nil
	}
	if p.Blackboard != nil {
		bb, err := encodeJSON(p.Blackboard)
		if err != nil {
			return nil, err
		}
		cols["blackboard"] = *bb
	}
	if p.AutoReplyCount != nil {
		cols["auto_reply_count"] = *p.AutoReplyCount
	}
	if p.TokenCount != nil {
		cols["token_count"] = *p.TokenCount
	}
	if p.TokenBudget != nil {
		cols["token_budget"] = *p.TokenBudget
	}
	if p.ArchivedAt != nil {
		cols["archived_at"] = p.ArchivedAt.UTC()
	}
	return cols, nil
}

func (s *GormStore) ListSessions(ctx context.Context, opts ListOptions) ([]types.Session, error) {
	q := s.conn(ctx).Model(&sessionRecord{}).Order("created_at DESC")
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	var recs []sessionRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, types.NewPersistenceError("list sessions", err)
	}
	out := make([]types.Session, 0, len(recs))
	for i := range recs {
		sess, err := recs[i].toSession()
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, nil
}

// =============================================================================
// Personas
// =============================================================================

func (s *GormStore) CreatePersona(ctx context.Context, in *types.Persona) (*types.Persona, error) {
	if in == nil {
		return nil, types.NewValidationError("persona is nil")
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	rec := personaToRecord(in)
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = time.Now().UTC()
	if err := s.conn(ctx).Create(rec).Error; err != nil {
		return nil, types.NewPersistenceError("create persona", err)
	}
	p := rec.toPersona()
	return &p, nil
}

func (s *GormStore) AddSessionPersona(ctx context.Context, sessionID, personaID string) error {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return err
	}
	var count int64
	if err := s.conn(ctx).Model(&personaRecord{}).Where("id = ?", personaID).Count(&count).Error; err != nil {
		return types.NewPersistenceError("lookup persona", err)
	}
	if count == 0 {
		return types.NewNotFoundError("persona", personaID)
	}

	rec := &sessionPersonaRecord{SessionID: sessionID, PersonaID: personaID, CreatedAt: time.Now().UTC()}
	err := s.conn(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(rec).Error
	if err != nil {
		return types.NewPersistenceError("add session persona", err)
	}
	return nil
}

type participantRow struct {
	Persona            personaRecord `gorm:"embedded"`
	HushTurnsRemaining int
	HushedAt           *time.Time
}

func (s *GormStore) GetSessionPersonas(ctx context.Context, sessionID string) ([]types.Persona, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	var rows []participantRow
	err := s.conn(ctx).
		Table("session_personas AS sp").
		Select("p.*, sp.hush_turns_remaining, sp.hushed_at").
		Joins("JOIN personas AS p ON p.id = sp.persona_id").
		Where("sp.session_id = ?", sessionID).
		Order("sp.created_at ASC, p.id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, types.NewPersistenceError("get session personas", err)
	}
	out := make([]types.Persona, 0, len(rows))
	for i := range rows {
		p := rows[i].Persona.toPersona()
		p.HushTurnsRemaining = rows[i].HushTurnsRemaining
		p.HushedAt = rows[i].HushedAt
		out = append(out, p)
	}
	return out, nil
}

// =============================================================================
// Messages
// =============================================================================

func (s *GormStore) GetLastMessages(ctx context.Context, sessionID string, limit int) ([]types.Message, error) {
	q := s.conn(ctx).Where("session_id = ?", sessionID).Order("turn_number DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []messageRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, types.NewPersistenceError("get messages", err)
	}
	out := make([]types.Message, 0, len(recs))
	for i := range recs {
		m, err := recs[i].toMessage()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	types.SortForReplay(out)
	return out, nil
}

func (s *GormStore) ListMessages(ctx context.Context, sessionID string) ([]types.Message, error) {
	return s.GetLastMessages(ctx, sessionID, 0)
}

func (s *GormStore) GetNextTurnNumber(ctx context.Context, sessionID string) (int, error) {
	var maxTurn int
	err := s.conn(ctx).Model(&messageRecord{}).
		Select("COALESCE(MAX(turn_number), 0)").
		Where("session_id = ?", sessionID).
		Scan(&maxTurn).Error
	if err != nil {
		return 0, types.NewPersistenceError("next turn number", err)
	}
	return maxTurn + 1, nil
}

func (s *GormStore) CreateMessage(ctx context.Context, in *types.Message) (*types.Message, error) {
	if err := validateNewMessage(in); err != nil {
		return nil, err
	}
	if _, err := s.GetSession(ctx, in.SessionID); err != nil {
		return nil, err
	}

	m := *in
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	var taken int64
	if err := s.conn(ctx).Model(&messageRecord{}).
		Where("session_id = ? AND turn_number = ?", m.SessionID, m.TurnNumber).
		Count(&taken).Error; err != nil {
		return nil, types.NewPersistenceError("check turn", err)
	}
	if taken > 0 {
		return nil, errTurnTaken(m.SessionID, m.TurnNumber)
	}

	rec, err := messageToRecord(&m)
	if err != nil {
		return nil, types.NewPersistenceError("encode message", err)
	}
	if err := s.conn(ctx).Create(rec).Error; err != nil {
		// 并发写入时由唯一索引兜底
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errTurnTaken(m.SessionID, m.TurnNumber)
		}
		return nil, types.NewPersistenceError("create message", err)
	}
	out, err := rec.toMessage()
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// =============================================================================
// Hush
// =============================================================================

func (s *GormStore) participant(ctx context.Context, sessionID, personaID string) (*sessionPersonaRecord, error) {
	var rec sessionPersonaRecord
	err := s.conn(ctx).Where("session_id = ? AND persona_id = ?", sessionID, personaID).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewNotFoundError("session persona", personaID)
	}
	if err != nil {
		return nil, types.NewPersistenceError("get session persona", err)
	}
	return &rec, nil
}

func (s *GormStore) GetHush(ctx context.Context, sessionID, personaID string) (types.HushState, error) {
	rec, err := s.participant(ctx, sessionID, personaID)
	if err != nil {
		return types.HushState{}, err
	}
	return types.HushState{TurnsRemaining: rec.HushTurnsRemaining, HushedAt: rec.HushedAt}, nil
}

func (s *GormStore) SetHush(ctx context.Context, sessionID, personaID string, turns int, at time.Time) error {
	return s.writeHush(ctx, sessionID, personaID, map[string]any{
		"hush_turns_remaining": turns,
		"hushed_at":            at.UTC(),
	})
}

func (s *GormStore) ClearHush(ctx context.Context, sessionID, personaID string) error {
	return s.writeHush(ctx, sessionID, personaID, map[string]any{
		"hush_turns_remaining": 0,
		"hushed_at":            nil,
	})
}

func (s *GormStore) writeHush(ctx context.Context, sessionID, personaID string, cols map[string]any) error {
	res := s.conn(ctx).Model(&sessionPersonaRecord{}).
		Where("session_id = ? AND persona_id = ?", sessionID, personaID).
		Updates(cols)
	if res.Error != nil {
		return types.NewPersistenceError("update hush", res.Error)
	}
	if res.RowsAffected == 0 {
		// MySQL 对未变化的行返回 0，需再确认一次
		if _, err := s.participant(ctx, sessionID, personaID); err != nil {
			return err
		}
	}
	return nil
}

// hushed_at is assigned first: MySQL evaluates SET left to right.
const decrementHushSQL = `UPDATE session_personas SET ` +
	`hushed_at = CASE WHEN hush_turns_remaining > 1 THEN hushed_at ELSE NULL END, ` +
	`hush_turns_remaining = CASE WHEN hush_turns_remaining > 1 THEN hush_turns_remaining - 1 ELSE 0 END ` +
	`WHERE session_id = ? AND hush_turns_remaining > 0`

func (s *GormStore) DecrementAllHush(ctx context.Context, sessionID string) error {
	res := s.conn(ctx).Exec(decrementHushSQL, sessionID)
	if res.Error != nil {
		return types.NewPersistenceError("decrement hush", res.Error)
	}
	if res.RowsAffected > 0 {
		s.logger.Debug("hush decremented",
			zap.String("session_id", sessionID),
			zap.Int64("rows", res.RowsAffected))
	}
	return nil
}

var _ Store = (*GormStore)(nil)
