package ledger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// versionRow is the relational form of a Record.
type versionRow struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	LinearID     string `gorm:"size:36;not null;uniqueIndex:idx_schedule_version"`
	Sequence     uint64 `gorm:"not null;uniqueIndex:idx_schedule_version"`
	State        []byte `gorm:"not null"`
	Command      []byte `gorm:"not null"`
	Participants string `gorm:"not null;index"`
	Authorizers  string `gorm:"not null"`
	Signatures   string `gorm:"not null"`
	Hash         string `gorm:"size:64;not null;uniqueIndex"`
	PrevHash     string `gorm:"size:64;not null"`
	RecordedAt   time.Time
}

func (versionRow) TableName() string { return "schedule_versions" }

// SQLStore keeps versions in a relational database through gorm. The unique
// (linear_id, sequence) index backs the append-only chain.
type SQLStore struct {
	db *gorm.DB
}

// OpenSQLStore opens driver ("sqlite" or "postgres") at dsn and migrates the
// schema.
func OpenSQLStore(driver, dsn string) (*SQLStore, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("ledger: unsupported sql driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	return NewSQLStore(db)
}

// NewSQLStore wraps an existing connection and migrates the schema.
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("ledger: nil database")
	}
	if err := db.AutoMigrate(&versionRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// participantsColumn wraps each party in commas so LIKE '%,party,%' matches
// whole entries only.
func participantsColumn(parties []string) string {
	if len(parties) == 0 {
		return ","
	}
	return "," + strings.Join(parties, ",") + ","
}

func toRow(rec *Record) (*versionRow, error) {
	authorizers, err := json.Marshal(rec.Authorizers)
	if err != nil {
		return nil, err
	}
	sigs := make([]string, len(rec.Signatures))
	for i, sig := range rec.Signatures {
		sigs[i] = hex.EncodeToString(sig)
	}
	signatures, err := json.Marshal(sigs)
	if err != nil {
		return nil, err
	}
	return &versionRow{
		LinearID:     rec.LinearID,
		Sequence:     rec.Sequence,
		State:        append([]byte(nil), rec.State...),
		Command:      append([]byte(nil), rec.Command...),
		Participants: participantsColumn(rec.Participants),
		Authorizers:  string(authorizers),
		Signatures:   string(signatures),
		Hash:         hex.EncodeToString(rec.Hash[:]),
		PrevHash:     hex.EncodeToString(rec.PrevHash[:]),
		RecordedAt:   time.Unix(0, int64(rec.RecordedAt)).UTC(),
	}, nil
}

func fromRow(row *versionRow) (*Record, error) {
	rec := &Record{
		LinearID:   row.LinearID,
		Sequence:   row.Sequence,
		State:      append([]byte(nil), row.State...),
		Command:    append([]byte(nil), row.Command...),
		RecordedAt: uint64(row.RecordedAt.UnixNano()),
	}
	for _, p := range strings.Split(strings.Trim(row.Participants, ","), ",") {
		if p != "" {
			rec.Participants = append(rec.Participants, p)
		}
	}
	if err := json.Unmarshal([]byte(row.Authorizers), &rec.Authorizers); err != nil {
		return nil, fmt.Errorf("decode authorizers: %w", err)
	}
	var sigs []string
	if err := json.Unmarshal([]byte(row.Signatures), &sigs); err != nil {
		return nil, fmt.Errorf("decode signatures: %w", err)
	}
	for _, sig := range sigs {
		raw, err := hex.DecodeString(sig)
		if err != nil {
			return nil, fmt.Errorf("decode signature: %w", err)
		}
		rec.Signatures = append(rec.Signatures, raw)
	}
	if err := decodeHash(row.Hash, &rec.Hash); err != nil {
		return nil, err
	}
	if err := decodeHash(row.PrevHash, &rec.PrevHash); err != nil {
		return nil, err
	}
	return rec, nil
}

func decodeHash(value string, out *[32]byte) error {
	raw, err := hex.DecodeString(value)
	if err != nil || len(raw) != len(out) {
		return fmt.Errorf("ledger: corrupt hash %q", value)
	}
	copy(out[:], raw)
	return nil
}

func (s *SQLStore) Head(ctx context.Context, linearID string) (*Record, error) {
	var row versionRow
	err := s.db.WithContext(ctx).
		Where("linear_id = ?", linearID).
		Order("sequence DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromRow(&row)
}

func (s *SQLStore) History(ctx context.Context, linearID string) ([]*Record, error) {
	var rows []versionRow
	if err := s.db.WithContext(ctx).
		Where("linear_id = ?", linearID).
		Order("sequence ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	out := make([]*Record, 0, len(rows))
	for i := range rows {
		rec, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *SQLStore) Append(ctx context.Context, rec *Record) error {
	if rec == nil || rec.LinearID == "" {
		return fmt.Errorf("ledger: record requires a linear id")
	}
	row, err := toRow(rec)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var head versionRow
		err := tx.Where("linear_id = ?", rec.LinearID).Order("sequence DESC").First(&head).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if rec.Sequence != 0 {
				return fmt.Errorf("%w: %s has no history, got sequence %d", ErrConflict, rec.LinearID, rec.Sequence)
			}
		case err != nil:
			return err
		case rec.Sequence != head.Sequence+1:
			return fmt.Errorf("%w: %s head is %d, got sequence %d", ErrConflict, rec.LinearID, head.Sequence, rec.Sequence)
		}
		if err := tx.Create(row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: %v", ErrConflict, err)
			}
			return err
		}
		return nil
	})
}

func (s *SQLStore) List(ctx context.Context, filter ListFilter) ([]*Record, error) {
	filter = filter.normalized()
	heads := s.db.Model(&versionRow{}).
		Select("linear_id, MAX(sequence) AS sequence, MIN(id) AS first_id").
		Group("linear_id")
	query := s.db.WithContext(ctx).
		Table("schedule_versions AS v").
		Select("v.*").
		Joins("JOIN (?) AS h ON h.linear_id = v.linear_id AND h.sequence = v.sequence", heads).
		Order("h.first_id ASC").
		Offset(filter.Offset).
		Limit(filter.Limit)
	if filter.Party != "" {
		query = query.Where("v.participants LIKE ?", "%,"+filter.Party+",%")
	}
	var rows []versionRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(rows))
	for i := range rows {
		rec, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
