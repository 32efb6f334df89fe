package measurement

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Archive is the Postgres-backed seed source and mirror for the
// in-memory store. It presents the synchronous append/query/delete
// contract the core expects from a persistence adapter; the store never
// reads through it at query time.
type Archive struct {
	db *gorm.DB
}

func NewArchive(db *gorm.DB) *Archive {
	return &Archive{db: db}
}

type measurementModel struct {
	ID              uint           `gorm:"primaryKey;autoIncrement;column:id"`
	Patient         string         `gorm:"column:patient;index:idx_measurement_fact"`
	Code            string         `gorm:"column:code;index:idx_measurement_fact"`
	Value           string         `gorm:"column:value"`
	Unit            string         `gorm:"column:unit"`
	ValidTime       time.Time      `gorm:"column:valid_time;index:idx_measurement_fact"`
	TransactionTime time.Time      `gorm:"column:transaction_time"`
	Attributes      datatypes.JSON `gorm:"column:attributes"`
	CreatedAt       time.Time      `gorm:"column:created_at"`
}

func (measurementModel) TableName() string { return "measurements" }

func (a *Archive) AutoMigrate() error {
	return a.db.AutoMigrate(&measurementModel{})
}

// LoadAll reads the full seed set in (transaction time, id) order so the
// store's insertion sequence reproduces the original recording order.
func (a *Archive) LoadAll(ctx context.Context) ([]Record, error) {
	var rows []measurementModel
	if err := a.db.WithContext(ctx).
		Order("transaction_time asc, id asc").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toRecord())
	}
	return records, nil
}

func (a *Archive) Append(ctx context.Context, r Record) error {
	row := measurementModel{
		Patient:         r.Patient,
		Code:            r.Code,
		Value:           r.Value,
		Unit:            r.Unit,
		ValidTime:       r.ValidTime,
		TransactionTime: r.TransactionTime,
	}
	if len(r.Metadata) > 0 {
		if payload, err := json.Marshal(r.Metadata); err == nil {
			row.Attributes = datatypes.JSON(payload)
		}
	}
	return a.db.WithContext(ctx).Create(&row).Error
}

// DeleteHour mirrors a hard delete: every archived row for the fact
// whose valid time falls in [start of hour, end of hour] is removed.
func (a *Archive) DeleteHour(ctx context.Context, patient, code string, day time.Time, hour int) error {
	start := time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, day.Location())
	end := start.Add(time.Hour)
	return a.db.WithContext(ctx).
		Where("lower(patient) = lower(?) AND code = ? AND valid_time >= ? AND valid_time < ?",
			patient, code, start, end).
		Delete(&measurementModel{}).Error
}

func (m measurementModel) toRecord() Record {
	r := Record{
		Patient:         m.Patient,
		Code:            m.Code,
		Value:           m.Value,
		Unit:            m.Unit,
		ValidTime:       m.ValidTime,
		TransactionTime: m.TransactionTime,
	}
	if len(m.Attributes) > 0 {
		var meta map[string]string
		if err := json.Unmarshal(m.Attributes, &meta); err == nil {
			r.Metadata = meta
		}
	}
	return r
}
