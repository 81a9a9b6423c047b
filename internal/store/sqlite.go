// Package store реализует хранение сырых показаний расходомеров в SQLite
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // чистый Go-драйвер SQLite, без CGO

	"aquaflow-service/internal/models"
)

// timeLayout фиксированный формат хранения меток времени (UTC).
// Фиксированная ширина гарантирует, что лексикографический порядок
// совпадает с хронологическим при фильтрации по ts.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// schema таблица показаний и индексы
const schema = `
CREATE TABLE IF NOT EXISTS reading (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    meter_code    TEXT NOT NULL,
    flow_lpm      REAL NOT NULL,
    pressure_bar  REAL,
    temperature_c REAL,
    ts            TEXT NOT NULL,
    created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reading_meter_code ON reading(meter_code);
CREATE INDEX IF NOT EXISTS idx_reading_ts ON reading(ts DESC);
`

// Store предоставляет доступ к базе показаний
type Store struct {
	db *sql.DB
}

// Open открывает (или создает) базу SQLite по заданному пути
// и применяет схему
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// SQLite допускает одного писателя; сериализуем доступ через пул
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// InsertReading сохраняет одно показание и проставляет ему ID.
// Пустая метка времени заменяется текущим временем сервера (UTC).
func (s *Store) InsertReading(ctx context.Context, r *models.Reading) error {
	if r.TS.IsZero() {
		r.TS = time.Now().UTC()
	}
	r.TS = r.TS.UTC()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reading (meter_code, flow_lpm, pressure_bar, temperature_c, ts, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.MeterCode, r.FlowLPM, r.PressureBar, r.TemperatureC,
		r.TS.Format(timeLayout), time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get inserted id: %w", err)
	}
	r.ID = id
	return nil
}

// InsertBatch сохраняет пакет показаний в одной транзакции
func (s *Store) InsertBatch(ctx context.Context, readings []models.Reading) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO reading (meter_code, flow_lpm, pressure_bar, temperature_c, ts, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	stored := 0
	for i := range readings {
		r := &readings[i]
		if r.TS.IsZero() {
			r.TS = now
		}
		r.TS = r.TS.UTC()

		if _, err := stmt.ExecContext(ctx,
			r.MeterCode, r.FlowLPM, r.PressureBar, r.TemperatureC,
			r.TS.Format(timeLayout), now.Format(timeLayout),
		); err != nil {
			return 0, fmt.Errorf("failed to insert reading %d: %w", i, err)
		}
		stored++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit batch: %w", err)
	}
	return stored, nil
}

// Filter задает условия выборки показаний
type Filter struct {
	// MeterCode фильтр по конкретному расходомеру; пустая строка означает все
	MeterCode string
	// Since нижняя граница метки времени (включительно)
	Since time.Time
	// Limit максимум строк в выборке
	Limit int
}

// ListReadings возвращает показания по убыванию метки времени
func (s *Store) ListReadings(ctx context.Context, f Filter) ([]models.Reading, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT id, meter_code, flow_lpm, pressure_bar, temperature_c, ts FROM reading`)

	var conds []string
	var args []any
	if f.MeterCode != "" {
		conds = append(conds, "meter_code = ?")
		args = append(args, f.MeterCode)
	}
	if !f.Since.IsZero() {
		conds = append(conds, "ts >= ?")
		args = append(args, f.Since.UTC().Format(timeLayout))
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	sb.WriteString(" ORDER BY ts DESC, id DESC")
	if f.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	readings := make([]models.Reading, 0)
	for rows.Next() {
		var r models.Reading
		var ts string
		if err := rows.Scan(&r.ID, &r.MeterCode, &r.FlowLPM, &r.PressureBar, &r.TemperatureC, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		parsed, err := time.Parse(timeLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("failed to parse stored timestamp %q: %w", ts, err)
		}
		r.TS = parsed
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate readings: %w", err)
	}
	return readings, nil
}

// CountReadings возвращает количество показаний,
// опционально по одному расходомеру
func (s *Store) CountReadings(ctx context.Context, meterCode string) (int64, error) {
	query := `SELECT COUNT(id) FROM reading`
	var args []any
	if meterCode != "" {
		query += ` WHERE meter_code = ?`
		args = append(args, meterCode)
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count readings: %w", err)
	}
	return count, nil
}

// Ping проверяет доступность базы
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close закрывает базу
func (s *Store) Close() error {
	return s.db.Close()
}
