package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
    CREATE TABLE IF NOT EXISTS model_store (
        key TEXT PRIMARY KEY,
        payload BLOB NOT NULL,
        updated_at DATETIME NOT NULL
    );
    CREATE TABLE IF NOT EXISTS training_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        model_name VARCHAR(50),
        epochs INTEGER,
        loss REAL,
        accuracy REAL,
        precision REAL,
        recall REAL,
        data_points INTEGER,
        trained_at DATETIME
    );
    CREATE TABLE IF NOT EXISTS predictions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        probability REAL NOT NULL,
        created_at DATETIME NOT NULL
    );
    `

// Store is the local SQLite database holding the saved model, the training
// history and the prediction history.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path required")
	}
	database, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer at a time
	database.SetMaxOpenConns(1)

	if _, err := database.Exec(schema); err != nil {
		database.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: database}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// PutModel stores payload under key, replacing any previous entry.
func (s *Store) PutModel(ctx context.Context, key string, payload []byte) error {
	if key == "" {
		return errors.New("model key required")
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO model_store (key, payload, updated_at)
        VALUES (?, ?, ?)
        ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		key, payload, time.Now().UTC())
	return err
}

// GetModel returns the payload stored under key. found is false, with a nil
// error, when nothing was ever saved.
func (s *Store) GetModel(ctx context.Context, key string) (payload []byte, found bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT payload FROM model_store WHERE key = ?`, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

type TrainingLog struct {
	ModelName  string    `json:"model_name"`
	Epochs     int       `json:"epochs"`
	Loss       float64   `json:"loss"`
	Accuracy   float64   `json:"accuracy"`
	Precision  float64   `json:"precision"`
	Recall     float64   `json:"recall"`
	DataPoints int       `json:"data_points"`
	TrainedAt  time.Time `json:"trained_at"`
}

func (s *Store) SaveTrainingLog(ctx context.Context, log TrainingLog) error {
	if log.TrainedAt.IsZero() {
		log.TrainedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO training_log (model_name, epochs, loss, accuracy, precision, recall, data_points, trained_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ModelName, log.Epochs, log.Loss, log.Accuracy, log.Precision, log.Recall, log.DataPoints, log.TrainedAt)
	return err
}

// LoadTrainingLog returns up to limit rows, newest first. limit <= 0 means all.
func (s *Store) LoadTrainingLog(ctx context.Context, limit int) ([]TrainingLog, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT model_name, epochs, loss, accuracy, precision, recall, data_points, trained_at
        FROM training_log
        ORDER BY trained_at DESC, id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]TrainingLog, 0)
	for rows.Next() {
		var log TrainingLog
		if err := rows.Scan(&log.ModelName, &log.Epochs, &log.Loss, &log.Accuracy, &log.Precision,
			&log.Recall, &log.DataPoints, &log.TrainedAt); err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

type Prediction struct {
	Probability float64   `json:"probability"`
	CreatedAt   time.Time `json:"created_at"`
}

func (s *Store) SavePrediction(ctx context.Context, probability float64) error {
	if probability < 0 || probability > 1 {
		return fmt.Errorf("probability %v out of range", probability)
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO predictions (probability, created_at) VALUES (?, ?)`,
		probability, time.Now().UTC())
	return err
}

// LoadPredictions returns up to limit predictions, newest first.
func (s *Store) LoadPredictions(ctx context.Context, limit int) ([]Prediction, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT probability, created_at FROM predictions
        ORDER BY created_at DESC, id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	predictions := make([]Prediction, 0)
	for rows.Next() {
		var p Prediction
		if err := rows.Scan(&p.Probability, &p.CreatedAt); err != nil {
			return nil, err
		}
		predictions = append(predictions, p)
	}
	return predictions, rows.Err()
}
