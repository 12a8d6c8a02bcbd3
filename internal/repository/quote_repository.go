package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/domain/repository"
	pkgkafka "MarketPulse/pkg/kafka"
)

const insertColumns = "(ts, symbol, price, change_percent, source)"

// ClickHouseStorage implements Storage for ClickHouse.
type ClickHouseStorage struct {
	db       *sql.DB
	database string
	table    string
	source   string
}

// NewClickHouseStorage creates ClickHouse storage. source tags every stored row.
func NewClickHouseStorage(db *sql.DB, database, table, source string) *ClickHouseStorage {
	return &ClickHouseStorage{db: db, database: database, table: table, source: source}
}

var _ repository.Storage = (*ClickHouseStorage)(nil)

// Schema returns the idempotent DDL for the quote table.
func (s *ClickHouseStorage) Schema() []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", s.database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
	ts DateTime64(3, 'UTC'),
	symbol LowCardinality(String),
	price Float64,
	change_percent Float64,
	source LowCardinality(String)
) ENGINE = ReplacingMergeTree
PARTITION BY toYYYYMM(ts)
ORDER BY (symbol, ts)`, s.database, s.table),
	}
}

func (s *ClickHouseStorage) Init(ctx context.Context) error {
	for _, stmt := range s.Schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *ClickHouseStorage) Store(ctx context.Context, u models.QuoteUpdate) error {
	return s.StoreBatch(ctx, []models.QuoteUpdate{u})
}

func (s *ClickHouseStorage) StoreBatch(ctx context.Context, updates []models.QuoteUpdate) error {
	// multi-row VALUES in chunks to bound statement size
	const chunkSize = 2000
	for start := 0; start < len(updates); start += chunkSize {
		end := start + chunkSize
		if end > len(updates) {
			end = len(updates)
		}

		rows := 0
		args := make([]interface{}, 0, (end-start)*5)
		for _, u := range updates[start:end] {
			if u.Symbol == "" || u.ObservedAt.IsZero() {
				continue
			}
			args = append(args, u.ObservedAt.UTC(), u.Symbol, u.Quote.Price, u.Quote.ChangePercent, s.source)
			rows++
		}
		if rows == 0 {
			continue
		}
		if _, err := s.db.ExecContext(ctx, s.insertQuery(rows), args...); err != nil {
			return fmt.Errorf("clickhouse insert: %w", err)
		}
	}
	return nil
}

func (s *ClickHouseStorage) insertQuery(rows int) string {
	values := make([]string, rows)
	for i := range values {
		values[i] = "(?, ?, ?, ?, ?)"
	}
	return fmt.Sprintf("INSERT INTO %s.%s %s VALUES %s", s.database, s.table, insertColumns, strings.Join(values, ","))
}

// Query returns stored updates for symbol in [from, to], newest first.
func (s *ClickHouseStorage) Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]models.QuoteUpdate, error) {
	q := fmt.Sprintf("SELECT symbol, ts, price, change_percent FROM %s.%s WHERE symbol = ? AND ts >= ? AND ts <= ? ORDER BY ts DESC LIMIT ?", s.database, s.table)
	rows, err := s.db.QueryContext(ctx, q, symbol, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("clickhouse query: %w", err)
	}
	defer rows.Close()

	var out []models.QuoteUpdate
	for rows.Next() {
		var u models.QuoteUpdate
		if err := rows.Scan(&u.Symbol, &u.ObservedAt, &u.Quote.Price, &u.Quote.ChangePercent); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *ClickHouseStorage) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ClickHouseStorage) Close() error {
	return nil // pool owned by pkg/clickhouse.Client
}

// KafkaPublisher implements Publisher for Kafka. Messages are keyed by symbol and
// carry the push frame, so a relay instance can decode them with the stream parser.
type KafkaPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaPublisher creates Kafka publisher.
func NewKafkaPublisher(producer *pkgkafka.Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

var _ repository.Publisher = (*KafkaPublisher)(nil)

func (p *KafkaPublisher) Publish(ctx context.Context, u models.QuoteUpdate) error {
	return p.producer.Publish(ctx, p.topic, []byte(u.Symbol), models.NewStreamMessage(u))
}

func (p *KafkaPublisher) PublishBatch(ctx context.Context, updates []models.QuoteUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(updates))
	for i, u := range updates {
		msgs[i] = pkgkafka.Message{Key: []byte(u.Symbol), Value: models.NewStreamMessage(u)}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
