package repository

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"crossarb/internal/models"
)

// Ошибки репозитория черного списка путей
var (
	ErrPathNotFound = errors.New("path blacklist entry not found")
	ErrPathExists   = errors.New("path already blacklisted")
)

// PathBlacklistRepository - работа с таблицей path_blacklist
//
// Путь идентифицируется четвёркой (asset, from_venue, to_venue,
// network); на ней в схеме стоит UNIQUE constraint.
type PathBlacklistRepository struct {
	db *sql.DB
}

// NewPathBlacklistRepository создает новый экземпляр репозитория
func NewPathBlacklistRepository(db *sql.DB) *PathBlacklistRepository {
	return &PathBlacklistRepository{db: db}
}

// Create добавляет путь в черный список
func (r *PathBlacklistRepository) Create(entry *models.PathBlacklistEntry) error {
	query := `
		INSERT INTO path_blacklist (asset, from_venue, to_venue, network, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	entry.CreatedAt = time.Now()

	err := r.db.QueryRow(
		query,
		strings.ToUpper(entry.Asset), // Приводим к верхнему регистру для консистентности
		entry.FromVenue,
		entry.ToVenue,
		entry.Network,
		entry.Reason,
		entry.CreatedAt,
	).Scan(&entry.ID)

	if err != nil {
		if isPathUniqueViolation(err) {
			return ErrPathExists
		}
		return err
	}

	return nil
}

// GetAll возвращает весь черный список путей
func (r *PathBlacklistRepository) GetAll() ([]*models.PathBlacklistEntry, error) {
	query := `
		SELECT id, asset, from_venue, to_venue, network, reason, created_at
		FROM path_blacklist
		ORDER BY created_at DESC`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.PathBlacklistEntry
	for rows.Next() {
		entry := &models.PathBlacklistEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.Asset,
			&entry.FromVenue,
			&entry.ToVenue,
			&entry.Network,
			&entry.Reason,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

// GetByID возвращает запись по ID
func (r *PathBlacklistRepository) GetByID(id int64) (*models.PathBlacklistEntry, error) {
	query := `
		SELECT id, asset, from_venue, to_venue, network, reason, created_at
		FROM path_blacklist
		WHERE id = $1`

	entry := &models.PathBlacklistEntry{}
	err := r.db.QueryRow(query, id).Scan(
		&entry.ID,
		&entry.Asset,
		&entry.FromVenue,
		&entry.ToVenue,
		&entry.Network,
		&entry.Reason,
		&entry.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPathNotFound
		}
		return nil, err
	}

	return entry, nil
}

// DeleteByID удаляет запись по ID
func (r *PathBlacklistRepository) DeleteByID(id int64) error {
	query := `DELETE FROM path_blacklist WHERE id = $1`

	result, err := r.db.Exec(query, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrPathNotFound
	}

	return nil
}

// Delete удаляет путь по четвёрке полей
func (r *PathBlacklistRepository) Delete(asset, fromVenue, toVenue, network string) error {
	query := `
		DELETE FROM path_blacklist
		WHERE asset = $1 AND from_venue = $2 AND to_venue = $3 AND network = $4`

	result, err := r.db.Exec(query, strings.ToUpper(asset), fromVenue, toVenue, network)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrPathNotFound
	}

	return nil
}

// Exists проверяет наличие пути в черном списке
func (r *PathBlacklistRepository) Exists(asset, fromVenue, toVenue, network string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM path_blacklist WHERE asset = $1 AND from_venue = $2 AND to_venue = $3 AND network = $4)`

	var exists bool
	err := r.db.QueryRow(query, strings.ToUpper(asset), fromVenue, toVenue, network).Scan(&exists)
	if err != nil {
		return false, err
	}

	return exists, nil
}

// Count возвращает количество запрещённых путей
func (r *PathBlacklistRepository) Count() (int, error) {
	query := `SELECT COUNT(*) FROM path_blacklist`

	var count int
	err := r.db.QueryRow(query).Scan(&count)
	if err != nil {
		return 0, err
	}

	return count, nil
}

// isPathUniqueViolation проверяет, является ли ошибка нарушением UNIQUE constraint
func isPathUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "duplicate key") || strings.Contains(errStr, "23505")
}
