package models

import (
	"database/sql"
	"errors"

	"github.com/username/lavenderledger/src/database"
)

// Category is a taxonomy leaf. The base taxonomy is seeded by migration and
// rarely changes afterwards.
type Category struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	ParentCategory string `json:"parent_category,omitempty"`
	Color          string `json:"color,omitempty"`
	IsActive       bool   `json:"is_active"`
	CreatedAt      string `json:"created_at"`
}

func (c *Category) Create(db *sql.DB) error {
	res, err := db.Exec(`
	INSERT INTO categories (name, parent_category, color, is_active)
	VALUES (?, ?, ?, 1)`,
		c.Name, nullableString(c.ParentCategory), nullableString(c.Color))
	if err != nil {
		return database.TranslateError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	c.ID = id
	c.IsActive = true
	return nil
}

func GetCategoryByName(db *sql.DB, name string) (*Category, error) {
	row := db.QueryRow(`
	SELECT id, name, parent_category, color, is_active, created_at
	FROM categories
	WHERE name = ?`, name)

	var c Category
	var parent, color sql.NullString
	err := row.Scan(&c.ID, &c.Name, &parent, &color, &c.IsActive, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, err
	}
	c.ParentCategory = parent.String
	c.Color = color.String
	return &c, nil
}

func ListCategories(db *sql.DB, activeOnly bool) ([]Category, error) {
	query := `
	SELECT id, name, parent_category, color, is_active, created_at
	FROM categories`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY parent_category, name`

	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := []Category{}
	for rows.Next() {
		var c Category
		var parent, color sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &parent, &color, &c.IsActive, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.ParentCategory = parent.String
		c.Color = color.String
		categories = append(categories, c)
	}
	return categories, rows.Err()
}
