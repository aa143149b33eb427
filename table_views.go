package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
)

const tableViewColumns = `id, form_id, name, description, column_order, column_sizing, column_visibility,
	sort_field, sort_reverse, is_global, owner_id, username, created, modified`

// jsonParam is the placeholder for a JSON column value.
func (s *Service) jsonParam() string {
	if isPostgres(s.config.DBEngine) {
		return "?::jsonb"
	}
	return "?"
}

// ListTableViews retrieves the saved layouts of a form visible to a user
func (s *Service) ListTableViews(ctx context.Context, formID, userID string, includeGlobal bool) ([]TableView, error) {
	where := []string{"deleted_at IS NULL"}
	var args []interface{}
	if formID != "" {
		where = append(where, "form_id = ?")
		args = append(args, formID)
	}
	if includeGlobal {
		where = append(where, "(owner_id = ? OR is_global = ?)")
		args = append(args, userID, true)
	} else {
		where = append(where, "owner_id = ?")
		args = append(args, userID)
	}
	query := fmt.Sprintf("SELECT %s FROM table_views WHERE %s ORDER BY created DESC, id DESC",
		tableViewColumns, strings.Join(where, " AND "))

	rows, err := s.db.QueryContext(ctx, rebind(s.config.DBEngine, query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query table views: %w", err)
	}
	defer rows.Close()

	views := []TableView{}
	for rows.Next() {
		view, err := scanTableView(rows)
		if err != nil {
			s.logger.Named("database").Warn("Skipping unreadable table view")
			continue
		}
		views = append(views, view)
	}
	return views, rows.Err()
}

// GetTableView retrieves a specific table view by ID
func (s *Service) GetTableView(ctx context.Context, id int) (*TableView, error) {
	query := fmt.Sprintf("SELECT %s FROM table_views WHERE id = ? AND deleted_at IS NULL", tableViewColumns)
	row := s.db.QueryRowContext(ctx, rebind(s.config.DBEngine, query), id)
	view, err := scanTableView(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NotFoundError(fmt.Sprintf("table view with id %d not found", id))
		}
		return nil, err
	}
	return &view, nil
}

// CreateTableView creates a new table view owned by userID
func (s *Service) CreateTableView(ctx context.Context, view TableView, userID, username string) (*TableView, error) {
	columnOrderJSON, _ := json.Marshal(view.ColumnOrder)
	columnSizingJSON, _ := json.Marshal(view.ColumnSizing)
	columnVisibilityJSON, _ := json.Marshal(view.ColumnVisibility)

	isGlobal := view.IsGlobal != nil && *view.IsGlobal
	sortReverse := view.SortReverse != nil && *view.SortReverse

	jp := s.jsonParam()
	insertQuery := fmt.Sprintf(`
		INSERT INTO table_views (form_id, name, description, column_order, column_sizing, column_visibility,
			sort_field, sort_reverse, is_global, owner_id, username)
		VALUES (?, ?, ?, %s, %s, %s, ?, ?, ?, ?, ?)`, jp, jp, jp)
	args := []interface{}{
		view.FormID, view.Name, view.Description, string(columnOrderJSON), string(columnSizingJSON),
		string(columnVisibilityJSON), view.SortField, sortReverse, isGlobal, userID, username,
	}

	var newID int
	var created, modified string
	if isPostgres(s.config.DBEngine) {
		query := rebind(s.config.DBEngine, insertQuery+" RETURNING id, created, modified")
		if err := s.db.QueryRowContext(ctx, query, args...).Scan(&newID, &created, &modified); err != nil {
			return nil, fmt.Errorf("failed to create table view: %w", err)
		}
	} else {
		result, err := s.db.ExecContext(ctx, insertQuery, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to create table view: %w", err)
		}
		lastID, err := result.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("failed to get last insert ID: %w", err)
		}
		newID = int(lastID)
		_ = s.db.QueryRowContext(ctx, "SELECT created, modified FROM table_views WHERE id = ?", newID).Scan(&created, &modified)
	}

	view.ID = &newID
	view.OwnerID = &userID
	view.Username = &username
	view.Created = &created
	view.Modified = &modified
	return &view, nil
}

// UpdateTableView applies the non-empty members of updates to a view
func (s *Service) UpdateTableView(ctx context.Context, id int, updates TableView, userID string) (*TableView, error) {
	existing, err := s.GetTableView(ctx, id)
	if err != nil {
		return nil, err
	}
	// Global views are shared, anyone may tune them.
	if existing.OwnerID != nil && *existing.OwnerID != userID {
		if existing.IsGlobal == nil || !*existing.IsGlobal {
			return nil, PermissionError("view belongs to another user")
		}
	}

	jp := s.jsonParam()
	var setParts []string
	var args []interface{}
	if updates.Name != "" {
		setParts = append(setParts, "name = ?")
		args = append(args, updates.Name)
	}
	if updates.Description != nil {
		setParts = append(setParts, "description = ?")
		args = append(args, *updates.Description)
	}
	if updates.ColumnOrder != nil {
		b, _ := json.Marshal(updates.ColumnOrder)
		setParts = append(setParts, "column_order = "+jp)
		args = append(args, string(b))
	}
	if updates.ColumnSizing != nil {
		b, _ := json.Marshal(updates.ColumnSizing)
		setParts = append(setParts, "column_sizing = "+jp)
		args = append(args, string(b))
	}
	if updates.ColumnVisibility != nil {
		b, _ := json.Marshal(updates.ColumnVisibility)
		setParts = append(setParts, "column_visibility = "+jp)
		args = append(args, string(b))
	}
	if updates.SortField != nil {
		setParts = append(setParts, "sort_field = ?")
		args = append(args, *updates.SortField)
	}
	if updates.SortReverse != nil {
		setParts = append(setParts, "sort_reverse = ?")
		args = append(args, *updates.SortReverse)
	}
	if updates.IsGlobal != nil {
		setParts = append(setParts, "is_global = ?")
		args = append(args, *updates.IsGlobal)
	}
	if len(setParts) == 0 {
		return existing, nil
	}
	setParts = append(setParts, "modified = CURRENT_TIMESTAMP")

	query := fmt.Sprintf("UPDATE table_views SET %s WHERE id = ?", strings.Join(setParts, ", "))
	args = append(args, id)
	if _, err := s.db.ExecContext(ctx, rebind(s.config.DBEngine, query), args...); err != nil {
		return nil, fmt.Errorf("failed to update table view: %w", err)
	}
	return s.GetTableView(ctx, id)
}

// DeleteTableView soft-deletes a table view
func (s *Service) DeleteTableView(ctx context.Context, id int, userID string) error {
	existing, err := s.GetTableView(ctx, id)
	if err != nil {
		return err
	}
	if existing.OwnerID != nil && *existing.OwnerID != userID {
		return PermissionError("view belongs to another user")
	}
	query := rebind(s.config.DBEngine, "UPDATE table_views SET deleted_at = CURRENT_TIMESTAMP WHERE id = ?")
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete table view: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTableView(row rowScanner) (TableView, error) {
	var view TableView
	var id sql.NullInt64
	var description, sortField, ownerID, username, created, modified sql.NullString
	var columnOrderJSON, columnSizingJSON, columnVisibilityJSON sql.NullString
	var isGlobal, sortReverse sql.NullBool

	if err := row.Scan(
		&id, &view.FormID, &view.Name, &description, &columnOrderJSON, &columnSizingJSON,
		&columnVisibilityJSON, &sortField, &sortReverse, &isGlobal, &ownerID, &username,
		&created, &modified,
	); err != nil {
		return view, err
	}

	if id.Valid {
		idInt := int(id.Int64)
		view.ID = &idInt
	}
	if description.Valid {
		view.Description = &description.String
	}
	if sortField.Valid {
		view.SortField = &sortField.String
	}
	if ownerID.Valid {
		view.OwnerID = &ownerID.String
	}
	if username.Valid {
		view.Username = &username.String
	}
	if created.Valid {
		view.Created = &created.String
	}
	if modified.Valid {
		view.Modified = &modified.String
	}
	if isGlobal.Valid {
		view.IsGlobal = &isGlobal.Bool
	}
	if sortReverse.Valid {
		view.SortReverse = &sortReverse.Bool
	}

	if columnOrderJSON.Valid {
		_ = json.Unmarshal([]byte(columnOrderJSON.String), &view.ColumnOrder)
	}
	if columnSizingJSON.Valid {
		_ = json.Unmarshal([]byte(columnSizingJSON.String), &view.ColumnSizing)
	}
	if columnVisibilityJSON.Valid {
		_ = json.Unmarshal([]byte(columnVisibilityJSON.String), &view.ColumnVisibility)
	}
	return view, nil
}

// HTTP Handlers for Table Views
func (s *Service) handleListTableViews(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromRequest(r)
	includeGlobal := r.URL.Query().Get("global_only") != "true"
	formID := r.URL.Query().Get("form_id")

	views, err := s.ListTableViews(r.Context(), formID, userID, includeGlobal)
	if err != nil {
		respondFailure(w, s.localizers.ForRequest(r), err, nil)
		return
	}
	respondJSON(w, http.StatusOK, TableViewListResponse{Count: len(views), Results: views})
}

func (s *Service) handleGetTableView(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid view ID")
		return
	}
	view, err := s.GetTableView(r.Context(), id)
	if err != nil {
		respondFailure(w, s.localizers.ForRequest(r), err, nil)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Service) handleCreateTableView(w http.ResponseWriter, r *http.Request) {
	var view TableView
	if err := decodeBody(r, &view); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if view.Name == "" {
		respondError(w, http.StatusBadRequest, "Name is required")
		return
	}
	if view.FormID == "" {
		respondError(w, http.StatusBadRequest, "form_id is required")
		return
	}
	if view.ColumnOrder == nil {
		view.ColumnOrder = []string{}
	}
	if view.ColumnSizing == nil {
		view.ColumnSizing = make(map[string]int)
	}
	if view.ColumnVisibility == nil {
		view.ColumnVisibility = make(map[string]bool)
	}

	created, err := s.CreateTableView(r.Context(), view, getUserIDFromRequest(r), getUsernameFromRequest(r))
	if err != nil {
		respondFailure(w, s.localizers.ForRequest(r), err, nil)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (s *Service) handleUpdateTableView(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid view ID")
		return
	}
	var updates TableView
	if err := decodeBody(r, &updates); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	updated, err := s.UpdateTableView(r.Context(), id, updates, getUserIDFromRequest(r))
	if err != nil {
		respondFailure(w, s.localizers.ForRequest(r), err, nil)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (s *Service) handleDeleteTableView(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid view ID")
		return
	}
	if err := s.DeleteTableView(r.Context(), id, getUserIDFromRequest(r)); err != nil {
		respondFailure(w, s.localizers.ForRequest(r), err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
