package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func TestTableViewLifecycle(t *testing.T) {
	s := newTestService(t, newFakeRemote())
	ctx := context.Background()

	created, err := s.CreateTableView(ctx, TableView{
		FormID:           "form-1",
		Name:             "Open items",
		ColumnOrder:      []string{"f2", "f1"},
		ColumnSizing:     map[string]int{"f1": 120},
		ColumnVisibility: map[string]bool{"f3": false},
		SortField:        strPtr("f2"),
		SortReverse:      boolPtr(true),
	}, "ada", "Ada")
	require.NoError(t, err)
	require.NotNil(t, created.ID)
	assert.Equal(t, "ada", *created.OwnerID)

	got, err := s.GetTableView(ctx, *created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Open items", got.Name)
	assert.Equal(t, []string{"f2", "f1"}, got.ColumnOrder)
	assert.Equal(t, map[string]int{"f1": 120}, got.ColumnSizing)
	assert.Equal(t, map[string]bool{"f3": false}, got.ColumnVisibility)
	assert.Equal(t, "f2", *got.SortField)
	assert.True(t, *got.SortReverse)
	assert.False(t, *got.IsGlobal)

	updated, err := s.UpdateTableView(ctx, *created.ID, TableView{Name: "Renamed", ColumnOrder: []string{"f1"}}, "ada")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, []string{"f1"}, updated.ColumnOrder)
	assert.Equal(t, map[string]int{"f1": 120}, updated.ColumnSizing, "untouched columns are kept")

	require.NoError(t, s.DeleteTableView(ctx, *created.ID, "ada"))
	_, err = s.GetTableView(ctx, *created.ID)
	assert.Equal(t, ErrNotFound, KindOf(err))

	views, err := s.ListTableViews(ctx, "form-1", "ada", true)
	require.NoError(t, err)
	assert.Empty(t, views)
}

func TestTableViewOwnership(t *testing.T) {
	s := newTestService(t, newFakeRemote())
	ctx := context.Background()

	private, err := s.CreateTableView(ctx, TableView{FormID: "form-1", Name: "Mine"}, "ada", "Ada")
	require.NoError(t, err)
	shared, err := s.CreateTableView(ctx, TableView{FormID: "form-1", Name: "Team", IsGlobal: boolPtr(true)}, "ada", "Ada")
	require.NoError(t, err)
	_, err = s.CreateTableView(ctx, TableView{FormID: "form-2", Name: "Elsewhere"}, "ada", "Ada")
	require.NoError(t, err)

	_, err = s.UpdateTableView(ctx, *private.ID, TableView{Name: "Hijack"}, "bob")
	assert.Equal(t, ErrPermission, KindOf(err))
	assert.Equal(t, ErrPermission, KindOf(s.DeleteTableView(ctx, *private.ID, "bob")))
	assert.Equal(t, ErrPermission, KindOf(s.DeleteTableView(ctx, *shared.ID, "bob")))

	tuned, err := s.UpdateTableView(ctx, *shared.ID, TableView{SortField: strPtr("f1")}, "bob")
	require.NoError(t, err)
	assert.Equal(t, "f1", *tuned.SortField)

	bobs, err := s.ListTableViews(ctx, "form-1", "bob", true)
	require.NoError(t, err)
	require.Len(t, bobs, 1)
	assert.Equal(t, "Team", bobs[0].Name)

	bobsOwn, err := s.ListTableViews(ctx, "form-1", "bob", false)
	require.NoError(t, err)
	assert.Empty(t, bobsOwn)

	adas, err := s.ListTableViews(ctx, "", "ada", false)
	require.NoError(t, err)
	assert.Len(t, adas, 3)
}

func TestSQLFieldCacheUpserts(t *testing.T) {
	s := newTestService(t, newFakeRemote())
	cache := newSQLFieldCache(s.db, s.config.DBEngine)
	ctx := context.Background()

	_, ok, err := cache.Get(ctx, "field:anon:f1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, "field:anon:f1", "first"))
	require.NoError(t, cache.Set(ctx, "field:anon:f1", "second"))

	v, ok, err := cache.Get(ctx, "field:anon:f1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "second", v)
}

func TestMigrateIsRepeatable(t *testing.T) {
	s := newTestService(t, newFakeRemote())
	require.NoError(t, s.migrate())
}
