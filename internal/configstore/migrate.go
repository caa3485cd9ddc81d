package configstore

import (
	"github.com/google/uuid"

	"github.com/thatsimonsguy/plc-dashboard/internal/model"
)

// upgrade brings doc to model.CurrentSchemaVersion. It reports whether the
// legacy tile list was converted or identifiers were reassigned, in which
// case the caller must persist the result right away. Running it on an
// upgraded document changes nothing.
func upgrade(doc *model.Document) (migrated bool) {
	if len(doc.Tiles) > 0 && len(doc.Dashboards) == 0 {
		cols, rows := model.DefaultGridColumns, model.DefaultGridRows
		if doc.GridColumns != nil {
			cols = *doc.GridColumns
		}
		if doc.GridRows != nil {
			rows = *doc.GridRows
		}
		doc.Dashboards = append(doc.Dashboards, model.Dashboard{
			ID:          model.DefaultDashboardID,
			Name:        model.DefaultDashboardName,
			GridColumns: cols,
			GridRows:    rows,
			Tiles:       doc.Tiles,
		})
		migrated = true
	}
	doc.ClearLegacy()

	ensureDashboard(doc)
	if normalize(doc) {
		migrated = true
	}
	doc.SchemaVersion = model.CurrentSchemaVersion
	return migrated
}

func ensureDashboard(doc *model.Document) {
	if len(doc.Dashboards) > 0 {
		return
	}
	doc.Dashboards = append(doc.Dashboards, model.Dashboard{
		ID:          model.DefaultDashboardID,
		Name:        model.DefaultDashboardName,
		GridColumns: model.DefaultGridColumns,
		GridRows:    model.DefaultGridRows,
		Tiles:       []model.Tile{},
	})
}

// normalize fills ids left empty by hand edits, gives every later duplicate
// a fresh id and canonicalises data type names. Tile ids are unique across
// all dashboards. It reports whether any id was assigned.
func normalize(doc *model.Document) (reassigned bool) {
	if doc.DataPoints == nil {
		doc.DataPoints = []model.DataPoint{}
	}
	unique := func(seen map[string]bool, id *string) {
		if *id == "" || seen[*id] {
			*id = newID()
			reassigned = true
		}
		seen[*id] = true
	}

	points := make(map[string]bool, len(doc.DataPoints))
	for i := range doc.DataPoints {
		dp := &doc.DataPoints[i]
		unique(points, &dp.ID)
		if t, err := model.ParseDataType(string(dp.DataType)); err == nil {
			dp.DataType = t
		}
	}

	dashboards := make(map[string]bool, len(doc.Dashboards))
	tiles := map[string]bool{}
	for i := range doc.Dashboards {
		d := &doc.Dashboards[i]
		unique(dashboards, &d.ID)
		if d.Tiles == nil {
			d.Tiles = []model.Tile{}
		}
		for j := range d.Tiles {
			unique(tiles, &d.Tiles[j].ID)
		}
	}
	return reassigned
}

var newID = func() string {
	return uuid.NewString()
}
