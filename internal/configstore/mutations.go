package configstore

import (
	"fmt"

	"github.com/thatsimonsguy/plc-dashboard/internal/model"
)

func (s *Store) UpdateControllerSettings(settings model.ControllerSettings) error {
	return s.UpdateSettings(settings, nil)
}

// UpdateSettings stores the controller settings and, when pin is non-nil,
// the settings PIN in one save.
func (s *Store) UpdateSettings(settings model.ControllerSettings, pin *string) error {
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	_, err := s.mutate(func(doc *model.Document) (bool, error) {
		doc.PlcConfiguration = settings
		if pin != nil {
			doc.SettingsPIN = *pin
		}
		return true, nil
	})
	return err
}

// SetSettingsPIN stores the PIN exactly as given.
func (s *Store) SetSettingsPIN(pin string) error {
	_, err := s.mutate(func(doc *model.Document) (bool, error) {
		doc.SettingsPIN = pin
		return true, nil
	})
	return err
}

func canonicalDataPoint(dp model.DataPoint) (model.DataPoint, error) {
	t, err := model.ParseDataType(string(dp.DataType))
	if err != nil {
		return dp, fmt.Errorf("%w: %v", ErrInvalidDataType, err)
	}
	dp.DataType = t
	return dp, nil
}

// AddDataPoint appends dp, assigning an id when it has none, and returns the
// stored copy.
func (s *Store) AddDataPoint(dp model.DataPoint) (model.DataPoint, error) {
	dp, err := canonicalDataPoint(dp)
	if err != nil {
		return dp, err
	}
	if dp.ID == "" {
		dp.ID = newID()
	}
	_, err = s.mutate(func(doc *model.Document) (bool, error) {
		for _, existing := range doc.DataPoints {
			if existing.ID == dp.ID {
				return false, fmt.Errorf("%w: data point %s", ErrDuplicateID, dp.ID)
			}
		}
		doc.DataPoints = append(doc.DataPoints, dp)
		return true, nil
	})
	return dp, err
}

// UpdateDataPoint replaces the data point with the same id. Unknown ids are
// ignored and reported as false.
func (s *Store) UpdateDataPoint(dp model.DataPoint) (bool, error) {
	dp, err := canonicalDataPoint(dp)
	if err != nil {
		return false, err
	}
	return s.mutate(func(doc *model.Document) (bool, error) {
		for i := range doc.DataPoints {
			if doc.DataPoints[i].ID == dp.ID {
				doc.DataPoints[i] = dp
				return true, nil
			}
		}
		return false, nil
	})
}

// DeleteDataPoint removes the data point and every tile bound to it, on all
// dashboards, in one save. The document is saved even when id is unknown;
// the result reports whether anything was removed.
func (s *Store) DeleteDataPoint(id string) (bool, error) {
	removed := false
	_, err := s.mutate(func(doc *model.Document) (bool, error) {
		kept := doc.DataPoints[:0]
		for _, dp := range doc.DataPoints {
			if dp.ID == id {
				removed = true
				continue
			}
			kept = append(kept, dp)
		}
		doc.DataPoints = kept

		for i := range doc.Dashboards {
			tiles := doc.Dashboards[i].Tiles[:0]
			for _, t := range doc.Dashboards[i].Tiles {
				if t.DataPointID == id {
					removed = true
					continue
				}
				tiles = append(tiles, t)
			}
			doc.Dashboards[i].Tiles = tiles
		}
		return true, nil
	})
	return removed, err
}

// prepareDashboard assigns missing tile ids and validates geometry. Tile
// references to data points are not checked; dangling ones are allowed.
func prepareDashboard(d model.Dashboard) (model.Dashboard, error) {
	d = d.Clone()
	seen := make(map[string]bool, len(d.Tiles))
	for i := range d.Tiles {
		t := &d.Tiles[i]
		if t.ID == "" {
			t.ID = newID()
		}
		if seen[t.ID] {
			return d, fmt.Errorf("%w: tile %s", ErrDuplicateID, t.ID)
		}
		seen[t.ID] = true
		if err := t.Validate(); err != nil {
			return d, fmt.Errorf("%w: %v", ErrInvalidTile, err)
		}
	}
	return d, nil
}

// tileConflict returns the first tile id of d already used by another
// dashboard in doc.
func tileConflict(doc *model.Document, d model.Dashboard) (string, bool) {
	used := map[string]bool{}
	for _, other := range doc.Dashboards {
		if other.ID == d.ID {
			continue
		}
		for _, t := range other.Tiles {
			used[t.ID] = true
		}
	}
	for _, t := range d.Tiles {
		if used[t.ID] {
			return t.ID, true
		}
	}
	return "", false
}

func (s *Store) AddDashboard(d model.Dashboard) (model.Dashboard, error) {
	if d.ID == "" {
		d.ID = newID()
	}
	d, err := prepareDashboard(d)
	if err != nil {
		return d, err
	}
	_, err = s.mutate(func(doc *model.Document) (bool, error) {
		for _, existing := range doc.Dashboards {
			if existing.ID == d.ID {
				return false, fmt.Errorf("%w: dashboard %s", ErrDuplicateID, d.ID)
			}
		}
		if id, ok := tileConflict(doc, d); ok {
			return false, fmt.Errorf("%w: tile %s", ErrDuplicateID, id)
		}
		doc.Dashboards = append(doc.Dashboards, d)
		return true, nil
	})
	return d.Clone(), err
}

// UpdateDashboard replaces the dashboard with the same id, tiles included.
// Unknown ids are ignored and reported as false.
func (s *Store) UpdateDashboard(d model.Dashboard) (bool, error) {
	d, err := prepareDashboard(d)
	if err != nil {
		return false, err
	}
	return s.mutate(func(doc *model.Document) (bool, error) {
		if id, ok := tileConflict(doc, d); ok {
			return false, fmt.Errorf("%w: tile %s", ErrDuplicateID, id)
		}
		for i := range doc.Dashboards {
			if doc.Dashboards[i].ID == d.ID {
				doc.Dashboards[i] = d
				return true, nil
			}
		}
		return false, nil
	})
}

// DeleteDashboard refuses to remove the last dashboard and reports false.
func (s *Store) DeleteDashboard(id string) (bool, error) {
	return s.mutate(func(doc *model.Document) (bool, error) {
		if len(doc.Dashboards) <= 1 {
			return false, nil
		}
		for i := range doc.Dashboards {
			if doc.Dashboards[i].ID == id {
				doc.Dashboards = append(doc.Dashboards[:i], doc.Dashboards[i+1:]...)
				return true, nil
			}
		}
		return false, nil
	})
}
