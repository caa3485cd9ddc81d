package model

import (
	"fmt"
	"strings"
	"time"
)

type DataType string

const (
	DataTypeReal DataType = "Real" // 4-byte float
	DataTypeInt  DataType = "Int"  // 2-byte signed
	DataTypeDInt DataType = "DInt" // 4-byte signed
	DataTypeBool DataType = "Bool" // bit 0 of the start byte
)

// ParseDataType accepts any casing ("real", "DINT") and returns the canonical form.
func ParseDataType(s string) (DataType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "real":
		return DataTypeReal, nil
	case "int":
		return DataTypeInt, nil
	case "dint":
		return DataTypeDInt, nil
	case "bool":
		return DataTypeBool, nil
	}
	return "", fmt.Errorf("unknown data type %q", s)
}

func (t DataType) Valid() bool {
	_, err := ParseDataType(string(t))
	return err == nil
}

type ControllerSettings struct {
	IPAddress         string `json:"ipAddress"`
	Rack              int    `json:"rack"`
	Slot              int    `json:"slot"`
	PollingIntervalMs int    `json:"pollingIntervalMs"`
}

func DefaultControllerSettings() ControllerSettings {
	return ControllerSettings{
		IPAddress:         "192.168.0.1",
		Rack:              0,
		Slot:              1,
		PollingIntervalMs: 1000,
	}
}

func (s ControllerSettings) PollingInterval() time.Duration {
	return time.Duration(s.PollingIntervalMs) * time.Millisecond
}

func (s ControllerSettings) Validate() error {
	if s.PollingIntervalMs <= 0 {
		return fmt.Errorf("polling interval must be positive, got %d ms", s.PollingIntervalMs)
	}
	if s.Rack < 0 || s.Slot < 0 {
		return fmt.Errorf("rack and slot must not be negative (rack=%d slot=%d)", s.Rack, s.Slot)
	}
	return nil
}

type DataPoint struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	DBNumber      int      `json:"dbNumber"`
	StartByte     int      `json:"startByte"`
	DataType      DataType `json:"dataType"`
	Unit          string   `json:"unit"`
	ScaleFactor   float64  `json:"scaleFactor"`
	Offset        float64  `json:"offset"`
	DecimalPlaces int      `json:"decimalPlaces"`
}

func NewDataPoint() DataPoint {
	return DataPoint{
		DataType:      DataTypeReal,
		ScaleFactor:   1.0,
		Offset:        0.0,
		DecimalPlaces: 2,
	}
}

// FormatValue renders an engineering value the way tiles show it.
func (dp DataPoint) FormatValue(v *float64) string {
	if v == nil {
		return "--"
	}
	places := dp.DecimalPlaces
	if places < 0 {
		places = 0
	}
	s := fmt.Sprintf("%.*f", places, *v)
	if dp.Unit != "" {
		s += " " + dp.Unit
	}
	return s
}

type Tile struct {
	ID              string `json:"id"`
	DataPointID     string `json:"dataPointId"`
	PositionX       int    `json:"positionX"`
	PositionY       int    `json:"positionY"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	TitleFontSize   int    `json:"titleFontSize"`
	ValueFontSize   int    `json:"valueFontSize"`
	BackgroundColor string `json:"backgroundColor"`
	TextColor       string `json:"textColor"`

	UseThresholdColors bool     `json:"useThresholdColors"`
	LowerThreshold     *float64 `json:"lowerThreshold"`
	UpperThreshold     *float64 `json:"upperThreshold"`
	ColorBelowLower    string   `json:"colorBelowLower"`
	ColorInRange       string   `json:"colorInRange"`
	ColorAboveUpper    string   `json:"colorAboveUpper"`
}

func NewTile() Tile {
	return Tile{
		PositionX:       1,
		PositionY:       1,
		Width:           1,
		Height:          1,
		TitleFontSize:   16,
		ValueFontSize:   32,
		BackgroundColor: "#2196F3",
		TextColor:       "#FFFFFF",
		ColorBelowLower: "#2196F3",
		ColorInRange:    "#4CAF50",
		ColorAboveUpper: "#F44336",
	}
}

// ColorFor picks the background colour for the current value. A missing
// threshold leaves that side unbounded.
func (t Tile) ColorFor(v *float64) string {
	if !t.UseThresholdColors || v == nil {
		return t.BackgroundColor
	}
	if t.LowerThreshold != nil && *v < *t.LowerThreshold {
		return t.ColorBelowLower
	}
	if t.UpperThreshold != nil && *v > *t.UpperThreshold {
		return t.ColorAboveUpper
	}
	return t.ColorInRange
}

func (t Tile) Validate() error {
	if t.PositionX < 1 || t.PositionY < 1 {
		return fmt.Errorf("tile %s: position must be >= 1 (x=%d y=%d)", t.ID, t.PositionX, t.PositionY)
	}
	if t.Width < 1 || t.Height < 1 {
		return fmt.Errorf("tile %s: span must be >= 1 (w=%d h=%d)", t.ID, t.Width, t.Height)
	}
	return nil
}

const (
	DefaultDashboardID   = "default"
	DefaultDashboardName = "Haupt-Dashboard"
	DefaultGridColumns   = 4
	DefaultGridRows      = 3
)

type Dashboard struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	GridColumns int    `json:"gridColumns"`
	GridRows    int    `json:"gridRows"`
	Tiles       []Tile `json:"tiles"`
}

func NewDashboard() Dashboard {
	return Dashboard{
		Name:        "Neues Dashboard",
		GridColumns: DefaultGridColumns,
		GridRows:    DefaultGridRows,
		Tiles:       []Tile{},
	}
}

func (d Dashboard) Clone() Dashboard {
	out := d
	out.Tiles = make([]Tile, len(d.Tiles))
	for i, t := range d.Tiles {
		out.Tiles[i] = t.clone()
	}
	return out
}

func (t Tile) clone() Tile {
	out := t
	if t.LowerThreshold != nil {
		v := *t.LowerThreshold
		out.LowerThreshold = &v
	}
	if t.UpperThreshold != nil {
		v := *t.UpperThreshold
		out.UpperThreshold = &v
	}
	return out
}

// CurrentSchemaVersion is the document shape written by Save. Version 1
// documents carry a flat tile list instead of dashboards.
const CurrentSchemaVersion = 2

type Document struct {
	SchemaVersion    int                `json:"schemaVersion"`
	PlcConfiguration ControllerSettings `json:"plcConfiguration"`
	DataPoints       []DataPoint        `json:"dataPoints"`
	Dashboards       []Dashboard        `json:"dashboards"`
	SettingsPIN      string             `json:"settingsPin,omitempty"`

	// legacy, read only for migration
	Tiles       []Tile `json:"tiles,omitempty"`
	GridColumns *int   `json:"gridColumns,omitempty"`
	GridRows    *int   `json:"gridRows,omitempty"`
}

func (d *Document) ClearLegacy() {
	d.Tiles = nil
	d.GridColumns = nil
	d.GridRows = nil
}

func (d *Document) Clone() *Document {
	out := *d
	out.DataPoints = append([]DataPoint{}, d.DataPoints...)
	out.Dashboards = make([]Dashboard, len(d.Dashboards))
	for i, db := range d.Dashboards {
		out.Dashboards[i] = db.Clone()
	}
	if d.Tiles != nil {
		out.Tiles = make([]Tile, len(d.Tiles))
		for i, t := range d.Tiles {
			out.Tiles[i] = t.clone()
		}
	}
	if d.GridColumns != nil {
		v := *d.GridColumns
		out.GridColumns = &v
	}
	if d.GridRows != nil {
		v := *d.GridRows
		out.GridRows = &v
	}
	return &out
}

// DefaultDocument is written on first start when no document exists.
func DefaultDocument() *Document {
	temp := NewDataPoint()
	temp.ID = "dp1"
	temp.Name = "Temperatur"
	temp.DBNumber = 1
	temp.StartByte = 0
	temp.Unit = "°C"
	temp.DecimalPlaces = 1

	pressure := NewDataPoint()
	pressure.ID = "dp2"
	pressure.Name = "Druck"
	pressure.DBNumber = 1
	pressure.StartByte = 4
	pressure.Unit = "bar"
	pressure.DecimalPlaces = 2

	tile1 := NewTile()
	tile1.ID = "tile1"
	tile1.DataPointID = temp.ID

	tile2 := NewTile()
	tile2.ID = "tile2"
	tile2.DataPointID = pressure.ID
	tile2.PositionX = 2
	tile2.BackgroundColor = "#4CAF50"

	return &Document{
		SchemaVersion:    CurrentSchemaVersion,
		PlcConfiguration: DefaultControllerSettings(),
		DataPoints:       []DataPoint{temp, pressure},
		Dashboards: []Dashboard{{
			ID:          DefaultDashboardID,
			Name:        DefaultDashboardName,
			GridColumns: DefaultGridColumns,
			GridRows:    DefaultGridRows,
			Tiles:       []Tile{tile1, tile2},
		}},
	}
}
