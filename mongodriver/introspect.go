package mongodriver

import (
	"context"
	"reflect"
	"slices"
	"strings"

	"github.com/dosco/graphjin/aggregate/v3"
	"github.com/dosco/graphjin/aggregate/v3/stage"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// FieldInfo describes a top level field seen in sampled documents.
type FieldInfo struct {
	Name     string
	BSONType string
	IsArray  bool
	// Seen counts the sampled documents holding the field.
	Seen int
}

// SampleFields draws up to size random documents from collection with a
// $sample stage and reports the fields found, ordered by name.
func (c *Conn) SampleFields(ctx context.Context, collection string, size int) ([]FieldInfo, error) {
	req, err := c.compiler.Request(aggregate.New(collection, stage.SampleOf(size)))
	if err != nil {
		return nil, err
	}
	docs, err := c.collect(ctx, req)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]FieldInfo)
	for _, doc := range docs {
		var d bson.D
		if err := bson.Unmarshal(doc, &d); err != nil {
			continue
		}
		for _, e := range d {
			fi, ok := fields[e.Key]
			if !ok {
				bt := inferBSONType(e.Value)
				fi = FieldInfo{Name: e.Key, BSONType: bt, IsArray: bt == "array"}
			}
			fi.Seen++
			fields[e.Key] = fi
		}
	}

	out := make([]FieldInfo, 0, len(fields))
	for _, fi := range fields {
		out = append(out, fi)
	}
	slices.SortFunc(out, func(a, b FieldInfo) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

// inferBSONType names the BSON type of a decoded value.
func inferBSONType(v any) string {
	if v == nil {
		return "null"
	}

	switch val := v.(type) {
	case bson.ObjectID:
		return "objectId"
	case string:
		return "string"
	case int32:
		return "int"
	case int, int64:
		return "long"
	case float32, float64:
		return "double"
	case bson.Decimal128:
		return "decimal"
	case bool:
		return "bool"
	case bson.DateTime:
		return "date"
	case bson.A, []any:
		return "array"
	case bson.D:
		if isGeoJSON(val) {
			return "geojson"
		}
		return "object"
	case bson.M, map[string]any:
		return "object"
	case bson.Binary:
		return "binData"
	default:
		rt := reflect.TypeOf(val)
		if rt.Kind() == reflect.Slice {
			return "array"
		}
		if rt.Kind() == reflect.Map || rt.Kind() == reflect.Struct {
			return "object"
		}
		return "unknown"
	}
}

var geoJSONTypes = map[string]bool{
	"Point":              true,
	"LineString":         true,
	"Polygon":            true,
	"MultiPoint":         true,
	"MultiLineString":    true,
	"MultiPolygon":       true,
	"GeometryCollection": true,
}

// isGeoJSON reports whether d looks like a GeoJSON geometry.
func isGeoJSON(d bson.D) bool {
	var typ string
	var hasCoords bool
	for _, e := range d {
		switch e.Key {
		case "type":
			typ, _ = e.Value.(string)
		case "coordinates", "geometries":
			hasCoords = true
		}
	}
	return hasCoords && geoJSONTypes[typ]
}
