// Package structset implements reflection helpers over table row structs.
// Column names for CSV headers and SQL statements are derived from struct
// tags so that the row structs stay the single source of truth for the
// persisted schema.
package structset

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Get tag value of field. If tag value is "-", empty string will be returned
// If tag is empty, return name of field
func getTagValue(field reflect.StructField, tag string) string {
	if field.Tag.Get(tag) == "-" {
		return ""
	} else if field.Tag.Get(tag) == "" {
		return field.Name
	} else {
		return strings.Split(field.Tag.Get(tag), ",")[0]
	}
}

// TagValues returns all tag values in a given struct for a given tag,
// in field declaration order. Fields tagged "-" are skipped.
func TagValues(s interface{}, tag string) []string {
	v := reflect.ValueOf(s)
	typeOfS := v.Type()

	var values []string
	for i := 0; i < v.NumField(); i++ {
		if value := getTagValue(typeOfS.Field(i), tag); value != "" {
			values = append(values, value)
		}
	}
	return values
}

// TagMap returns a map of tags using keyTag as map key and valueTag as map value
func TagMap(s interface{}, keyTag string, valueTag string) map[string]string {
	v := reflect.ValueOf(s)
	typeOfS := v.Type()

	var fields = make(map[string]string)
	for i := 0; i < v.NumField(); i++ {
		if key := getTagValue(typeOfS.Field(i), keyTag); key != "" {
			fields[key] = getTagValue(typeOfS.Field(i), valueTag)
		}
	}
	return fields
}

// FieldValues returns the values of all fields carrying a non "-" value for
// tag, in field declaration order. The order matches TagValues so the two
// can be zipped into (column, value) pairs for SQL placeholders.
func FieldValues(s interface{}, tag string) []any {
	v := reflect.ValueOf(s)
	typeOfS := v.Type()

	var values []any
	for i := 0; i < v.NumField(); i++ {
		if getTagValue(typeOfS.Field(i), tag) == "" {
			continue
		}
		values = append(values, v.Field(i).Interface())
	}
	return values
}

// StringValues renders the tagged fields of a struct as strings for CSV
// records. time.Time values are rendered as RFC3339 in UTC, floats with
// enough precision to round-trip.
func StringValues(s interface{}, tag string) []string {
	var records []string
	for _, value := range FieldValues(s, tag) {
		switch v := value.(type) {
		case time.Time:
			records = append(records, v.UTC().Format(time.RFC3339))
		case float64:
			records = append(records, formatFloat(v))
		default:
			records = append(records, fmt.Sprintf("%v", v))
		}
	}
	return records
}

func formatFloat(v float64) string {
	s := strings.TrimRight(fmt.Sprintf("%.6f", v), "0")
	return strings.TrimSuffix(s, ".")
}
