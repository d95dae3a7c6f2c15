package common

import "time"

// FieldMap names the JSON object keys a source's metadata.json body
// uses at the record level carrying one or more media filenames,
// alongside the sibling keys on that same object holding the
// timestamp/description/GPS/people data to apply to those files. Every
// internal/process/<source> package supplies its own FieldMap matching
// the field names its preprocessor counterpart writes; ExtractItems
// itself is schema-agnostic, since every source's body is some nesting
// of JSON objects and arrays (conversations of messages, posts, or a
// flat list of media records) and a record is recognized purely by
// carrying one of MediaFields.
type FieldMap struct {
	// MediaFields lists the keys (checked in order) that hold either a
	// single filename string or an array of filename strings.
	MediaFields []string
	// TimestampFields lists the keys (checked in order) that hold a
	// timestamp string parseable by ParseTimestamp.
	TimestampFields []string
	// DescriptionFields lists the keys (checked in order) that hold
	// free text to embed as the image description.
	DescriptionFields []string
	// LatitudeField/LongitudeField/AltitudeField name the keys holding
	// GPS coordinates, when the source carries any.
	LatitudeField, LongitudeField, AltitudeField string
	// PeopleField names the key holding an array of person-name
	// strings, when the source tags people.
	PeopleField string
}

// setter writes a renamed filename back into the parsed JSON tree at
// the exact slot an Item was extracted from.
type setter func(newName string)

// Extracted pairs an Item with the write-back closure that applies its
// RenamedTo to the in-memory body tree once Finalize has run.
type Extracted struct {
	Item *Item
	set  setter
}

// Apply writes RenamedTo back into the body tree this Extracted came
// from. Call after Finalize has populated every Item's RenamedTo.
func (e Extracted) Apply() {
	if e.Item.RenamedTo != "" {
		e.set(e.Item.RenamedTo)
	}
}

// ExtractItems walks a decoded metadata.json body (the any produced by
// encoding/json: nested map[string]any and []any) looking for objects
// that carry one of fm.MediaFields, and returns one Extracted per media
// filename found, each sharing the timestamp/description/GPS/people of
// the object it came from. The walk recurses into every object and
// array value regardless of whether the current object matched, since
// conversation/message/post records nest arbitrarily deep.
func ExtractItems(body any, fm FieldMap) []Extracted {
	var out []Extracted
	walkExtract(body, fm, &out)
	return out
}

func walkExtract(node any, fm FieldMap, out *[]Extracted) {
	switch v := node.(type) {
	case map[string]any:
		extractRecord(v, fm, out)
		for _, child := range v {
			walkExtract(child, fm, out)
		}
	case []any:
		for _, child := range v {
			walkExtract(child, fm, out)
		}
	}
}

func extractRecord(obj map[string]any, fm FieldMap, out *[]Extracted) {
	ts, _ := ParseTimestamp(firstString(obj, fm.TimestampFields))
	description := firstString(obj, fm.DescriptionFields)
	people := stringSlice(obj[fm.PeopleField])

	lat, lon, hasGPS := 0.0, 0.0, false
	alt, hasAlt := 0.0, false
	if fm.LatitudeField != "" && fm.LongitudeField != "" {
		if latVal, ok := asFloat(obj[fm.LatitudeField]); ok {
			if lonVal, ok := asFloat(obj[fm.LongitudeField]); ok {
				lat, lon, hasGPS = latVal, lonVal, true
				if fm.AltitudeField != "" {
					if altVal, ok := asFloat(obj[fm.AltitudeField]); ok {
						alt, hasAlt = altVal, true
					}
				}
			}
		}
	}

	for _, field := range fm.MediaFields {
		raw, ok := obj[field]
		if !ok || raw == nil {
			continue
		}
		switch mv := raw.(type) {
		case string:
			if mv == "" {
				continue
			}
			appendExtracted(out, obj, field, -1, mv, ts, description, people, hasGPS, lat, lon, hasAlt, alt)
		case []any:
			for i, elem := range mv {
				name, ok := elem.(string)
				if !ok || name == "" {
					continue
				}
				appendExtracted(out, obj, field, i, name, ts, description, people, hasGPS, lat, lon, hasAlt, alt)
			}
		}
	}
}

func appendExtracted(out *[]Extracted, obj map[string]any, field string, index int, filename string, ts time.Time, description string, people []string, hasGPS bool, lat, lon float64, hasAlt bool, alt float64) {
	item := &Item{
		Filename:    filename,
		Timestamp:   ts,
		Description: description,
		People:      people,
		HasGPS:      hasGPS,
		Latitude:    lat,
		Longitude:   lon,
		HasAltitude: hasAlt,
		Altitude:    alt,
	}
	var set setter
	if index < 0 {
		set = func(newName string) { obj[field] = newName }
	} else {
		arr := obj[field].([]any)
		set = func(newName string) { arr[index] = newName }
	}
	*out = append(*out, Extracted{Item: item, set: set})
}

func firstString(obj map[string]any, fields []string) string {
	for _, f := range fields {
		if s, ok := obj[f].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func stringSlice(raw any) []string {
	arr, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func asFloat(raw any) (float64, bool) {
	f, ok := raw.(float64)
	return f, ok
}
